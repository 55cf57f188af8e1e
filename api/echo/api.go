// Package echo exposes the account linking HTTP surface: the popup
// redirect relay and a small REST API for the dashboard frontend.
package echo

import (
	"errors"
	"fmt"
	"html"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	apperrors "github.com/creatorlens/channellink/errors"
	"github.com/creatorlens/channellink/internal/oauthflow"
	"github.com/creatorlens/channellink/services"
)

// LinkingAPI holds the HTTP layer's dependencies.
type LinkingAPI struct {
	service *services.LinkingService
	flow    *oauthflow.Handler

	// providerOrigin is stamped onto relayed callback messages, standing in
	// for the origin the provider's redirect arrived from.
	providerOrigin string
}

// NewLinkingAPI initializes the linking API.
func NewLinkingAPI(service *services.LinkingService, flow *oauthflow.Handler, providerOrigin string) *LinkingAPI {
	return &LinkingAPI{
		service:        service,
		flow:           flow,
		providerOrigin: providerOrigin,
	}
}

// RegisterRoutes registers the linking routes.
func (a *LinkingAPI) RegisterRoutes(e *echo.Echo) {
	// The provider redirects the popup here; the handler relays the result
	// to the in-flight attempt.
	e.GET("/oauth/callback", a.CallbackHandler)

	e.POST("/api/connections", a.ConnectHandler)
	e.GET("/api/connections", a.ListHandler)
	e.GET("/api/connections/status", a.StatusHandler)
	e.GET("/api/channel/summary", a.SummaryHandler)
	e.DELETE("/api/connections/:id", a.DisconnectHandler)
	e.POST("/api/connections/:id/sync", a.SyncHandler)
	e.POST("/api/connections/abort", a.AbortHandler)
}

// CallbackHandler receives the provider redirect inside the popup and
// forwards the outcome to the waiting attempt. The response body closes
// the popup for browsers that allow it.
func (a *LinkingAPI) CallbackHandler(c echo.Context) error {
	code := c.QueryParam("code")
	state := c.QueryParam("state")
	errParam := c.QueryParam("error")

	msg := oauthflow.Message{Origin: a.providerOrigin}
	if errParam != "" {
		msg.Type = oauthflow.MessageTypeError
		msg.Error = errParam
	} else {
		msg.Type = oauthflow.MessageTypeSuccess
		msg.Code = code
		msg.State = state
	}

	if !a.flow.Deliver(msg) {
		log.Warn().Msg("authorization callback arrived with no attempt in flight")
		return c.HTML(http.StatusGone, closePage("This authorization request has expired. You can close this window."))
	}

	if errParam != "" {
		return c.HTML(http.StatusOK, closePage(fmt.Sprintf("Authorization failed: %s. You can close this window.", html.EscapeString(errParam))))
	}
	return c.HTML(http.StatusOK, closePage("Authorization complete. You can close this window."))
}

// ConnectHandler runs the full connect flow and blocks until it settles.
func (a *LinkingAPI) ConnectHandler(c echo.Context) error {
	conn, err := a.service.ConnectAccount(c.Request().Context())
	if err != nil {
		return a.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, conn)
}

// StatusHandler reports the user's connection status.
func (a *LinkingAPI) StatusHandler(c echo.Context) error {
	status, err := a.service.Status(c.Request().Context())
	if err != nil {
		return a.writeError(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

// SummaryHandler returns the dashboard summary of the linked channel.
func (a *LinkingAPI) SummaryHandler(c echo.Context) error {
	summary, err := a.service.GetChannelSummary(c.Request().Context())
	if err != nil {
		return a.writeError(c, err)
	}
	return c.JSON(http.StatusOK, summary)
}

// ListHandler returns the user's connections, newest first.
func (a *LinkingAPI) ListHandler(c echo.Context) error {
	conns, err := a.service.ListConnections(c.Request().Context(), c.QueryParam("platform"))
	if err != nil {
		return a.writeError(c, err)
	}
	return c.JSON(http.StatusOK, conns)
}

// DisconnectHandler deactivates a connection. The literal id "active"
// targets whichever connection is currently active.
func (a *LinkingAPI) DisconnectHandler(c echo.Context) error {
	id := c.Param("id")
	if id == "active" {
		id = ""
	}
	if err := a.service.DisconnectAccount(c.Request().Context(), id); err != nil {
		return a.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// SyncHandler triggers an analytics sync for a connection.
func (a *LinkingAPI) SyncHandler(c echo.Context) error {
	if err := a.service.SyncAnalytics(c.Request().Context(), c.Param("id")); err != nil {
		return a.writeError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

// AbortHandler tears down an in-flight popup attempt.
func (a *LinkingAPI) AbortHandler(c echo.Context) error {
	a.service.AbortConnect(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto HTTP statuses.
func (a *LinkingAPI) writeError(c echo.Context, err error) error {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, apperrors.ErrNotAuthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrAlreadyConnecting),
		errors.Is(err, apperrors.ErrAttemptInProgress),
		errors.Is(err, apperrors.ErrRefreshInFlight):
		status = http.StatusConflict
	case errors.Is(err, apperrors.ErrConnectionNotFound),
		errors.Is(err, apperrors.ErrNothingToDisconnect),
		errors.Is(err, apperrors.ErrTokensNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperrors.ErrPopupBlocked),
		errors.Is(err, apperrors.ErrUserAborted),
		errors.Is(err, apperrors.ErrStateMismatch),
		errors.Is(err, apperrors.ErrAuthorizationDenied):
		status = http.StatusBadRequest
	case errors.Is(err, apperrors.ErrAuthTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, apperrors.ErrReauthRequired):
		status = http.StatusForbidden
	default:
		var cfgErr *apperrors.ConfigError
		if errors.As(err, &cfgErr) {
			status = http.StatusServiceUnavailable
		}
	}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	return c.JSON(status, errorResponse{Error: err.Error()})
}

func closePage(text string) string {
	return fmt.Sprintf(
		"<!DOCTYPE html><html><body><p>%s</p><script>window.close();</script></body></html>", text)
}
