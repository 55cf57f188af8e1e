package echo

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/creatorlens/channellink/domain"
	apperrors "github.com/creatorlens/channellink/errors"
)

type userContextKey struct{}

// UserFromHeader is development middleware: it trusts the X-User-ID header
// as the session identity. Production deployments replace this with the
// surrounding application's real auth middleware.
func UserFromHeader() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if userID := c.Request().Header.Get("X-User-ID"); userID != "" {
				ctx := context.WithValue(c.Request().Context(), userContextKey{}, &domain.User{ID: userID})
				c.SetRequest(c.Request().WithContext(ctx))
			}
			return next(c)
		}
	}
}

// ContextSessions resolves the current user from the request context, as
// placed there by the auth middleware.
type ContextSessions struct{}

// CurrentUser implements domain.SessionProvider.
func (ContextSessions) CurrentUser(ctx context.Context) (*domain.User, error) {
	user, ok := ctx.Value(userContextKey{}).(*domain.User)
	if !ok || user == nil {
		return nil, apperrors.ErrNotAuthenticated
	}
	return user, nil
}
