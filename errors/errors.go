// Package errors defines the error taxonomy of the account-linking core.
// Lower components return these rich errors; the linking service is the
// only layer that translates them into caller-facing outcomes.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Flow errors surfaced by the popup authorization handler.
var (
	// ErrPopupBlocked means the browser refused to open the popup window.
	// Surfaced synchronously so the UI can point at the popup blocker.
	ErrPopupBlocked = errors.New("authorization popup was blocked")

	// ErrUserAborted means the popup was closed before any result message
	// arrived.
	ErrUserAborted = errors.New("authorization popup closed by user")

	// ErrStateMismatch is a CSRF failure: a success message carried a state
	// value that does not match the one generated for the attempt. Never
	// retried automatically.
	ErrStateMismatch = errors.New("authorization state mismatch")

	// ErrAuthTimeout means the absolute popup deadline elapsed with no
	// terminal message.
	ErrAuthTimeout = errors.New("authorization timed out")

	// ErrAttemptInProgress rejects a second Authenticate call while one
	// attempt is still outstanding on the same handler.
	ErrAttemptInProgress = errors.New("authorization attempt already in progress")

	// ErrAuthorizationDenied carries the error reason posted back by the
	// authorization page (for example access_denied).
	ErrAuthorizationDenied = errors.New("authorization denied by provider")
)

// Orchestration errors.
var (
	// ErrAlreadyConnecting rejects a concurrent connect for the same user.
	ErrAlreadyConnecting = errors.New("a connection attempt is already in progress for this user")

	// ErrRefreshInFlight rejects a concurrent token refresh for the same
	// connection.
	ErrRefreshInFlight = errors.New("a token refresh is already in progress for this connection")

	// ErrNothingToDisconnect means disconnect was requested with no active
	// connection to target.
	ErrNothingToDisconnect = errors.New("no active connection to disconnect")

	// ErrReauthRequired marks a connection whose token can no longer be
	// refreshed. Terminal for that connection; the user must connect again.
	ErrReauthRequired = errors.New("connection requires re-authentication")
)

// Repository errors.
var (
	// ErrNotAuthenticated means no local user session exists for the
	// repository call.
	ErrNotAuthenticated = errors.New("user not authenticated")

	// ErrConnectionNotFound means no connection row matched the query.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrTokensNotFound means the secure vault holds no record for the
	// connection id.
	ErrTokensNotFound = errors.New("no stored tokens for connection")
)

// ConfigError reports required configuration that is missing at startup.
// The operation is never attempted.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Missing, ", "))
}

// NewConfigError creates a ConfigError for the given missing keys.
func NewConfigError(missing ...string) *ConfigError {
	return &ConfigError{Missing: missing}
}

// APIError is a non-2xx response from the authorization server or the
// platform data API. Body holds the parsed provider error payload when
// parsing succeeded.
type APIError struct {
	Message    string
	StatusCode int
	Body       map[string]any
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
	}
	return e.Message
}

// NewAPIError creates an APIError carrying the HTTP status and provider body.
func NewAPIError(message string, statusCode int, body map[string]any) *APIError {
	return &APIError{Message: message, StatusCode: statusCode, Body: body}
}

// PersistenceError wraps a failure of the underlying store. The cause is
// kept for diagnostics and is reachable through errors.Unwrap.
type PersistenceError struct {
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

// NewPersistenceError wraps err as a persistence failure of operation op.
func NewPersistenceError(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Cause: err}
}
