package domain

import (
	"context"
	"time"
)

// SessionProvider resolves the local user behind the current request.
// Implemented by the surrounding application's auth layer; repository
// operations fail with ErrNotAuthenticated when it yields no user.
type SessionProvider interface {
	CurrentUser(ctx context.Context) (*User, error)
}

// ConnectionRepository is the only reader/writer of persisted connections.
//
// Implementations enforce the single-active invariant: SaveNewConnection
// deactivates every prior row for the (user, platform) pair before
// inserting the new active one. A failure between the two steps may leave
// zero active rows, never two.
type ConnectionRepository interface {
	// GetActiveConnection returns the newest active connection for the
	// user and platform, or ErrConnectionNotFound.
	GetActiveConnection(ctx context.Context, userID, platform string) (*Connection, error)

	// SaveNewConnection deactivates prior rows, inserts the new active row
	// with SyncStatusPending, stores tokens in the vault keyed by the new
	// row's id, and returns the inserted row.
	SaveNewConnection(ctx context.Context, userID string, conn *Connection, tokens *TokenPair) (*Connection, error)

	// UpdateTokens replaces stored token fields for the connection. A
	// refresh without a new refresh token leaves the stored one untouched.
	UpdateTokens(ctx context.Context, connectionID string, tokens *TokenPair) error

	// Disconnect deactivates the connection, scoped by both ids so one
	// user cannot touch another user's rows.
	Disconnect(ctx context.Context, connectionID, userID string) error

	// ListConnections returns the user's connections newest-first,
	// optionally filtered by platform (empty string means all).
	ListConnections(ctx context.Context, userID, platform string) ([]*Connection, error)

	// SetSyncStatus records the sync lifecycle state and, for failures,
	// the error message.
	SetSyncStatus(ctx context.Context, connectionID string, status SyncStatus, errorMessage string) error

	// StoreAnalytics writes a completed sync snapshot onto the connection
	// and stamps last_synced_at.
	StoreAnalytics(ctx context.Context, connectionID string, snap *AnalyticsSnapshot) error

	// GetTokens reads the vault record for the connection.
	GetTokens(ctx context.Context, connectionID string) (*TokenPair, error)
}

// TokenVault is the opaque secure sub-store for token pairs, addressed
// only by connection id. Callers outside the repository never see it.
type TokenVault interface {
	// Store upserts the token pair for the connection. Absent fields in a
	// partial update keep their stored values.
	Store(ctx context.Context, connectionID string, tokens *TokenPair) error

	// Get returns the stored pair or ErrTokensNotFound.
	Get(ctx context.Context, connectionID string) (*TokenPair, error)

	// Delete destroys the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, connectionID string) error
}

// Clock abstracts time for expiry decisions so tests can pin it.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return ClockFunc(time.Now) }
