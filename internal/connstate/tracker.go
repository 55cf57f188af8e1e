// Package connstate holds the process-wide connection state tracker: an
// advisory single-flight guard over connect attempts per user and token
// refreshes per connection. Nothing here is ever persisted.
package connstate

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	apperrors "github.com/creatorlens/channellink/errors"
)

// safetyTTL bounds how long a flag can outlive a flow that failed to
// clear it (a crashed goroutine, a killed test). Well beyond the popup
// deadline so it never fires during a healthy flow.
const safetyTTL = 15 * time.Minute

// Tracker guards in-flight connect and refresh operations.
//
// The guard is advisory back-pressure, not a hard lock: read paths consult
// IsConnecting to mark results as provisional, and the linking service
// rejects a second concurrent connect outright.
type Tracker struct {
	mu         sync.Mutex
	connecting *ttlcache.Cache[string, struct{}]
	refreshing *ttlcache.Cache[string, struct{}]
}

// NewTracker creates a tracker with background expiry running.
func NewTracker() *Tracker {
	connecting := ttlcache.New(
		ttlcache.WithTTL[string, struct{}](safetyTTL),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	refreshing := ttlcache.New(
		ttlcache.WithTTL[string, struct{}](safetyTTL),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go connecting.Start()
	go refreshing.Start()

	return &Tracker{connecting: connecting, refreshing: refreshing}
}

// Stop halts the background expiry goroutines.
func (t *Tracker) Stop() {
	t.connecting.Stop()
	t.refreshing.Stop()
}

// IsConnecting reports whether a connect attempt is in flight for the user.
func (t *Tracker) IsConnecting(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connecting.Get(userID) != nil
}

// MarkConnecting claims the connect slot for the user. A second claim
// while one is outstanding fails with ErrAlreadyConnecting.
func (t *Tracker) MarkConnecting(userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connecting.Get(userID) != nil {
		return apperrors.ErrAlreadyConnecting
	}
	t.connecting.Set(userID, struct{}{}, safetyTTL)
	return nil
}

// Clear releases the user's connect slot. Callers run this on every exit
// path; clearing an unclaimed slot is a no-op.
func (t *Tracker) Clear(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connecting.Delete(userID)
}

// BeginRefresh claims the refresh slot for a connection so two callers
// that both notice an expired token do not race refresh calls and
// invalidate each other's tokens.
func (t *Tracker) BeginRefresh(connectionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.refreshing.Get(connectionID) != nil {
		return apperrors.ErrRefreshInFlight
	}
	t.refreshing.Set(connectionID, struct{}{}, safetyTTL)
	return nil
}

// EndRefresh releases the connection's refresh slot.
func (t *Tracker) EndRefresh(connectionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refreshing.Delete(connectionID)
}
