// Package cache provides the in-memory token vault used in tests and
// single-process development setups.
package cache

import (
	"context"
	"sync"

	"github.com/creatorlens/channellink/domain"
	apperrors "github.com/creatorlens/channellink/errors"
)

// MemoryVault implements domain.TokenVault with a plain map. Contents are
// lost on restart; production setups use the Mongo or Redis vault.
type MemoryVault struct {
	mu      sync.RWMutex
	records map[string]domain.TokenPair
}

// NewMemoryVault creates an empty vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{records: make(map[string]domain.TokenPair)}
}

// Store upserts the token pair. A pair missing the refresh token keeps the
// previously stored one.
func (v *MemoryVault) Store(_ context.Context, connectionID string, tokens *domain.TokenPair) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	merged := *tokens
	if merged.RefreshToken == "" {
		if prior, ok := v.records[connectionID]; ok {
			merged.RefreshToken = prior.RefreshToken
		}
	}
	v.records[connectionID] = merged
	return nil
}

// Get returns the stored pair or ErrTokensNotFound.
func (v *MemoryVault) Get(_ context.Context, connectionID string) (*domain.TokenPair, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	tokens, ok := v.records[connectionID]
	if !ok {
		return nil, apperrors.ErrTokensNotFound
	}
	out := tokens
	return &out, nil
}

// Delete destroys the record. Missing records are ignored.
func (v *MemoryVault) Delete(_ context.Context, connectionID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.records, connectionID)
	return nil
}

var _ domain.TokenVault = (*MemoryVault)(nil)
