// Package redis implements the token vault on Redis, for deployments that
// keep credentials out of the primary database.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/creatorlens/channellink/domain"
	apperrors "github.com/creatorlens/channellink/errors"
	"github.com/creatorlens/channellink/internal/tokencrypt"
)

// TokenVault stores sealed token records as Redis strings keyed by
// connection id. Records carry no TTL: token lifetime is the refresh
// flow's concern, not the store's.
type TokenVault struct {
	client *redis.Client
	cipher *tokencrypt.Cipher
	prefix string
}

// NewTokenVault creates a vault on the given client. prefix namespaces the
// keys, typically the application name.
func NewTokenVault(client *redis.Client, cipher *tokencrypt.Cipher, prefix string) *TokenVault {
	if prefix == "" {
		prefix = "channellink"
	}
	return &TokenVault{client: client, cipher: cipher, prefix: prefix}
}

func (v *TokenVault) key(connectionID string) string {
	return fmt.Sprintf("%s:tokens:%s", v.prefix, connectionID)
}

// Store upserts the sealed token record. A pair missing the refresh token
// keeps the previously stored one.
func (v *TokenVault) Store(ctx context.Context, connectionID string, tokens *domain.TokenPair) error {
	merged := *tokens
	if merged.RefreshToken == "" {
		if prior, err := v.Get(ctx, connectionID); err == nil {
			merged.RefreshToken = prior.RefreshToken
		}
	}

	plaintext, err := json.Marshal(&merged)
	if err != nil {
		return apperrors.NewPersistenceError("encode tokens", err)
	}
	sealed, err := v.cipher.Seal(connectionID, plaintext)
	if err != nil {
		return apperrors.NewPersistenceError("seal tokens", err)
	}

	if err := v.client.Set(ctx, v.key(connectionID), sealed, 0).Err(); err != nil {
		return apperrors.NewPersistenceError("store token record", err)
	}
	return nil
}

// Get returns the stored pair or ErrTokensNotFound.
func (v *TokenVault) Get(ctx context.Context, connectionID string) (*domain.TokenPair, error) {
	sealed, err := v.client.Get(ctx, v.key(connectionID)).Result()
	if err == redis.Nil {
		return nil, apperrors.ErrTokensNotFound
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("read token record", err)
	}

	plaintext, err := v.cipher.Open(connectionID, sealed)
	if err != nil {
		return nil, apperrors.NewPersistenceError("open token record", err)
	}
	var tokens domain.TokenPair
	if err := json.Unmarshal(plaintext, &tokens); err != nil {
		return nil, apperrors.NewPersistenceError("decode tokens", err)
	}
	return &tokens, nil
}

// Delete destroys the record. Missing records are ignored.
func (v *TokenVault) Delete(ctx context.Context, connectionID string) error {
	if err := v.client.Del(ctx, v.key(connectionID)).Err(); err != nil {
		return apperrors.NewPersistenceError("delete token record", err)
	}
	return nil
}

var _ domain.TokenVault = (*TokenVault)(nil)
