package mongodb

import (
	"context"
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/creatorlens/channellink/domain"
	apperrors "github.com/creatorlens/channellink/errors"
	"github.com/creatorlens/channellink/internal/tokencrypt"
)

// tokenRecord is the persisted shape: one sealed blob per connection.
type tokenRecord struct {
	ConnectionID string    `bson:"_id"`
	Sealed       string    `bson:"sealed"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

// TokenVault stores token pairs encrypted at rest in its own collection,
// keyed by connection id.
type TokenVault struct {
	records *mongo.Collection
	cipher  *tokencrypt.Cipher
}

// NewTokenVault creates a vault over the given database.
func NewTokenVault(db *mongo.Database, cipher *tokencrypt.Cipher) *TokenVault {
	return &TokenVault{
		records: db.Collection(TokenVaultCollection),
		cipher:  cipher,
	}
}

// Store upserts the token pair for the connection. A pair missing the
// refresh token keeps the previously stored one, so a refresh response
// that withholds it does not orphan the connection.
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

	_, err = v.records.UpdateOne(ctx,
		bson.M{"_id": connectionID},
		bson.M{"$set": bson.M{"sealed": sealed, "updated_at": time.Now().UTC()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return apperrors.NewPersistenceError("store token record", err)
	}
	return nil
}

// Get returns the stored pair or ErrTokensNotFound.
func (v *TokenVault) Get(ctx context.Context, connectionID string) (*domain.TokenPair, error) {
	var rec tokenRecord
	err := v.records.FindOne(ctx, bson.M{"_id": connectionID}).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, apperrors.ErrTokensNotFound
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("read token record", err)
	}

	plaintext, err := v.cipher.Open(connectionID, rec.Sealed)
	if err != nil {
		return nil, apperrors.NewPersistenceError("open token record", err)
	}
	var tokens domain.TokenPair
	if err := json.Unmarshal(plaintext, &tokens); err != nil {
		return nil, apperrors.NewPersistenceError("decode tokens", err)
	}
	return &tokens, nil
}

// Delete destroys the record. Deleting a missing record is not an error.
func (v *TokenVault) Delete(ctx context.Context, connectionID string) error {
	if _, err := v.records.DeleteOne(ctx, bson.M{"_id": connectionID}); err != nil {
		return apperrors.NewPersistenceError("delete token record", err)
	}
	return nil
}

var _ domain.TokenVault = (*TokenVault)(nil)
