package mongodb

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/creatorlens/channellink/domain"
	apperrors "github.com/creatorlens/channellink/errors"
)

// ConnectionRepository is the Mongo-backed implementation of
// domain.ConnectionRepository. Tokens are delegated to the vault; only
// non-secret connection fields land in the connections collection.
type ConnectionRepository struct {
	connections *mongo.Collection
	vault       domain.TokenVault
	clock       domain.Clock
}

// NewConnectionRepository creates the repository and ensures its indexes.
func NewConnectionRepository(ctx context.Context, db *mongo.Database, vault domain.TokenVault, clock domain.Clock) (*ConnectionRepository, error) {
	if clock == nil {
		clock = domain.SystemClock()
	}
	r := &ConnectionRepository{
		connections: db.Collection(ConnectionsCollection),
		vault:       vault,
		clock:       clock,
	}
	if err := r.createIndexes(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *ConnectionRepository) createIndexes(ctx context.Context) error {
	// The partial unique index is the second line of defense behind the
	// deactivate-then-insert write path: the database itself refuses a
	// second active row for the same user and platform.
	_, err := r.connections.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "platform", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"is_active": true}),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create connection indexes: %w", err)
	}
	return nil
}

// GetActiveConnection returns the active connection for the user and
// platform, or ErrConnectionNotFound.
func (r *ConnectionRepository) GetActiveConnection(ctx context.Context, userID, platform string) (*domain.Connection, error) {
	var conn domain.Connection
	err := r.connections.FindOne(ctx, bson.M{
		"user_id":   userID,
		"platform":  platform,
		"is_active": true,
	}).Decode(&conn)
	if err == mongo.ErrNoDocuments {
		return nil, apperrors.ErrConnectionNotFound
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("get active connection", err)
	}
	return &conn, nil
}

// SaveNewConnection deactivates any prior rows for the (user, platform)
// pair, then makes the given connection the single active one and stores
// its tokens in the vault. Reconnecting a channel that was linked before
// reactivates its existing row instead of inserting a duplicate.
//
// A failure after the deactivate step leaves the user with zero active
// rows for the platform. That degraded state is acceptable; two active
// rows never are.
func (r *ConnectionRepository) SaveNewConnection(ctx context.Context, userID string, conn *domain.Connection, tokens *domain.TokenPair) (*domain.Connection, error) {
	now := r.clock.Now().UTC()

	_, err := r.connections.UpdateMany(ctx,
		bson.M{"user_id": userID, "platform": conn.Platform, "is_active": true},
		bson.M{"$set": bson.M{
			"is_active":   false,
			"sync_status": domain.SyncStatusDisconnected,
			"updated_at":  now,
		}},
	)
	if err != nil {
		return nil, apperrors.NewPersistenceError("deactivate prior connections", err)
	}

	inserted := *conn
	inserted.UserID = userID
	inserted.IsActive = true
	inserted.SyncStatus = domain.SyncStatusPending
	inserted.ErrorMessage = ""
	inserted.UpdatedAt = now
	if tokens != nil && !tokens.ExpiresAt.IsZero() {
		expires := tokens.ExpiresAt.UTC()
		inserted.TokenExpiresAt = &expires
		inserted.ScopeGranted = tokens.Scope
	}

	var existing domain.Connection
	err = r.connections.FindOne(ctx, bson.M{
		"user_id":    userID,
		"platform":   conn.Platform,
		"channel_id": conn.ChannelID,
	}).Decode(&existing)
	switch err {
	case nil:
		inserted.ID = existing.ID
		inserted.CreatedAt = existing.CreatedAt
		if _, err := r.connections.ReplaceOne(ctx, bson.M{"_id": existing.ID}, &inserted); err != nil {
			return nil, apperrors.NewPersistenceError("reactivate connection", err)
		}
	case mongo.ErrNoDocuments:
		if inserted.ID == "" {
			inserted.ID = uuid.NewString()
		}
		inserted.CreatedAt = now
		if _, err := r.connections.InsertOne(ctx, &inserted); err != nil {
			return nil, apperrors.NewPersistenceError("insert connection", err)
		}
	default:
		return nil, apperrors.NewPersistenceError("look up prior connection", err)
	}

	if tokens != nil {
		if err := r.vault.Store(ctx, inserted.ID, tokens); err != nil {
			// Roll the row back so a connection without credentials never
			// surfaces as active.
			_, rbErr := r.connections.UpdateOne(ctx, bson.M{"_id": inserted.ID},
				bson.M{"$set": bson.M{"is_active": false, "sync_status": domain.SyncStatusDisconnected}})
			if rbErr != nil {
				log.Error().Err(rbErr).Str("connection_id", inserted.ID).
					Msg("failed to deactivate connection after vault write failure")
			}
			return nil, apperrors.NewPersistenceError("store tokens", err)
		}
	}

	log.Info().Str("connection_id", inserted.ID).Str("user_id", userID).
		Str("channel_id", inserted.ChannelID).Msg("connection saved")
	return &inserted, nil
}

// UpdateTokens writes refreshed tokens to the vault and mirrors the new
// expiry onto the connection row.
func (r *ConnectionRepository) UpdateTokens(ctx context.Context, connectionID string, tokens *domain.TokenPair) error {
	if err := r.vault.Store(ctx, connectionID, tokens); err != nil {
		return apperrors.NewPersistenceError("update tokens", err)
	}

	set := bson.M{"updated_at": r.clock.Now().UTC()}
	if !tokens.ExpiresAt.IsZero() {
		set["token_expires_at"] = tokens.ExpiresAt.UTC()
	}
	res, err := r.connections.UpdateOne(ctx, bson.M{"_id": connectionID}, bson.M{"$set": set})
	if err != nil {
		return apperrors.NewPersistenceError("update connection expiry", err)
	}
	if res.MatchedCount == 0 {
		return apperrors.ErrConnectionNotFound
	}
	return nil
}

// Disconnect deactivates the connection and destroys its vault record.
// Scoped by user id so a caller can only touch their own rows.
func (r *ConnectionRepository) Disconnect(ctx context.Context, connectionID, userID string) error {
	res, err := r.connections.UpdateOne(ctx,
		bson.M{"_id": connectionID, "user_id": userID},
		bson.M{"$set": bson.M{
			"is_active":   false,
			"sync_status": domain.SyncStatusDisconnected,
			"updated_at":  r.clock.Now().UTC(),
		}},
	)
	if err != nil {
		return apperrors.NewPersistenceError("disconnect", err)
	}
	if res.MatchedCount == 0 {
		return apperrors.ErrConnectionNotFound
	}

	if err := r.vault.Delete(ctx, connectionID); err != nil {
		// The row is already inactive; a leaked vault record is logged,
		// not surfaced.
		log.Error().Err(err).Str("connection_id", connectionID).
			Msg("failed to delete vault record on disconnect")
	}

	log.Info().Str("connection_id", connectionID).Str("user_id", userID).Msg("connection disconnected")
	return nil
}

// ListConnections returns the user's connections newest-first. An empty
// platform matches all platforms.
func (r *ConnectionRepository) ListConnections(ctx context.Context, userID, platform string) ([]*domain.Connection, error) {
	filter := bson.M{"user_id": userID}
	if platform != "" {
		filter["platform"] = platform
	}

	cursor, err := r.connections.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, apperrors.NewPersistenceError("list connections", err)
	}
	defer cursor.Close(ctx)

	var conns []*domain.Connection
	if err := cursor.All(ctx, &conns); err != nil {
		return nil, apperrors.NewPersistenceError("decode connections", err)
	}
	return conns, nil
}

// SetSyncStatus records the sync lifecycle state. The error message is
// cleared on any non-failed status.
func (r *ConnectionRepository) SetSyncStatus(ctx context.Context, connectionID string, status domain.SyncStatus, errorMessage string) error {
	set := bson.M{
		"sync_status": status,
		"updated_at":  r.clock.Now().UTC(),
	}
	update := bson.M{"$set": set}
	if status == domain.SyncStatusFailed {
		set["error_message"] = errorMessage
	} else {
		update["$unset"] = bson.M{"error_message": ""}
	}

	res, err := r.connections.UpdateOne(ctx, bson.M{"_id": connectionID}, update)
	if err != nil {
		return apperrors.NewPersistenceError("set sync status", err)
	}
	if res.MatchedCount == 0 {
		return apperrors.ErrConnectionNotFound
	}
	return nil
}

// StoreAnalytics writes a completed sync snapshot onto the connection and
// stamps last_synced_at.
func (r *ConnectionRepository) StoreAnalytics(ctx context.Context, connectionID string, snap *domain.AnalyticsSnapshot) error {
	syncedAt := snap.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = r.clock.Now()
	}
	syncedAt = syncedAt.UTC()

	res, err := r.connections.UpdateOne(ctx,
		bson.M{"_id": connectionID},
		bson.M{
			"$set": bson.M{
				"metadata.statistics": snap.Statistics,
				"metadata.metrics":    snap.Metrics,
				"sync_status":         domain.SyncStatusIdle,
				"last_synced_at":      syncedAt,
				"updated_at":          r.clock.Now().UTC(),
			},
			"$unset": bson.M{"error_message": ""},
		},
	)
	if err != nil {
		return apperrors.NewPersistenceError("store analytics", err)
	}
	if res.MatchedCount == 0 {
		return apperrors.ErrConnectionNotFound
	}
	return nil
}

// GetTokens reads the vault record for the connection.
func (r *ConnectionRepository) GetTokens(ctx context.Context, connectionID string) (*domain.TokenPair, error) {
	return r.vault.Get(ctx, connectionID)
}

var _ domain.ConnectionRepository = (*ConnectionRepository)(nil)
