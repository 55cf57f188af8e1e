package mongodb_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/creatorlens/channellink/domain"
	apperrors "github.com/creatorlens/channellink/errors"
	"github.com/creatorlens/channellink/internal/tokencrypt"
	"github.com/creatorlens/channellink/mongodb"
	"github.com/creatorlens/channellink/mongodb/testutil"
)

func setupRepo(t *testing.T) (*mongodb.ConnectionRepository, *mongodb.TokenVault, *mongo.Database, func()) {
	t.Helper()

	db, cleanup := testutil.SetupTestMongoDB(t, "channellink_test")

	key, err := tokencrypt.GenerateKey()
	require.NoError(t, err)
	cipher, err := tokencrypt.NewCipher(key)
	require.NoError(t, err)

	vault := mongodb.NewTokenVault(db, cipher)
	repo, err := mongodb.NewConnectionRepository(context.Background(), db, vault, nil)
	require.NoError(t, err)

	return repo, vault, db, cleanup
}

func testConnection(userID string) *domain.Connection {
	return &domain.Connection{
		UserID:      userID,
		Platform:    domain.PlatformYouTube,
		ChannelID:   "UC123",
		ChannelName: "Creator Lens",
	}
}

func testTokens() *domain.TokenPair {
	return &domain.TokenPair{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond),
		Scope:        []string{"yt.readonly"},
	}
}

func TestSaveNewConnection_SingleActivePerUserPlatform(t *testing.T) {
	repo, _, _, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	first, err := repo.SaveNewConnection(ctx, "u1", testConnection("u1"), testTokens())
	require.NoError(t, err)
	assert.True(t, first.IsActive)
	assert.Equal(t, domain.SyncStatusPending, first.SyncStatus)

	// A different channel gets its own row and takes over the active slot.
	other := testConnection("u1")
	other.ChannelID = "UC456"
	second, err := repo.SaveNewConnection(ctx, "u1", other, testTokens())
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	active, err := repo.GetActiveConnection(ctx, "u1", domain.PlatformYouTube)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	all, err := repo.ListConnections(ctx, "u1", domain.PlatformYouTube)
	require.NoError(t, err)
	require.Len(t, all, 2)

	var activeCount int
	for _, c := range all {
		if c.IsActive {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount)
}

func TestSaveNewConnection_ReconnectReactivatesExistingRow(t *testing.T) {
	repo, _, _, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	first, err := repo.SaveNewConnection(ctx, "u1", testConnection("u1"), testTokens())
	require.NoError(t, err)
	require.NoError(t, repo.Disconnect(ctx, first.ID, "u1"))

	// Same channel again: the row comes back instead of a duplicate.
	again, err := repo.SaveNewConnection(ctx, "u1", testConnection("u1"), testTokens())
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.True(t, again.IsActive)
	assert.Equal(t, domain.SyncStatusPending, again.SyncStatus)

	all, err := repo.ListConnections(ctx, "u1", domain.PlatformYouTube)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSaveNewConnection_StoresTokensInVault(t *testing.T) {
	repo, vault, _, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	conn, err := repo.SaveNewConnection(ctx, "u1", testConnection("u1"), testTokens())
	require.NoError(t, err)

	got, err := vault.Get(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "at-1", got.AccessToken)
	assert.Equal(t, "rt-1", got.RefreshToken)

	// The connection row mirrors the expiry but never the tokens.
	require.NotNil(t, conn.TokenExpiresAt)
}

func TestGetActiveConnection_NotFound(t *testing.T) {
	repo, _, _, cleanup := setupRepo(t)
	defer cleanup()

	_, err := repo.GetActiveConnection(context.Background(), "nobody", domain.PlatformYouTube)
	require.ErrorIs(t, err, apperrors.ErrConnectionNotFound)
}

func TestDisconnect_ScopedByUser(t *testing.T) {
	repo, vault, _, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	conn, err := repo.SaveNewConnection(ctx, "u1", testConnection("u1"), testTokens())
	require.NoError(t, err)

	// Another user cannot touch the row.
	err = repo.Disconnect(ctx, conn.ID, "intruder")
	require.ErrorIs(t, err, apperrors.ErrConnectionNotFound)

	require.NoError(t, repo.Disconnect(ctx, conn.ID, "u1"))

	_, err = repo.GetActiveConnection(ctx, "u1", domain.PlatformYouTube)
	require.ErrorIs(t, err, apperrors.ErrConnectionNotFound)

	// Vault record is destroyed with the connection.
	_, err = vault.Get(ctx, conn.ID)
	require.ErrorIs(t, err, apperrors.ErrTokensNotFound)
}

func TestUpdateTokens_KeepsStoredRefreshToken(t *testing.T) {
	repo, vault, _, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	conn, err := repo.SaveNewConnection(ctx, "u1", testConnection("u1"), testTokens())
	require.NoError(t, err)

	refreshed := &domain.TokenPair{
		AccessToken: "at-2",
		ExpiresAt:   time.Now().Add(2 * time.Hour).UTC(),
	}
	require.NoError(t, repo.UpdateTokens(ctx, conn.ID, refreshed))

	got, err := vault.Get(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "at-2", got.AccessToken)
	assert.Equal(t, "rt-1", got.RefreshToken)
}

func TestSetSyncStatus_FailureKeepsMessageAndRecoveryClears(t *testing.T) {
	repo, _, _, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	conn, err := repo.SaveNewConnection(ctx, "u1", testConnection("u1"), testTokens())
	require.NoError(t, err)

	require.NoError(t, repo.SetSyncStatus(ctx, conn.ID, domain.SyncStatusFailed, "quota exceeded"))
	active, err := repo.GetActiveConnection(ctx, "u1", domain.PlatformYouTube)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusFailed, active.SyncStatus)
	assert.Equal(t, "quota exceeded", active.ErrorMessage)

	require.NoError(t, repo.SetSyncStatus(ctx, conn.ID, domain.SyncStatusIdle, ""))
	active, err = repo.GetActiveConnection(ctx, "u1", domain.PlatformYouTube)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusIdle, active.SyncStatus)
	assert.Empty(t, active.ErrorMessage)
}

func TestStoreAnalytics_WritesSnapshotAndStampsSync(t *testing.T) {
	repo, _, _, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	conn, err := repo.SaveNewConnection(ctx, "u1", testConnection("u1"), testTokens())
	require.NoError(t, err)

	snap := &domain.AnalyticsSnapshot{
		Statistics: domain.ChannelStatistics{SubscriberCount: 1000, ViewCount: 50000, VideoCount: 42},
		Metrics:    domain.ChannelMetrics{AverageViewsPerVideo: 1200, EngagementRate: 5.0, UploadFrequency: 0.7},
		SyncedAt:   time.Now().UTC(),
	}
	require.NoError(t, repo.StoreAnalytics(ctx, conn.ID, snap))

	active, err := repo.GetActiveConnection(ctx, "u1", domain.PlatformYouTube)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusIdle, active.SyncStatus)
	require.NotNil(t, active.LastSyncedAt)
	require.NotNil(t, active.Metadata)
	assert.Equal(t, int64(1000), active.Metadata.Statistics.SubscriberCount)
	require.NotNil(t, active.Metadata.Metrics)
	assert.Equal(t, 5.0, active.Metadata.Metrics.EngagementRate)
}

func TestTokenVault_DeleteIsIdempotent(t *testing.T) {
	_, vault, _, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, vault.Delete(ctx, "never-stored"))
}

func TestListConnections_NewestFirst(t *testing.T) {
	repo, _, _, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	_, err := repo.SaveNewConnection(ctx, "u1", testConnection("u1"), testTokens())
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := repo.SaveNewConnection(ctx, "u1", testConnection("u1"), testTokens())
	require.NoError(t, err)

	all, err := repo.ListConnections(ctx, "u1", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
}
