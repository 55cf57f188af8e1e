package domain

import "time"

// PlatformYouTube is the only platform shipped today. The connection model
// is keyed by platform so further ones slot in without schema changes.
const PlatformYouTube = "youtube"

// SyncStatus tracks the analytics sync lifecycle of a connection.
type SyncStatus string

const (
	SyncStatusPending      SyncStatus = "pending"
	SyncStatusSyncing      SyncStatus = "syncing"
	SyncStatusFailed       SyncStatus = "failed"
	SyncStatusIdle         SyncStatus = "idle"
	SyncStatusDisconnected SyncStatus = "disconnected"
)

// Connection links a local user to one external channel on one platform.
// Raw tokens never live on this struct; they are addressed through the
// secure vault by connection id.
type Connection struct {
	ID     string `bson:"_id,omitempty" json:"id"`
	UserID string `bson:"user_id" json:"user_id"`

	Platform         string `bson:"platform" json:"platform"`
	ChannelID        string `bson:"channel_id" json:"channel_id"`
	ChannelName      string `bson:"channel_name" json:"channel_name"`
	ChannelHandle    string `bson:"channel_handle,omitempty" json:"channel_handle,omitempty"`
	ChannelAvatarURL string `bson:"channel_avatar_url,omitempty" json:"channel_avatar_url,omitempty"`

	// IsActive: at most one row per (user, platform) may carry true. The
	// repository deactivates prior rows before inserting a new active one.
	IsActive     bool       `bson:"is_active" json:"is_active"`
	SyncStatus   SyncStatus `bson:"sync_status" json:"sync_status"`
	ErrorMessage string     `bson:"error_message,omitempty" json:"error_message,omitempty"`

	TokenExpiresAt *time.Time `bson:"token_expires_at,omitempty" json:"token_expires_at,omitempty"`
	ScopeGranted   []string   `bson:"scope_granted,omitempty" json:"scope_granted,omitempty"`

	Metadata *ChannelMetadata `bson:"metadata,omitempty" json:"metadata,omitempty"`

	CreatedAt    time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at" json:"updated_at"`
	LastSyncedAt *time.Time `bson:"last_synced_at,omitempty" json:"last_synced_at,omitempty"`
}

// TokenUsable reports whether the stored access token is still within its
// lifetime at instant now. An expired token does not deactivate the row;
// refreshing is the linking service's job.
func (c *Connection) TokenUsable(now time.Time) bool {
	return c.TokenExpiresAt == nil || c.TokenExpiresAt.After(now)
}

// ChannelMetadata is the channel snapshot persisted alongside a connection.
type ChannelMetadata struct {
	Description string            `bson:"description,omitempty" json:"description,omitempty"`
	Statistics  ChannelStatistics `bson:"statistics" json:"statistics"`
	Metrics     *ChannelMetrics   `bson:"metrics,omitempty" json:"metrics,omitempty"`
}

// ChannelStatistics are the headline counters reported by the platform.
type ChannelStatistics struct {
	SubscriberCount int64 `bson:"subscriber_count" json:"subscriber_count"`
	ViewCount       int64 `bson:"view_count" json:"view_count"`
	VideoCount      int64 `bson:"video_count" json:"video_count"`
}

// ChannelMetrics are derived performance figures computed from recent videos.
type ChannelMetrics struct {
	AverageViewsPerVideo int64   `bson:"average_views_per_video" json:"average_views_per_video"`
	EngagementRate       float64 `bson:"engagement_rate" json:"engagement_rate"`
	UploadFrequency      float64 `bson:"upload_frequency" json:"upload_frequency"`
}

// TokenPair is the credential set issued by the authorization server.
// It is owned by the secure vault; outside of it a TokenPair lives only
// for the span of a single operation.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        []string  `json:"scope,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
}

// Expired reports whether the access token lifetime has passed at now.
func (t *TokenPair) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !t.ExpiresAt.After(now)
}

// ChannelProfile is the external identity fetched after authorization.
type ChannelProfile struct {
	ChannelID   string
	Title       string
	Handle      string
	AvatarURL   string
	Description string
	Statistics  ChannelStatistics
}

// VideoStats is the per-video counter set used for metric computation.
type VideoStats struct {
	VideoID     string
	Title       string
	Views       int64
	Likes       int64
	Comments    int64
	PublishedAt time.Time
}

// AnalyticsSnapshot is what a completed sync writes back to the connection.
type AnalyticsSnapshot struct {
	Statistics ChannelStatistics
	Metrics    ChannelMetrics
	SyncedAt   time.Time
}

// User is the local account a connection belongs to. Account management
// itself lives outside this module; only identity is needed here.
type User struct {
	ID    string `bson:"_id,omitempty" json:"id"`
	Email string `bson:"email,omitempty" json:"email,omitempty"`
}
