package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/creatorlens/channellink/config"
	"github.com/creatorlens/channellink/domain"
	apperrors "github.com/creatorlens/channellink/errors"
	"github.com/creatorlens/channellink/internal/analytics"
	"github.com/creatorlens/channellink/internal/oauthflow"
)

// LinkingService orchestrates the full account linking lifecycle: connect,
// status, analytics sync, token refresh, and disconnect.
type LinkingService struct {
	cfg      *config.Config
	sessions domain.SessionProvider
	repo     domain.ConnectionRepository
	flow     Authorizer
	tokens   TokenExchanger
	platform PlatformClient
	tracker  StateTracker
	clock    domain.Clock
}

// NewLinkingService wires the orchestrator. A nil clock defaults to the
// system clock.
func NewLinkingService(
	cfg *config.Config,
	sessions domain.SessionProvider,
	repo domain.ConnectionRepository,
	flow Authorizer,
	tokens TokenExchanger,
	platform PlatformClient,
	tracker StateTracker,
	clock domain.Clock,
) *LinkingService {
	if clock == nil {
		clock = domain.SystemClock()
	}
	return &LinkingService{
		cfg:      cfg,
		sessions: sessions,
		repo:     repo,
		flow:     flow,
		tokens:   tokens,
		platform: platform,
		tracker:  tracker,
		clock:    clock,
	}
}

// ConnectAccount runs the whole linking flow for the current user: popup
// authorization, code exchange, channel profile fetch, persistence, and a
// best-effort first analytics sync.
//
// The user's connecting flag is claimed before any side effect and cleared
// on every exit path, success or failure. A second concurrent call for the
// same user fails with ErrAlreadyConnecting.
func (s *LinkingService) ConnectAccount(ctx context.Context) (*domain.Connection, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}

	user, err := s.sessions.CurrentUser(ctx)
	if err != nil || user == nil {
		return nil, apperrors.ErrNotAuthenticated
	}

	if err := s.tracker.MarkConnecting(user.ID); err != nil {
		return nil, err
	}
	defer s.tracker.Clear(user.ID)

	log.Info().Str("user_id", user.ID).Msg("starting account connect")

	result, err := s.flow.Authenticate(ctx, oauthflow.AuthorizeConfig{
		ClientID:    s.cfg.ClientID,
		RedirectURI: s.cfg.RedirectURI,
		Scopes:      s.cfg.ScopeList(),
	})
	if err != nil {
		log.Warn().Err(err).Str("user_id", user.ID).Msg("authorization flow failed")
		return nil, err
	}

	pair, err := s.tokens.ExchangeCode(ctx, result.Code, s.cfg.ClientID, s.cfg.ClientSecret, s.cfg.RedirectURI)
	if err != nil {
		return nil, err
	}

	profile, err := s.platform.GetChannelProfile(ctx, pair.AccessToken)
	if err != nil {
		return nil, err
	}

	conn := &domain.Connection{
		Platform:         domain.PlatformYouTube,
		ChannelID:        profile.ChannelID,
		ChannelName:      profile.Title,
		ChannelHandle:    profile.Handle,
		ChannelAvatarURL: profile.AvatarURL,
		Metadata: &domain.ChannelMetadata{
			Description: profile.Description,
			Statistics:  profile.Statistics,
		},
	}

	saved, err := s.repo.SaveNewConnection(ctx, user.ID, conn, pair)
	if err != nil {
		return nil, err
	}

	// First sync is best-effort and runs in the background: the connect
	// response never waits on the analytics backend, and a sync failure
	// marks the connection rather than unwinding it. The detached context
	// keeps the sync alive past the connect request's lifetime.
	syncCtx := context.WithoutCancel(ctx)
	go func() {
		if err := s.runSync(syncCtx, saved.ID, pair.AccessToken, saved.ChannelID); err != nil {
			log.Warn().Err(err).Str("connection_id", saved.ID).Msg("initial analytics sync failed")
		}
	}()

	log.Info().Str("user_id", user.ID).Str("connection_id", saved.ID).
		Str("channel_id", saved.ChannelID).Msg("account connected")
	return saved, nil
}

// AbortConnect tears down an in-flight popup attempt, for navigation-away
// or explicit cancel. Safe to call with nothing in flight.
func (s *LinkingService) AbortConnect(ctx context.Context) {
	s.flow.ForceCleanup()
	if user, err := s.sessions.CurrentUser(ctx); err == nil && user != nil {
		s.tracker.Clear(user.ID)
	}
}

// DisconnectAccount deactivates a connection. An empty connectionID targets
// the user's active connection; ErrNothingToDisconnect when there is none.
func (s *LinkingService) DisconnectAccount(ctx context.Context, connectionID string) error {
	user, err := s.sessions.CurrentUser(ctx)
	if err != nil || user == nil {
		return apperrors.ErrNotAuthenticated
	}

	if connectionID == "" {
		active, err := s.repo.GetActiveConnection(ctx, user.ID, domain.PlatformYouTube)
		if err != nil {
			if errors.Is(err, apperrors.ErrConnectionNotFound) {
				return apperrors.ErrNothingToDisconnect
			}
			return err
		}
		connectionID = active.ID
	}

	if err := s.repo.Disconnect(ctx, connectionID, user.ID); err != nil {
		if errors.Is(err, apperrors.ErrConnectionNotFound) {
			return apperrors.ErrNothingToDisconnect
		}
		return err
	}

	log.Info().Str("user_id", user.ID).Str("connection_id", connectionID).Msg("account disconnected")
	return nil
}

// ConnectionStatus reports the current user's link state. Provisional means
// a connect attempt is in flight, so a "not connected" answer may be stale
// within seconds.
type ConnectionStatus struct {
	Connected   bool               `json:"connected"`
	Provisional bool               `json:"provisional"`
	Connection  *domain.Connection `json:"connection,omitempty"`
}

// Status returns the user's connection status for the platform.
func (s *LinkingService) Status(ctx context.Context) (*ConnectionStatus, error) {
	user, err := s.sessions.CurrentUser(ctx)
	if err != nil || user == nil {
		return nil, apperrors.ErrNotAuthenticated
	}

	status := &ConnectionStatus{Provisional: s.tracker.IsConnecting(user.ID)}

	conn, err := s.repo.GetActiveConnection(ctx, user.ID, domain.PlatformYouTube)
	if err != nil {
		if errors.Is(err, apperrors.ErrConnectionNotFound) {
			return status, nil
		}
		return nil, err
	}
	status.Connected = true
	status.Connection = conn
	return status, nil
}

// ListConnections returns the user's connections newest-first, active and
// inactive alike.
func (s *LinkingService) ListConnections(ctx context.Context, platform string) ([]*domain.Connection, error) {
	user, err := s.sessions.CurrentUser(ctx)
	if err != nil || user == nil {
		return nil, apperrors.ErrNotAuthenticated
	}
	return s.repo.ListConnections(ctx, user.ID, platform)
}

// RefreshIfExpired ensures the connection's access token is usable and
// returns it. Refreshing is single-flight per connection; a concurrent
// caller gets ErrRefreshInFlight and should retry shortly.
//
// A refresh rejected by the provider, or a connection with no refresh
// token, is terminal: ErrReauthRequired.
func (s *LinkingService) RefreshIfExpired(ctx context.Context, connectionID string) (*domain.TokenPair, error) {
	pair, err := s.repo.GetTokens(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if !pair.Expired(s.clock.Now()) {
		return pair, nil
	}
	if pair.RefreshToken == "" {
		return nil, apperrors.ErrReauthRequired
	}

	if err := s.tracker.BeginRefresh(connectionID); err != nil {
		return nil, err
	}
	defer s.tracker.EndRefresh(connectionID)

	// Another caller may have refreshed while this one waited on the guard.
	pair, err = s.repo.GetTokens(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if !pair.Expired(s.clock.Now()) {
		return pair, nil
	}

	fresh, err := s.tokens.RefreshToken(ctx, pair.RefreshToken, s.cfg.ClientID, s.cfg.ClientSecret)
	if err != nil {
		var apiErr *apperrors.APIError
		if errors.As(err, &apiErr) &&
			(apiErr.StatusCode == http.StatusBadRequest || apiErr.StatusCode == http.StatusUnauthorized) {
			log.Warn().Str("connection_id", connectionID).Int("status", apiErr.StatusCode).
				Msg("refresh token rejected, re-authentication required")
			return nil, apperrors.ErrReauthRequired
		}
		return nil, err
	}

	if err := s.repo.UpdateTokens(ctx, connectionID, fresh); err != nil {
		return nil, err
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = pair.RefreshToken
	}
	log.Info().Str("connection_id", connectionID).Msg("access token refreshed")
	return fresh, nil
}

// SyncAnalytics refreshes the channel snapshot and derived metrics for a
// connection. Failures land in sync_status=failed with the error message;
// the connection stays active and a later sync can recover it.
func (s *LinkingService) SyncAnalytics(ctx context.Context, connectionID string) error {
	user, err := s.sessions.CurrentUser(ctx)
	if err != nil || user == nil {
		return apperrors.ErrNotAuthenticated
	}

	conn, err := s.findUserConnection(ctx, user.ID, connectionID)
	if err != nil {
		return err
	}

	pair, err := s.RefreshIfExpired(ctx, conn.ID)
	if err != nil {
		s.markSyncFailed(ctx, conn.ID, err)
		return err
	}

	return s.runSync(ctx, conn.ID, pair.AccessToken, conn.ChannelID)
}

func (s *LinkingService) runSync(ctx context.Context, connectionID, accessToken, channelID string) error {
	if err := s.repo.SetSyncStatus(ctx, connectionID, domain.SyncStatusSyncing, ""); err != nil {
		return err
	}

	profile, err := s.platform.GetChannelProfile(ctx, accessToken)
	if err != nil {
		s.markSyncFailed(ctx, connectionID, err)
		return err
	}
	videos, err := s.platform.GetRecentVideos(ctx, accessToken, channelID, analytics.DefaultRecentVideoLimit)
	if err != nil {
		s.markSyncFailed(ctx, connectionID, err)
		return err
	}

	now := s.clock.Now()
	snap := &domain.AnalyticsSnapshot{
		Statistics: profile.Statistics,
		Metrics:    analytics.ComputeMetrics(videos, analytics.DefaultRecentVideoLimit, now),
		SyncedAt:   now,
	}
	if err := s.repo.StoreAnalytics(ctx, connectionID, snap); err != nil {
		s.markSyncFailed(ctx, connectionID, err)
		return err
	}

	log.Info().Str("connection_id", connectionID).Time("synced_at", now).Msg("analytics synced")
	return nil
}

// markSyncFailed records a failed sync so the status never sticks on
// "syncing". Best-effort: a second persistence failure is only logged.
func (s *LinkingService) markSyncFailed(ctx context.Context, connectionID string, cause error) {
	if err := s.repo.SetSyncStatus(ctx, connectionID, domain.SyncStatusFailed, cause.Error()); err != nil {
		log.Error().Err(err).Str("connection_id", connectionID).Msg("failed to record sync failure")
	}
}

// findUserConnection resolves a connection id to one of the user's own
// connections. An empty id targets the active one.
func (s *LinkingService) findUserConnection(ctx context.Context, userID, connectionID string) (*domain.Connection, error) {
	if connectionID == "" {
		return s.repo.GetActiveConnection(ctx, userID, domain.PlatformYouTube)
	}
	conns, err := s.repo.ListConnections(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	for _, c := range conns {
		if c.ID == connectionID {
			return c, nil
		}
	}
	return nil, apperrors.ErrConnectionNotFound
}

// ChannelSummary is the dashboard's headline view of the linked channel.
type ChannelSummary struct {
	ChannelID    string                   `json:"channel_id"`
	Title        string                   `json:"title"`
	Handle       string                   `json:"handle,omitempty"`
	AvatarURL    string                   `json:"avatar_url,omitempty"`
	Statistics   domain.ChannelStatistics `json:"statistics"`
	Metrics      *domain.ChannelMetrics   `json:"metrics,omitempty"`
	SyncStatus   domain.SyncStatus        `json:"sync_status"`
	LastSyncedAt *time.Time               `json:"last_synced_at,omitempty"`
}

// GetChannelSummary returns the summary for the user's active connection,
// built from the last persisted snapshot without touching the platform API.
func (s *LinkingService) GetChannelSummary(ctx context.Context) (*ChannelSummary, error) {
	user, err := s.sessions.CurrentUser(ctx)
	if err != nil || user == nil {
		return nil, apperrors.ErrNotAuthenticated
	}

	conn, err := s.repo.GetActiveConnection(ctx, user.ID, domain.PlatformYouTube)
	if err != nil {
		return nil, err
	}

	summary := &ChannelSummary{
		ChannelID:    conn.ChannelID,
		Title:        conn.ChannelName,
		Handle:       conn.ChannelHandle,
		AvatarURL:    conn.ChannelAvatarURL,
		SyncStatus:   conn.SyncStatus,
		LastSyncedAt: conn.LastSyncedAt,
	}
	if conn.Metadata != nil {
		summary.Statistics = conn.Metadata.Statistics
		summary.Metrics = conn.Metadata.Metrics
	}
	return summary, nil
}

// TokenFor returns a usable access token for the user's active connection,
// refreshing when necessary. Convenience for callers serving dashboard
// reads.
func (s *LinkingService) TokenFor(ctx context.Context, userID string) (string, error) {
	conn, err := s.repo.GetActiveConnection(ctx, userID, domain.PlatformYouTube)
	if err != nil {
		return "", err
	}
	pair, err := s.RefreshIfExpired(ctx, conn.ID)
	if err != nil {
		return "", err
	}
	return pair.AccessToken, nil
}
