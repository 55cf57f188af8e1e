package echo_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	linkapi "github.com/creatorlens/channellink/api/echo"
	"github.com/creatorlens/channellink/config"
	"github.com/creatorlens/channellink/domain"
	apperrors "github.com/creatorlens/channellink/errors"
	"github.com/creatorlens/channellink/internal/connstate"
	"github.com/creatorlens/channellink/internal/oauthflow"
	"github.com/creatorlens/channellink/services"
)

const providerOrigin = "https://accounts.example.com"

// --- fakes ---

type fakeWindow struct{ closed bool }

func (w *fakeWindow) Closed() bool { return w.closed }
func (w *fakeWindow) Close()       { w.closed = true }

type fakeOpener struct{}

func (fakeOpener) Open(string) (oauthflow.Window, error) { return &fakeWindow{}, nil }

type fakeSessions struct{ user *domain.User }

func (f *fakeSessions) CurrentUser(context.Context) (*domain.User, error) {
	if f.user == nil {
		return nil, apperrors.ErrNotAuthenticated
	}
	return f.user, nil
}

type stubRepo struct {
	active *domain.Connection
}

func (r *stubRepo) GetActiveConnection(_ context.Context, userID, platform string) (*domain.Connection, error) {
	if r.active == nil {
		return nil, apperrors.ErrConnectionNotFound
	}
	return r.active, nil
}

func (r *stubRepo) SaveNewConnection(_ context.Context, _ string, conn *domain.Connection, _ *domain.TokenPair) (*domain.Connection, error) {
	return conn, nil
}
func (r *stubRepo) UpdateTokens(context.Context, string, *domain.TokenPair) error { return nil }
func (r *stubRepo) Disconnect(_ context.Context, connectionID, _ string) error {
	if r.active == nil || r.active.ID != connectionID {
		return apperrors.ErrConnectionNotFound
	}
	r.active = nil
	return nil
}
func (r *stubRepo) ListConnections(context.Context, string, string) ([]*domain.Connection, error) {
	if r.active == nil {
		return nil, nil
	}
	return []*domain.Connection{r.active}, nil
}
func (r *stubRepo) SetSyncStatus(context.Context, string, domain.SyncStatus, string) error {
	return nil
}
func (r *stubRepo) StoreAnalytics(context.Context, string, *domain.AnalyticsSnapshot) error {
	return nil
}
func (r *stubRepo) GetTokens(context.Context, string) (*domain.TokenPair, error) {
	return nil, apperrors.ErrTokensNotFound
}

type stubExchanger struct{}

func (stubExchanger) ExchangeCode(context.Context, string, string, string, string) (*domain.TokenPair, error) {
	return &domain.TokenPair{AccessToken: "at"}, nil
}
func (stubExchanger) RefreshToken(context.Context, string, string, string) (*domain.TokenPair, error) {
	return &domain.TokenPair{AccessToken: "at"}, nil
}

type stubPlatform struct{}

func (stubPlatform) GetChannelProfile(context.Context, string) (*domain.ChannelProfile, error) {
	return &domain.ChannelProfile{ChannelID: "UC123", Title: "Creator Lens"}, nil
}
func (stubPlatform) GetRecentVideos(context.Context, string, string, int) ([]domain.VideoStats, error) {
	return nil, nil
}

// --- fixture ---

func newAPI(t *testing.T, sessions *fakeSessions, repo *stubRepo) (*echo.Echo, *oauthflow.Handler) {
	t.Helper()

	flow := oauthflow.NewHandler(fakeOpener{}, oauthflow.Options{
		AuthURL:        "https://accounts.example.com/auth",
		AllowedOrigins: []string{providerOrigin, "https://app.example.com"},
		Timeout:        time.Second,
		PollInterval:   10 * time.Millisecond,
	})
	tracker := connstate.NewTracker()
	t.Cleanup(tracker.Stop)

	cfg := &config.Config{
		ClientID: "c", ClientSecret: "s",
		RedirectURI: "https://app.example.com/oauth/callback", VaultCipherKey: "k",
	}
	svc := services.NewLinkingService(cfg, sessions, repo, flow, stubExchanger{}, stubPlatform{}, tracker, nil)

	e := echo.New()
	linkapi.NewLinkingAPI(svc, flow, providerOrigin).RegisterRoutes(e)
	return e, flow
}

// --- tests ---

func TestCallbackHandler_RelaysSuccessToAttempt(t *testing.T) {
	e, flow := newAPI(t, &fakeSessions{user: &domain.User{ID: "u1"}}, &stubRepo{})

	type outcome struct {
		res oauthflow.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := flow.Authenticate(context.Background(), oauthflow.AuthorizeConfig{
			ClientID: "c", RedirectURI: "r", State: "s1",
		})
		done <- outcome{res, err}
	}()

	// Wait for the attempt to register before relaying.
	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/oauth/callback?code=c1&state=s1", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code == http.StatusOK
	}, time.Second, 10*time.Millisecond)

	select {
	case out := <-done:
		require.NoError(t, out.err)
		assert.Equal(t, "c1", out.res.Code)
	case <-time.After(time.Second):
		t.Fatal("attempt did not settle")
	}
}

func TestCallbackHandler_RelaysProviderError(t *testing.T) {
	e, flow := newAPI(t, &fakeSessions{user: &domain.User{ID: "u1"}}, &stubRepo{})

	errCh := make(chan error, 1)
	go func() {
		_, err := flow.Authenticate(context.Background(), oauthflow.AuthorizeConfig{
			ClientID: "c", RedirectURI: "r", State: "s1",
		})
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/oauth/callback?error=access_denied", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code == http.StatusOK
	}, time.Second, 10*time.Millisecond)

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, apperrors.ErrAuthorizationDenied)
	case <-time.After(time.Second):
		t.Fatal("attempt did not settle")
	}
}

func TestCallbackHandler_NoAttemptInFlight(t *testing.T) {
	e, _ := newAPI(t, &fakeSessions{user: &domain.User{ID: "u1"}}, &stubRepo{})

	req := httptest.NewRequest(http.MethodGet, "/oauth/callback?code=c1&state=s1", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestStatusHandler_RequiresSession(t *testing.T) {
	e, _ := newAPI(t, &fakeSessions{}, &stubRepo{})

	req := httptest.NewRequest(http.MethodGet, "/api/connections/status", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatusHandler_ReportsActiveConnection(t *testing.T) {
	repo := &stubRepo{active: &domain.Connection{
		ID: "conn-1", UserID: "u1", Platform: domain.PlatformYouTube,
		ChannelName: "Creator Lens", IsActive: true,
	}}
	e, _ := newAPI(t, &fakeSessions{user: &domain.User{ID: "u1"}}, repo)

	req := httptest.NewRequest(http.MethodGet, "/api/connections/status", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var status services.ConnectionStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Connected)
	assert.Equal(t, "conn-1", status.Connection.ID)
}

func TestDisconnectHandler_NothingToDisconnect(t *testing.T) {
	e, _ := newAPI(t, &fakeSessions{user: &domain.User{ID: "u1"}}, &stubRepo{})

	req := httptest.NewRequest(http.MethodDelete, "/api/connections/active", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDisconnectHandler_ActiveAlias(t *testing.T) {
	repo := &stubRepo{active: &domain.Connection{
		ID: "conn-1", UserID: "u1", Platform: domain.PlatformYouTube, IsActive: true,
	}}
	e, _ := newAPI(t, &fakeSessions{user: &domain.User{ID: "u1"}}, repo)

	req := httptest.NewRequest(http.MethodDelete, "/api/connections/active", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, repo.active)
}

func TestAbortHandler_AlwaysSucceeds(t *testing.T) {
	e, _ := newAPI(t, &fakeSessions{user: &domain.User{ID: "u1"}}, &stubRepo{})

	req := httptest.NewRequest(http.MethodPost, "/api/connections/abort", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}
