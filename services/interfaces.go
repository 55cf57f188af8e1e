// Package services hosts the account linking service, the orchestration
// layer between the popup flow, the token endpoint, the platform API and
// the connection repository.
package services

import (
	"context"

	"github.com/creatorlens/channellink/domain"
	"github.com/creatorlens/channellink/internal/oauthflow"
)

// Authorizer runs the popup authorization flow. Implemented by
// oauthflow.Handler; tests substitute fakes.
type Authorizer interface {
	Authenticate(ctx context.Context, cfg oauthflow.AuthorizeConfig) (oauthflow.Result, error)
	ForceCleanup()
}

// TokenExchanger speaks the token endpoint protocol.
type TokenExchanger interface {
	ExchangeCode(ctx context.Context, code, clientID, clientSecret, redirectURI string) (*domain.TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken, clientID, clientSecret string) (*domain.TokenPair, error)
}

// PlatformClient fetches channel data with a bearer token.
type PlatformClient interface {
	GetChannelProfile(ctx context.Context, accessToken string) (*domain.ChannelProfile, error)
	GetRecentVideos(ctx context.Context, accessToken, channelID string, maxResults int) ([]domain.VideoStats, error)
}

// StateTracker is the process-wide single-flight guard.
type StateTracker interface {
	IsConnecting(userID string) bool
	MarkConnecting(userID string) error
	Clear(userID string)
	BeginRefresh(connectionID string) error
	EndRefresh(connectionID string)
}
