// Package tokenclient speaks the authorization server's token protocol:
// authorization-code exchange and refresh. Pure network calls; retry
// policy belongs to the caller.
package tokenclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/creatorlens/channellink/domain"
	apperrors "github.com/creatorlens/channellink/errors"
)

// Client posts to the token endpoint.
type Client struct {
	tokenURL string
	http     *http.Client
	clock    domain.Clock
}

// tokenResponse is the provider's JSON token payload.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

// New creates a token client against the given endpoint. A nil httpClient
// falls back to a default with a sane timeout.
func New(tokenURL string, httpClient *http.Client, clock domain.Clock) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if clock == nil {
		clock = domain.SystemClock()
	}
	return &Client{tokenURL: tokenURL, http: httpClient, clock: clock}
}

// ExchangeCode trades an authorization code for a token pair.
func (c *Client) ExchangeCode(ctx context.Context, code, clientID, clientSecret, redirectURI string) (*domain.TokenPair, error) {
	log.Info().Msg("exchanging authorization code for tokens")

	form := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {redirectURI},
	}
	return c.post(ctx, form, "token exchange failed")
}

// RefreshToken obtains a fresh access token. The provider does not always
// return a new refresh token; the returned pair's RefreshToken is empty in
// that case and callers must retain the prior one.
func (c *Client) RefreshToken(ctx context.Context, refreshToken, clientID, clientSecret string) (*domain.TokenPair, error) {
	log.Info().Msg("refreshing access token")

	form := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}
	return c.post(ctx, form, "token refresh failed")
}

func (c *Client) post(ctx context.Context, form url.Values, failMsg string) (*domain.TokenPair, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.apiError(failMsg, resp.StatusCode, body)
	}

	// Snapshot "now" before adding the relative expiry so network latency
	// is not double-counted into the token lifetime.
	now := c.clock.Now()

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}

	pair := &domain.TokenPair{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		Scope:        strings.Fields(tr.Scope),
		TokenType:    tr.TokenType,
	}
	if tr.ExpiresIn > 0 {
		pair.ExpiresAt = now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return pair, nil
}

// apiError builds an APIError from a non-success token response. The
// provider's error body is attached when it parses; otherwise the message
// stands alone.
func (c *Client) apiError(failMsg string, status int, body []byte) error {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		parsed = nil
	}
	msg := failMsg
	if parsed != nil {
		if desc, ok := parsed["error_description"].(string); ok && desc != "" {
			msg = fmt.Sprintf("%s: %s", failMsg, desc)
		} else if code, ok := parsed["error"].(string); ok && code != "" {
			msg = fmt.Sprintf("%s: %s", failMsg, code)
		}
	}
	log.Warn().Int("status", status).Msg(msg)
	return apperrors.NewAPIError(msg, status, parsed)
}
