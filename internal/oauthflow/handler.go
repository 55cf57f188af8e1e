// Package oauthflow drives a user through an external authorization page
// via a popup window and returns the resulting authorization code.
//
// One Handler owns at most one in-flight attempt. The attempt settles on
// exactly one of: a success message with matching state, an error message,
// a state mismatch, the popup closing, or the absolute timeout. Whatever
// the outcome, resources are released unconditionally.
package oauthflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	apperrors "github.com/creatorlens/channellink/errors"
)

const (
	defaultTimeout      = 5 * time.Minute
	defaultPollInterval = time.Second
)

// AuthorizeConfig carries the authorization endpoint parameters for one
// attempt.
type AuthorizeConfig struct {
	ClientID    string
	RedirectURI string
	Scopes      []string

	// State overrides the generated correlation value. Leave empty unless
	// a pre-supplied value has to be correlated across systems.
	State string
}

// Result is the successful outcome of an attempt.
type Result struct {
	Code  string
	State string
}

// Options tune a Handler.
type Options struct {
	// AuthURL is the provider's authorization endpoint.
	AuthURL string

	// AllowedOrigins are the only origins whose messages are honored:
	// the app's own origin and the authorization server's origin.
	AllowedOrigins []string

	// Timeout is the absolute wall-clock deadline for an attempt.
	// Defaults to 5 minutes.
	Timeout time.Duration

	// PollInterval is how often the popup is checked for being closed.
	// Defaults to 1 second.
	PollInterval time.Duration
}

// Handler opens authorization popups and resolves their outcome.
type Handler struct {
	opener         WindowOpener
	authURL        string
	allowedOrigins map[string]struct{}
	timeout        time.Duration
	pollInterval   time.Duration

	mu      sync.Mutex
	current *attempt
}

// attempt is the ephemeral, in-memory state of one authorization flow.
// Never persisted.
type attempt struct {
	state     string
	window    Window
	inbox     chan Message
	abort     chan struct{}
	abortOnce sync.Once
}

func (a *attempt) cancel() {
	a.abortOnce.Do(func() { close(a.abort) })
}

// NewHandler creates a popup authorization handler. The opener is supplied
// by the UI layer; tests use fakes.
func NewHandler(opener WindowOpener, opts Options) *Handler {
	h := &Handler{
		opener:         opener,
		authURL:        opts.AuthURL,
		allowedOrigins: make(map[string]struct{}, len(opts.AllowedOrigins)),
		timeout:        opts.Timeout,
		pollInterval:   opts.PollInterval,
	}
	for _, o := range opts.AllowedOrigins {
		h.allowedOrigins[o] = struct{}{}
	}
	if h.timeout <= 0 {
		h.timeout = defaultTimeout
	}
	if h.pollInterval <= 0 {
		h.pollInterval = defaultPollInterval
	}
	return h
}

// Authenticate opens the popup and blocks until the attempt settles.
//
// Callers must serialize attempts through the connection state tracker; a
// second call while one is outstanding is rejected with
// ErrAttemptInProgress rather than racing the first.
func (h *Handler) Authenticate(ctx context.Context, cfg AuthorizeConfig) (Result, error) {
	state := cfg.State
	if state == "" {
		var err error
		if state, err = NewState(); err != nil {
			return Result{}, fmt.Errorf("generating state: %w", err)
		}
	}

	authURL := h.buildAuthURL(cfg, state)

	att := &attempt{
		state: state,
		inbox: make(chan Message, 8),
		abort: make(chan struct{}),
	}

	h.mu.Lock()
	if h.current != nil {
		h.mu.Unlock()
		return Result{}, apperrors.ErrAttemptInProgress
	}
	h.current = att
	h.mu.Unlock()

	win, err := h.opener.Open(authURL)
	if err != nil || win == nil {
		h.release(att)
		log.Warn().Err(err).Msg("authorization popup failed to open")
		return Result{}, apperrors.ErrPopupBlocked
	}
	att.window = win

	log.Debug().Str("auth_url", h.authURL).Msg("authorization popup opened")

	return h.await(ctx, att)
}

// await is the single writer of the attempt's outcome: the message inbox,
// the close poll, and the timeout race inside one select loop.
func (h *Handler) await(ctx context.Context, att *attempt) (Result, error) {
	timer := time.NewTimer(h.timeout)
	defer timer.Stop()
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()
	defer h.release(att)

	for {
		select {
		case msg := <-att.inbox:
			if _, ok := h.allowedOrigins[msg.Origin]; !ok {
				log.Warn().Str("origin", msg.Origin).Msg("ignoring popup message from disallowed origin")
				continue
			}
			switch msg.Type {
			case MessageTypeSuccess:
				if msg.State != att.state {
					log.Error().Msg("authorization state mismatch, rejecting attempt")
					return Result{}, apperrors.ErrStateMismatch
				}
				log.Info().Msg("authorization popup completed")
				return Result{Code: msg.Code, State: msg.State}, nil
			case MessageTypeError:
				reason := msg.Error
				if reason == "" {
					reason = "unknown error"
				}
				log.Warn().Str("reason", reason).Msg("authorization error received from popup")
				return Result{}, fmt.Errorf("%w: %s", apperrors.ErrAuthorizationDenied, reason)
			default:
				continue
			}

		case <-ticker.C:
			if att.window.Closed() {
				log.Info().Msg("authorization popup closed by user")
				return Result{}, apperrors.ErrUserAborted
			}

		case <-timer.C:
			log.Warn().Dur("timeout", h.timeout).Msg("authorization popup timed out")
			return Result{}, apperrors.ErrAuthTimeout

		case <-att.abort:
			return Result{}, apperrors.ErrUserAborted

		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
}

// Deliver hands a cross-window message to the in-flight attempt. Returns
// false when no attempt is outstanding. Origin filtering happens on the
// receiving side so a disallowed message leaves the attempt pending.
func (h *Handler) Deliver(msg Message) bool {
	h.mu.Lock()
	att := h.current
	h.mu.Unlock()
	if att == nil {
		return false
	}
	select {
	case att.inbox <- msg:
	default:
		// A flooded inbox means something other than the popup is posting;
		// dropping keeps one rogue sender from wedging the attempt.
		log.Warn().Msg("popup message inbox full, dropping message")
	}
	return true
}

// ForceCleanup tears down any in-flight attempt, for caller-triggered
// teardown such as navigating away. Safe to call redundantly.
func (h *Handler) ForceCleanup() {
	h.mu.Lock()
	att := h.current
	h.mu.Unlock()
	if att != nil {
		att.cancel()
	}
}

// release closes the popup if still open and clears the attempt slot.
// Idempotent: redundant calls find nothing left to do.
func (h *Handler) release(att *attempt) {
	h.mu.Lock()
	if h.current == att {
		h.current = nil
	}
	h.mu.Unlock()
	if att.window != nil {
		att.window.Close()
	}
}

func (h *Handler) buildAuthURL(cfg AuthorizeConfig, state string) string {
	conf := &oauth2.Config{
		ClientID:    cfg.ClientID,
		RedirectURL: cfg.RedirectURI,
		Scopes:      cfg.Scopes,
		Endpoint:    oauth2.Endpoint{AuthURL: h.authURL},
	}
	return conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}
