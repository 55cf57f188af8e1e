// Command channellinkd runs the account linking service as a standalone
// HTTP server, for development and integration testing.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	linkapi "github.com/creatorlens/channellink/api/echo"
	redisvault "github.com/creatorlens/channellink/cache/redis"
	"github.com/creatorlens/channellink/config"
	"github.com/creatorlens/channellink/domain"
	"github.com/creatorlens/channellink/internal/connstate"
	"github.com/creatorlens/channellink/internal/oauthflow"
	"github.com/creatorlens/channellink/internal/tokenclient"
	"github.com/creatorlens/channellink/internal/tokencrypt"
	"github.com/creatorlens/channellink/mongodb"
	"github.com/creatorlens/channellink/services"
	"github.com/creatorlens/channellink/youtube"
)

// devOpener logs the authorization URL instead of opening a browser
// window. A developer follows the URL by hand; the provider redirect into
// /oauth/callback settles the attempt.
//
// The dev server shares one popup handler across all requests, so only a
// single authorization attempt can be outstanding at a time regardless of
// user. That fits the one-developer use this binary serves; a multi-user
// deployment would hold a handler per session.
type devOpener struct{}

type devWindow struct{}

func (devWindow) Closed() bool { return false }
func (devWindow) Close()       {}

func (devOpener) Open(url string) (oauthflow.Window, error) {
	log.Info().Str("url", url).Msg("open this URL in a browser to authorize")
	return devWindow{}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	if parseErr != nil {
		log.Warn().Str("configured_log_level", cfg.LogLevel).Msg("invalid LOG_LEVEL, defaulting to info")
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("configuration incomplete")
	}

	log.Info().
		Str("http_port", cfg.HTTPPort).
		Str("mongo_db", cfg.MongoDBName).
		Str("vault_driver", cfg.VaultDriver).
		Msg("starting channellinkd")

	ctx := context.Background()
	if err := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize MongoDB")
	}
	db := mongodb.GetDB()

	cipher, err := tokencrypt.NewCipher(cfg.VaultCipherKey)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid TOKEN_VAULT_KEY")
	}

	var vault domain.TokenVault
	switch cfg.VaultDriver {
	case "redis":
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to reach Redis")
		}
		vault = redisvault.NewTokenVault(rdb, cipher, "channellink")
	default:
		vault = mongodb.NewTokenVault(db, cipher)
	}

	repo, err := mongodb.NewConnectionRepository(ctx, db, vault, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize connection repository")
	}

	tracker := connstate.NewTracker()
	defer tracker.Stop()

	flow := oauthflow.NewHandler(devOpener{}, oauthflow.Options{
		AuthURL:        cfg.AuthURL,
		AllowedOrigins: []string{cfg.AppOrigin, cfg.ProviderOrigin},
		Timeout:        cfg.PopupTimeout,
		PollInterval:   cfg.PopupPollInterval,
	})
	tokens := tokenclient.New(cfg.TokenURL, nil, nil)
	platform := youtube.NewClient(cfg.DataAPIBase, nil)

	svc := services.NewLinkingService(cfg, linkapi.ContextSessions{}, repo, flow, tokens, platform, tracker, nil)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(linkapi.UserFromHeader())
	linkapi.NewLinkingAPI(svc, flow, cfg.ProviderOrigin).RegisterRoutes(e)

	e.GET("/healthz", func(c echo.Context) error {
		if err := mongodb.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	go func() {
		if err := e.Start(":" + cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	mongodb.CloseMongoDB(shutdownCtx)

	log.Info().Msg("server stopped")
}
