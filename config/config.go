// Package config loads the linking core's configuration from environment
// variables, an optional yaml file, and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "github.com/creatorlens/channellink/errors"
)

// Config holds every setting the linking core needs. Tags use mapstructure
// for Viper unmarshalling; env vars use the same names.
type Config struct {
	// OAuth client registration with the platform.
	ClientID     string `mapstructure:"YOUTUBE_CLIENT_ID"`
	ClientSecret string `mapstructure:"YOUTUBE_CLIENT_SECRET"`
	RedirectURI  string `mapstructure:"YOUTUBE_REDIRECT_URI"`
	Scopes       string `mapstructure:"YOUTUBE_SCOPES"` // space-separated

	// Endpoints. Overridable for tests; defaults point at Google.
	AuthURL     string `mapstructure:"OAUTH_AUTH_URL"`
	TokenURL    string `mapstructure:"OAUTH_TOKEN_URL"`
	DataAPIBase string `mapstructure:"YOUTUBE_API_BASE_URL"`

	// Origins allowed to deliver popup result messages.
	AppOrigin      string `mapstructure:"APP_ORIGIN"`
	ProviderOrigin string `mapstructure:"PROVIDER_ORIGIN"`

	// Popup flow tuning.
	PopupTimeout      time.Duration `mapstructure:"POPUP_TIMEOUT"`
	PopupPollInterval time.Duration `mapstructure:"POPUP_POLL_INTERVAL"`

	// Persistence.
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`
	RedisAddr   string `mapstructure:"REDIS_ADDR"`
	VaultDriver string `mapstructure:"TOKEN_VAULT_DRIVER"` // "mongo" or "redis"

	// 32-byte key for token-at-rest encryption, base64 encoded.
	VaultCipherKey string `mapstructure:"TOKEN_VAULT_KEY"`

	HTTPPort  string `mapstructure:"HTTP_PORT"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`
}

// ScopeList returns the configured scopes split on whitespace.
func (c *Config) ScopeList() []string {
	return strings.Fields(c.Scopes)
}

// Validate fails fast with a ConfigError when required credentials are
// missing. A connect flow is never attempted against a partial config.
func (c *Config) Validate() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "YOUTUBE_CLIENT_ID")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "YOUTUBE_CLIENT_SECRET")
	}
	if c.RedirectURI == "" {
		missing = append(missing, "YOUTUBE_REDIRECT_URI")
	}
	if c.VaultCipherKey == "" {
		missing = append(missing, "TOKEN_VAULT_KEY")
	}
	if len(missing) > 0 {
		return apperrors.NewConfigError(missing...)
	}
	return nil
}

// Load reads configuration from .env, a config file, env vars, and defaults.
func Load() (*Config, error) {
	// A local .env is a developer convenience; absence is fine.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/channellink/")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("YOUTUBE_SCOPES",
		"https://www.googleapis.com/auth/youtube.readonly https://www.googleapis.com/auth/youtube.force-ssl")
	v.SetDefault("OAUTH_AUTH_URL", "https://accounts.google.com/o/oauth2/v2/auth")
	v.SetDefault("OAUTH_TOKEN_URL", "https://oauth2.googleapis.com/token")
	v.SetDefault("YOUTUBE_API_BASE_URL", "https://www.googleapis.com/youtube/v3")
	v.SetDefault("PROVIDER_ORIGIN", "https://accounts.google.com")
	v.SetDefault("POPUP_TIMEOUT", 5*time.Minute)
	v.SetDefault("POPUP_POLL_INTERVAL", time.Second)
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DB_NAME", "channellink_dev")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("TOKEN_VAULT_DRIVER", "mongo")
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	return &cfg, nil
}
