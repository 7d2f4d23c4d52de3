package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv             string `env:"APP_ENV" default:"development"`
	Port               string `env:"PORT" default:"3000"`
	TwitchClientID     string `env:"TWITCH_CLIENT_ID"`
	TwitchClientSecret string `env:"TWITCH_CLIENT_SECRET"`
	TwitchRedirectURI  string `env:"TWITCH_REDIRECT_URI"`
	EventSubSecret     string `env:"EVENTSUB_SECRET"`
	EventSubCallback   string `env:"EVENTSUB_CALLBACK_URL"`
	SessionSecret      string `env:"SESSION_SECRET"`
	TokenEncryptionKey string `env:"TOKEN_ENCRYPTION_KEY"`
	RedisURL           string `env:"REDIS_URL"`
	LogLevel           string `env:"LOG_LEVEL" default:"info"`
	LogFormat          string `env:"LOG_FORMAT" default:"text"`

	RewardsFile string `env:"REWARDS_FILE" default:"data/rewards.json"`
	MediaDir    string `env:"MEDIA_DIR" default:"media"`

	MaxOverlayClients int `env:"MAX_OVERLAY_CLIENTS" default:"50"`

	SessionMaxAge    time.Duration `env:"SESSION_MAX_AGE" default:"168h"` // 7 days
	PingInterval     time.Duration `env:"PING_INTERVAL" default:"30s"`
	DedupTTL         time.Duration `env:"DEDUP_TTL" default:"10m"`
	WebhookMaxAge    time.Duration `env:"WEBHOOK_MAX_AGE" default:"10m"`
	TwitchAPITimeout time.Duration `env:"TWITCH_API_TIMEOUT" default:"10s"`
	OverlayTokenTTL  time.Duration `env:"OVERLAY_TOKEN_TTL" default:"8760h"` // 1 year
}

// IsProduction reports whether cookies and headers should be locked down.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	// Ordered so the first missing variable is reported deterministically.
	required := []struct{ name, value string }{
		{"TWITCH_CLIENT_ID", cfg.TwitchClientID},
		{"TWITCH_CLIENT_SECRET", cfg.TwitchClientSecret},
		{"TWITCH_REDIRECT_URI", cfg.TwitchRedirectURI},
		{"EVENTSUB_SECRET", cfg.EventSubSecret},
		{"EVENTSUB_CALLBACK_URL", cfg.EventSubCallback},
		{"SESSION_SECRET", cfg.SessionSecret},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	// Twitch rejects webhook secrets outside this range when subscribing.
	if len(cfg.EventSubSecret) < 10 || len(cfg.EventSubSecret) > 100 {
		return errors.New("EVENTSUB_SECRET must be between 10 and 100 characters")
	}

	callback, err := url.Parse(cfg.EventSubCallback)
	if err != nil || callback.Host == "" {
		return fmt.Errorf("EVENTSUB_CALLBACK_URL must be an absolute URL")
	}
	if callback.Scheme != "https" {
		return errors.New("EVENTSUB_CALLBACK_URL must use https")
	}

	if cfg.TokenEncryptionKey != "" {
		keyBytes, err := hex.DecodeString(cfg.TokenEncryptionKey)
		if err != nil {
			return fmt.Errorf("TOKEN_ENCRYPTION_KEY must be valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("TOKEN_ENCRYPTION_KEY must be exactly 64 hex characters (32 bytes), got %d bytes", len(keyBytes))
		}
	}

	if cfg.MaxOverlayClients < 1 {
		return errors.New("MAX_OVERLAY_CLIENTS must be at least 1")
	}
	if cfg.PingInterval <= 0 {
		return errors.New("PING_INTERVAL must be positive")
	}
	if cfg.WebhookMaxAge <= 0 {
		return errors.New("WEBHOOK_MAX_AGE must be positive")
	}
	if cfg.DedupTTL < cfg.WebhookMaxAge {
		return fmt.Errorf("DEDUP_TTL (%s) must not be shorter than WEBHOOK_MAX_AGE (%s)", cfg.DedupTTL, cfg.WebhookMaxAge)
	}
	if cfg.TwitchAPITimeout <= 0 {
		return errors.New("TWITCH_API_TIMEOUT must be positive")
	}

	return nil
}
