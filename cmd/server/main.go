package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/redeemcast/internal/broadcast"
	"github.com/pscheid92/redeemcast/internal/crypto"
	"github.com/pscheid92/redeemcast/internal/dedup"
	"github.com/pscheid92/redeemcast/internal/domain"
	"github.com/pscheid92/redeemcast/internal/overlay"
	"github.com/pscheid92/redeemcast/internal/platform/config"
	"github.com/pscheid92/redeemcast/internal/platform/logging"
	"github.com/pscheid92/redeemcast/internal/platform/version"
	"github.com/pscheid92/redeemcast/internal/redis"
	"github.com/pscheid92/redeemcast/internal/rewards"
	"github.com/pscheid92/redeemcast/internal/server"
	"github.com/pscheid92/redeemcast/internal/twitch"
	goredis "github.com/redis/go-redis/v9"
)

const (
	shutdownTimeout    = 10 * time.Second
	dedupEvictInterval = time.Minute
)

// dedupBackend is the de-duplication store plus whatever needs releasing on exit.
type dedupBackend struct {
	store       domain.Deduplicator
	redisClient *goredis.Client
	stop        func()
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupSealer(cfg *config.Config) crypto.Sealer {
	sealer, err := crypto.New(cfg.TokenEncryptionKey)
	if err != nil {
		slog.Error("Failed to create token sealer", "error", err)
		os.Exit(1)
	}
	if _, plain := sealer.(crypto.Plain); plain {
		slog.Warn("TOKEN_ENCRYPTION_KEY not set, access tokens are stored unencrypted in the session cookie")
	}
	return sealer
}

// setupDedup uses Redis when REDIS_URL is set so several replicas share one
// view of delivered message ids; otherwise an in-process store.
func setupDedup(ctx context.Context, cfg *config.Config, clock clockwork.Clock) dedupBackend {
	if cfg.RedisURL == "" {
		store := dedup.NewMemoryStore(cfg.DedupTTL, clock)
		return dedupBackend{store: store, stop: store.StartEvictionTimer(dedupEvictInterval)}
	}

	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("Using Redis for EventSub de-duplication")
	return dedupBackend{
		store:       redis.NewDeduplicator(client, cfg.DedupTTL),
		redisClient: client,
		stop:        func() {},
	}
}

func setupRewards(ctx context.Context, cfg *config.Config) *rewards.Store {
	store, err := rewards.Open(cfg.RewardsFile)
	if err != nil {
		slog.Error("Failed to open rewards file", "path", cfg.RewardsFile, "error", err)
		os.Exit(1)
	}
	slog.Info("Rewards loaded", "path", cfg.RewardsFile, "count", len(store.All()))

	go func() {
		err := rewards.Watch(ctx, store, func(err error) {
			if err != nil {
				slog.Error("Failed to reload rewards file", "error", err)
				return
			}
			slog.Info("Rewards file reloaded", "count", len(store.All()))
		})
		if err != nil {
			slog.Error("Rewards file watcher stopped", "error", err)
		}
	}()
	return store
}

func healthChecks(store *rewards.Store, redisClient *goredis.Client) []server.HealthCheck {
	checks := []server.HealthCheck{{
		Name: "rewards",
		Check: func(context.Context) error {
			if _, err := os.Stat(store.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("rewards file: %w", err)
			}
			return nil
		},
	}}
	if redisClient != nil {
		checks = append(checks, server.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	return checks
}

func runGracefulShutdown(srv *server.Server, broadcaster *broadcast.Broadcaster, stopBackground context.CancelFunc, backend dedupBackend) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		broadcaster.Stop()
		stopBackground()
		backend.stop()

		if backend.redisClient != nil {
			if err := backend.redisClient.Close(); err != nil {
				slog.Error("Failed to close Redis client", "error", err)
			}
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "version", version.Get().String(), "env", cfg.AppEnv, "port", cfg.Port)

	ctx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	sealer := setupSealer(cfg)
	store := setupRewards(ctx, cfg)
	backend := setupDedup(ctx, cfg, clock)

	twitchClient := twitch.NewClient(twitch.ClientConfig{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
		RedirectURI:  cfg.TwitchRedirectURI,
		Timeout:      cfg.TwitchAPITimeout,
	})
	eventsubMgr := twitch.NewEventSubManager(twitchClient, cfg.EventSubCallback, cfg.EventSubSecret)

	broadcaster := broadcast.NewBroadcaster(clock, cfg.MaxOverlayClients, cfg.PingInterval)
	webhookHandler := twitch.NewWebhookHandler(cfg.EventSubSecret, store, broadcaster, backend.store, clock, cfg.WebhookMaxAge)

	// Overlay URLs are signed with the session secret; rotating it invalidates both.
	issuer := overlay.NewIssuer(cfg.SessionSecret, cfg.OverlayTokenTTL, clock)

	srv, err := server.NewServer(cfg, server.Deps{
		Auth:         twitchClient,
		Rewards:      store,
		Creator:      twitchClient,
		EventSub:     eventsubMgr,
		Hub:          broadcaster,
		Webhook:      webhookHandler,
		Overlay:      issuer,
		Sealer:       sealer,
		HealthChecks: healthChecks(store, backend.redisClient),
	})
	if err != nil {
		slog.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	done := runGracefulShutdown(srv, broadcaster, stopBackground, backend)

	slog.Info("Server starting", "port", cfg.Port, "eventsub_callback", cfg.EventSubCallback)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
