package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pscheid92/redeemcast/internal/platform/retry"
	goredis "github.com/redis/go-redis/v9"
)

// startupPolicy bounds how long we wait for Redis to come up at boot.
var startupPolicy = retry.Policy{
	MaxAttempts:    5,
	InitialBackoff: 200 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// NewClient creates a Redis client from a URL (e.g., "redis://localhost:6379"),
// waits for it to answer PING, and installs the metrics and circuit breaker
// hooks.
func NewClient(ctx context.Context, redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := goredis.NewClient(opts)

	policy := startupPolicy
	policy.OnRetry = func(err error, next time.Duration) {
		slog.Warn("Redis not ready, retrying", "error", err, "next_attempt_in", next)
	}
	err = retry.DoVoid(ctx, policy, classifyStartupError, func() error {
		return rdb.Ping(ctx).Err()
	})
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// Hooks go on after the startup ping so boot retries cannot trip the breaker.
	rdb.AddHook(&MetricsHook{})
	rdb.AddHook(NewCircuitBreakerHook())

	slog.Info("Connected to Redis", "addr", opts.Addr, "db", opts.DB)
	return rdb, nil
}

func classifyStartupError(err error) retry.Action {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Stop
	}
	return retry.Retry
}
