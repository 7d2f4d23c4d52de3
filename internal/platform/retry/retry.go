// Package retry wraps cenkalti/backoff with a classify-then-retry policy.
// It is used for startup dependencies only; request paths never retry.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type Action int

const (
	Stop  Action = iota // permanent error, abort immediately
	Retry               // transient error, use normal backoff
)

type Policy struct {
	MaxAttempts    uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	OnRetry        func(err error, next time.Duration)
}

type Classify func(err error) Action
type Operation[T any] func() (T, error)

// Always treats every error as transient.
func Always(error) Action { return Retry }

func Do[T any](ctx context.Context, p Policy, classify Classify, op Operation[T]) (T, error) {
	if p.MaxAttempts == 0 {
		panic("retry: MaxAttempts must be >= 1")
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	if p.MaxBackoff > 0 {
		b.MaxInterval = p.MaxBackoff
	}
	b.Reset()

	attempts := uint(0)
	val, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, err := op()
		if err != nil && classify(err) == Stop {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			if p.OnRetry != nil {
				p.OnRetry(err, next)
			}
		}),
	)
	if err != nil {
		return val, fmt.Errorf("failed after %d attempts: %w", attempts, err)
	}
	return val, nil
}

func DoVoid(ctx context.Context, p Policy, classify Classify, op func() error) error {
	_, err := Do(ctx, p, classify, func() (struct{}, error) { return struct{}{}, op() })
	return err
}
