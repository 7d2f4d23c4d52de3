package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pscheid92/redeemcast/internal/platform/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = retry.Policy{
	MaxAttempts:    3,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     5 * time.Millisecond,
}

func TestDo_SuccessFirstAttempt(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), fastPolicy, retry.Always, func() (struct{}, error) {
		calls++
		return struct{}{}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ReturnsValueAfterRetries(t *testing.T) {
	calls := 0
	val, err := retry.Do(context.Background(), fastPolicy, retry.Always, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, val)
	assert.Equal(t, 3, calls)
}

func TestDo_StopClassificationAbortsImmediately(t *testing.T) {
	permanent := errors.New("bad redis url")
	calls := 0
	_, err := retry.Do(context.Background(), fastPolicy, alwaysStop, func() (struct{}, error) {
		calls++
		return struct{}{}, permanent
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustedRetries(t *testing.T) {
	underlying := errors.New("connection refused")
	calls := 0
	_, err := retry.Do(context.Background(), fastPolicy, retry.Always, func() (struct{}, error) {
		calls++
		return struct{}{}, underlying
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, underlying)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestDo_OnRetryCalledBetweenAttempts(t *testing.T) {
	var notified int
	p := fastPolicy
	p.OnRetry = func(error, time.Duration) { notified++ }

	_ = retry.DoVoid(context.Background(), p, retry.Always, func() error {
		return errors.New("fail")
	})

	assert.Equal(t, 2, notified)
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := retry.Policy{MaxAttempts: 5, InitialBackoff: 10 * time.Second}

	calls := 0
	err := retry.DoVoid(ctx, p, retry.Always, func() error {
		calls++
		cancel()
		return errors.New("transient")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func alwaysStop(error) retry.Action { return retry.Stop }
