package redis

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failingProcess(ctx context.Context, cmd goredis.Cmder) error {
	return errors.New("connection refused")
}

func okProcess(ctx context.Context, cmd goredis.Cmder) error {
	return nil
}

func runProcess(t *testing.T, hook *CircuitBreakerHook, next goredis.ProcessHook) error {
	t.Helper()
	ctx := context.Background()
	return hook.ProcessHook(next)(ctx, goredis.NewStatusCmd(ctx, "set", "k", "v"))
}

func TestCircuitBreakerHook_NormalOperation(t *testing.T) {
	hook := NewCircuitBreakerHook()
	assert.Equal(t, circuitbreaker.ClosedState, hook.GetState())

	for range 10 {
		require.NoError(t, runProcess(t, hook, okProcess))
	}

	assert.Equal(t, circuitbreaker.ClosedState, hook.GetState())
}

func TestCircuitBreakerHook_TransientFailures(t *testing.T) {
	hook := NewCircuitBreakerHook()

	for range 4 {
		err := runProcess(t, hook, failingProcess)
		require.Error(t, err)
		assert.NotErrorIs(t, err, circuitbreaker.ErrOpen)
	}

	assert.Equal(t, circuitbreaker.ClosedState, hook.GetState())
}

func TestCircuitBreakerHook_OpensAfterConsecutiveFailures(t *testing.T) {
	hook := NewCircuitBreakerHook()

	for range 5 {
		require.Error(t, runProcess(t, hook, failingProcess))
	}

	assert.Equal(t, circuitbreaker.OpenState, hook.GetState())
}

func TestCircuitBreakerHook_FailsFastWhenOpen(t *testing.T) {
	hook := NewCircuitBreakerHook()
	for range 5 {
		_ = runProcess(t, hook, failingProcess)
	}

	called := false
	err := runProcess(t, hook, func(ctx context.Context, cmd goredis.Cmder) error {
		called = true
		return nil
	})

	require.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.False(t, called, "next hook must not run while open")
}

func TestCircuitBreakerHook_RecoversThroughHalfOpen(t *testing.T) {
	hook := newCircuitBreakerHook(2, 20*time.Millisecond)
	for range 2 {
		_ = runProcess(t, hook, failingProcess)
	}
	require.Equal(t, circuitbreaker.OpenState, hook.GetState())

	require.Eventually(t, func() bool {
		return hook.GetState() == circuitbreaker.HalfOpenState
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, runProcess(t, hook, okProcess))
	assert.Equal(t, circuitbreaker.ClosedState, hook.GetState())
}

func TestCircuitBreakerHook_NilReplyIsNotAFailure(t *testing.T) {
	hook := NewCircuitBreakerHook()

	for range 10 {
		err := runProcess(t, hook, func(ctx context.Context, cmd goredis.Cmder) error {
			return goredis.Nil
		})
		assert.ErrorIs(t, err, goredis.Nil)
	}

	assert.Equal(t, circuitbreaker.ClosedState, hook.GetState())
}

func TestCircuitBreakerHook_DialFailuresCount(t *testing.T) {
	hook := NewCircuitBreakerHook()
	dial := hook.DialHook(func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, errors.New("dial tcp: connection refused")
	})

	for range 5 {
		_, err := dial(context.Background(), "tcp", "127.0.0.1:1")
		require.Error(t, err)
	}

	_, err := dial(context.Background(), "tcp", "127.0.0.1:1")
	require.ErrorIs(t, err, circuitbreaker.ErrOpen)
}

func TestCircuitBreakerHook_PipelineFailuresCount(t *testing.T) {
	hook := NewCircuitBreakerHook()
	pipe := hook.ProcessPipelineHook(func(ctx context.Context, cmds []goredis.Cmder) error {
		return errors.New("broken pipe")
	})

	for range 5 {
		require.Error(t, pipe(context.Background(), nil))
	}

	assert.Equal(t, circuitbreaker.OpenState, hook.GetState())
}

func TestStateToFloat(t *testing.T) {
	assert.Equal(t, 0.0, stateToFloat(circuitbreaker.ClosedState))
	assert.Equal(t, 1.0, stateToFloat(circuitbreaker.HalfOpenState))
	assert.Equal(t, 2.0, stateToFloat(circuitbreaker.OpenState))
}
