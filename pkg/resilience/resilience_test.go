package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/errs"
)

func fastWrapper(cfg Config, metrics Metrics) *Wrapper {
	w := New("tester", cfg, metrics)
	w.rand = func() float64 { return 0 }
	return w
}

func TestDoSucceedsFirstTry(t *testing.T) {
	w := fastWrapper(Config{}, Metrics{})
	result, err := w.Do(context.Background(), func(ctx context.Context) (string, error) {
		return "ok", nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)
	assert.Equal(t, 1, result.Attempts)
}

func TestDoRetriesOnHTTP5xxThenSucceeds(t *testing.T) {
	calls := 0
	w := fastWrapper(Config{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}, Metrics{})
	result, err := w.Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errs.New(errs.HTTP5xx, "boom")
		}
		return "recovered", nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Text)
	assert.Equal(t, 3, result.Attempts)
}

func TestDoDoesNotRetryHTTP4xx(t *testing.T) {
	calls := 0
	w := fastWrapper(Config{}, Metrics{})
	_, err := w.Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "", errs.New(errs.HTTP4xx, "bad request")
	}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetries429(t *testing.T) {
	calls := 0
	w := fastWrapper(Config{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}, Metrics{})
	result, err := w.Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errs.NewRetriable(errs.HTTP4xx, "rate limited")
		}
		return "ok", nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)
}

func TestDoShrinksOnContextOverflowOnce(t *testing.T) {
	calls := 0
	shrinkCalls := 0
	w := fastWrapper(Config{InitialDelay: time.Millisecond}, Metrics{
		OnContextShrink: func(role string) { shrinkCalls++ },
	})

	shrink := func() Call {
		return func(ctx context.Context) (string, error) {
			calls++
			return "shrunk ok", nil
		}
	}

	result, err := w.Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "", errs.New(errs.ContextOverfow, "too many tokens")
	}, shrink)

	require.NoError(t, err)
	assert.Equal(t, "shrunk ok", result.Text)
	assert.Equal(t, 1, result.ContextShrink)
	assert.Equal(t, 1, shrinkCalls)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	w := fastWrapper(Config{MaxAttempts: 1, FailureThresh: 2, RecoveryPeriod: time.Hour}, Metrics{})

	failingCall := func(ctx context.Context) (string, error) {
		return "", errs.New(errs.Network, "down")
	}

	_, _ = w.Do(context.Background(), failingCall, nil)
	_, _ = w.Do(context.Background(), failingCall, nil)

	_, err := w.Do(context.Background(), failingCall, nil)
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.OpenCircuit, kind)
}

func TestBreakerHalfOpenProbeAfterRecovery(t *testing.T) {
	w := fastWrapper(Config{MaxAttempts: 1, FailureThresh: 1, RecoveryPeriod: 10 * time.Millisecond}, Metrics{})

	_, _ = w.Do(context.Background(), func(ctx context.Context) (string, error) {
		return "", errs.New(errs.Network, "down")
	}, nil)

	_, err := w.Do(context.Background(), func(ctx context.Context) (string, error) {
		return "", errs.New(errs.Network, "down")
	}, nil)
	require.Error(t, err)
	kind, _ := errs.KindOf(err)
	assert.Equal(t, errs.OpenCircuit, kind)

	time.Sleep(20 * time.Millisecond)

	result, err := w.Do(context.Background(), func(ctx context.Context) (string, error) {
		return "recovered", nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Text)
}

func TestRetryBoundsTotalAttempts(t *testing.T) {
	calls := 0
	w := fastWrapper(Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}, Metrics{})
	_, err := w.Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "", errs.New(errs.Network, "down")
	}, nil)
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}
