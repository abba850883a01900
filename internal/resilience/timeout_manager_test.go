package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibeorch/engine/internal/config"
	"github.com/vibeorch/engine/internal/orcherr"
)

func testRegistry(t *testing.T) *config.ConfigRegistry {
	t.Helper()
	r, err := config.Init("")
	require.NoError(t, err)
	t.Cleanup(config.Teardown)
	return r
}

func TestRunSucceedsFirstTry(t *testing.T) {
	m := New(testRegistry(t), nil)
	res := m.Run(context.Background(), config.OpLLMRequest, func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	assert.True(t, res.OK)
	assert.Equal(t, "ok", res.Value)
	assert.Equal(t, 0, res.RetryCount)
}

// TestRetryOnTransientOracleFailure mirrors spec.md §8 scenario S5: the
// oracle fails twice with a retryable OracleError, then succeeds, and the
// manager is configured with maxRetries=3, multiplier=2, initial=100ms.
func TestRetryOnTransientOracleFailure(t *testing.T) {
	registry := testRegistry(t)
	m := New(registry, nil)

	attempts := 0
	start := time.Now()
	res := m.Run(context.Background(), config.OpLLMRequest, func(ctx context.Context) (interface{}, error) {
		attempts++
		if attempts <= 2 {
			return nil, orcherr.OracleError("transient failure", nil)
		}
		return "done", nil
	}, Overrides{RetryPolicy: &config.RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
		Strategy:     config.BackoffExponential,
	}})
	elapsed := time.Since(start)

	require.True(t, res.OK)
	assert.Equal(t, "done", res.Value)
	assert.Equal(t, 2, res.RetryCount)
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
}

func TestNonRetryableShortCircuits(t *testing.T) {
	m := New(testRegistry(t), nil)
	attempts := 0
	res := m.Run(context.Background(), config.OpLLMRequest, func(ctx context.Context) (interface{}, error) {
		attempts++
		return nil, orcherr.ValidationError("title", "empty")
	})
	assert.False(t, res.OK)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 0, res.RetryCount)
}

func TestRunExhaustsRetries(t *testing.T) {
	m := New(testRegistry(t), nil)
	res := m.Run(context.Background(), config.OpLLMRequest, func(ctx context.Context) (interface{}, error) {
		return nil, orcherr.OracleError("down", nil)
	}, Overrides{RetryPolicy: &config.RetryPolicy{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2,
		Strategy:     config.BackoffExponential,
	}})
	assert.False(t, res.OK)
	assert.Equal(t, 2, res.RetryCount)
}

func TestRunHonorsCancellation(t *testing.T) {
	m := New(testRegistry(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := m.Run(ctx, config.OpLLMRequest, func(ctx context.Context) (interface{}, error) {
		return nil, orcherr.OracleError("down", nil)
	})
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestRaceTimesOut(t *testing.T) {
	m := New(testRegistry(t), nil)
	d := 5 * time.Millisecond
	res := m.Race(context.Background(), config.OpLLMRequest, func(ctx context.Context) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, Overrides{Timeout: &d})
	assert.False(t, res.OK)
	assert.True(t, res.TimedOut)
}
