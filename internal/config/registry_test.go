package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsWithinBounds(t *testing.T) {
	require.NoError(t, validate(defaults()))
}

func TestValidateRejectsOutOfBoundsTimeout(t *testing.T) {
	snap := defaults()
	snap.Timeouts.TaskExecution = 1 * time.Second
	err := validate(snap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "taskExecution")
}

func TestValidateAggregatesMultipleViolations(t *testing.T) {
	snap := defaults()
	snap.Timeouts.TaskExecution = time.Millisecond
	snap.Retry.MaxRetries = 99
	snap.Retry.Multiplier = 0.1
	err := validate(snap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "taskExecution")
	assert.Contains(t, err.Error(), "maxRetries")
	assert.Contains(t, err.Error(), "multiplier")
}

func TestInitGetInstanceTeardown(t *testing.T) {
	defer Teardown()

	r, err := Init("")
	require.NoError(t, err)
	require.NotNil(t, r)

	got := GetInstance()
	assert.Equal(t, r, got)
	assert.Equal(t, 5*time.Minute, got.GetTimeout(OpTaskExecution))

	Teardown()
	// Teardown is idempotent.
	Teardown()

	// With no instance installed, GetInstance falls back to safe defaults.
	fb := GetInstance()
	assert.Equal(t, 5*time.Minute, fb.GetTimeout(OpTaskExecution))
}

func TestReentrantInitReturnsFallback(t *testing.T) {
	defer Teardown()

	instanceMu.Lock()
	initializing = true
	instanceMu.Unlock()
	defer func() {
		instanceMu.Lock()
		initializing = false
		instanceMu.Unlock()
	}()

	r, err := Init("")
	require.NoError(t, err)
	assert.Same(t, fallback, r)
}

func TestEnvOverridesApply(t *testing.T) {
	defer Teardown()
	t.Setenv("VIBE_MAX_RETRIES", "7")
	t.Setenv("VIBE_MIN_CONFIDENCE", "0.5")

	r, err := Init("")
	require.NoError(t, err)
	assert.Equal(t, 7, r.GetRetryPolicy().MaxRetries)
	assert.Equal(t, 0.5, r.GetLimits().MinConfidence)
}

func TestReload(t *testing.T) {
	defer Teardown()
	r, err := Init("")
	require.NoError(t, err)

	before := r.GetLimits().MinConfidence
	t.Setenv("VIBE_MIN_CONFIDENCE", "0.9")
	require.NoError(t, r.Reload())
	assert.NotEqual(t, before, r.GetLimits().MinConfidence)
	assert.Equal(t, 0.9, r.GetLimits().MinConfidence)
}
