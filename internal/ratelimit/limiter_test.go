package ratelimit

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibeorch/engine/internal/orcherr"
)

func TestSlidingWindowAllowsUpToLimit(t *testing.T) {
	w := newSlidingWindow(3, time.Minute)
	for i := 0; i < 3; i++ {
		d := w.Allow("k")
		assert.True(t, d.Allowed)
	}
	d := w.Allow("k")
	assert.False(t, d.Allowed)
}

func TestSlidingWindowRecoversAfterWindowElapses(t *testing.T) {
	w := newSlidingWindow(1, 10*time.Millisecond)
	require.True(t, w.Allow("k").Allowed)
	assert.False(t, w.Allow("k").Allowed)
	time.Sleep(20 * time.Millisecond)
	assert.True(t, w.Allow("k").Allowed)
}

func TestSlidingWindowKeysAreIndependent(t *testing.T) {
	w := newSlidingWindow(1, time.Minute)
	assert.True(t, w.Allow("a").Allowed)
	assert.True(t, w.Allow("b").Allowed)
	assert.False(t, w.Allow("a").Allowed)
}

func TestTokenBucketAllowsBurstThenThrottles(t *testing.T) {
	b := newTokenBucket(1, 2)
	assert.True(t, b.Allow("k").Allowed)
	assert.True(t, b.Allow("k").Allowed)
	assert.False(t, b.Allow("k").Allowed)
}

func TestRegistryAllowReturnsRateLimitError(t *testing.T) {
	r := New(Config{GeneralLimit: 1, GeneralWindow: 60}, zerolog.Nop())
	_, err := r.Allow(General, "caller")
	require.NoError(t, err)
	_, err = r.Allow(General, "caller")
	require.Error(t, err)
	assert.True(t, orcherr.IsKind(err, orcherr.KindRateLimit))
}

func TestRegistryAppliesDefaultsWhenUnset(t *testing.T) {
	r := New(Config{}, zerolog.Nop())
	d, err := r.Allow(TaskStart, "caller")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
