package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 3, Timeout: time.Second}, nil)
	for i := 0; i < 3; i++ {
		assert.True(t, cb.Allow())
		cb.Report(false)
	}
	assert.Equal(t, CBOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: 10 * time.Millisecond, HalfOpenMax: 2}, nil)
	assert.True(t, cb.Allow())
	cb.Report(false)
	assert.Equal(t, CBOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 2; i++ {
		assert.True(t, cb.Allow())
		cb.Report(true)
	}
	assert.Equal(t, CBClosed, cb.State())
}
