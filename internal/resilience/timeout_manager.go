// Package resilience implements the TimeoutManager (spec.md §4.2): wraps an
// arbitrary operation with a per-kind timeout and a configurable backoff
// retry loop, both driven by the ConfigRegistry. Grounded on the teacher's
// infrastructure/resilience package (retry.go's exponential/fixed delay
// computation, circuit_breaker.go's state handling idiom for non-retryable
// short-circuits).
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/vibeorch/engine/internal/config"
	"github.com/vibeorch/engine/internal/obslog"
	"github.com/vibeorch/engine/internal/orcherr"
)

// Result is the outcome of a TimeoutManager.Run call.
type Result struct {
	OK         bool
	Value      interface{}
	Err        error
	TimedOut   bool
	RetryCount int
	Elapsed    time.Duration
}

// TimeoutManager wraps operations with ConfigRegistry-driven timeouts and
// retries.
type TimeoutManager struct {
	registry *config.ConfigRegistry
	hotlog   *obslog.HotPathLogger
}

// New builds a TimeoutManager reading policy from registry. hotlog may be
// nil, in which case retry attempts are not logged.
func New(registry *config.ConfigRegistry, hotlog *obslog.HotPathLogger) *TimeoutManager {
	return &TimeoutManager{registry: registry, hotlog: hotlog}
}

// Overrides lets a caller substitute a timeout/retry policy for one call
// without mutating global configuration.
type Overrides struct {
	Timeout     *time.Duration
	RetryPolicy *config.RetryPolicy
}

// Run executes fn, retrying on retryable failures per the configured (or
// overridden) retry policy, each attempt bounded by the configured (or
// overridden) timeout for opKind.
func (m *TimeoutManager) Run(ctx context.Context, opKind config.OpKind, fn func(ctx context.Context) (interface{}, error), overrides ...Overrides) Result {
	start := time.Now()

	timeout := m.registry.GetTimeout(opKind)
	policy := m.registry.GetRetryPolicy()
	for _, o := range overrides {
		if o.Timeout != nil {
			timeout = *o.Timeout
		}
		if o.RetryPolicy != nil {
			policy = *o.RetryPolicy
		}
	}

	delay := policy.InitialDelay
	var lastErr error
	var lastVal interface{}
	retries := 0

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return Result{OK: false, Err: ctx.Err(), RetryCount: retries, Elapsed: time.Since(start)}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		val, err := fn(attemptCtx)
		timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err == nil {
			return Result{OK: true, Value: val, RetryCount: retries, Elapsed: time.Since(start)}
		}

		lastErr = err
		lastVal = val
		if timedOut && !orcherr.IsKind(err, orcherr.KindTimeout) {
			lastErr = orcherr.Wrap(orcherr.KindTimeout, string(opKind)+" exceeded allotted time", err)
		}

		if !orcherr.Retryable(lastErr) {
			return Result{OK: false, Value: lastVal, Err: lastErr, TimedOut: timedOut, RetryCount: retries, Elapsed: time.Since(start)}
		}

		if attempt == policy.MaxRetries {
			break
		}

		retries++
		if m.hotlog != nil {
			m.hotlog.RetryAttempt(string(opKind), attempt+1, delay.Milliseconds())
		}

		select {
		case <-ctx.Done():
			return Result{OK: false, Err: ctx.Err(), RetryCount: retries, Elapsed: time.Since(start)}
		case <-time.After(delay):
		}

		delay = nextDelay(delay, policy)
	}

	return Result{OK: false, Value: lastVal, Err: lastErr, TimedOut: errors.Is(lastErr, context.DeadlineExceeded), RetryCount: retries, Elapsed: time.Since(start)}
}

// Race runs fn once, bounded by the configured timeout for opKind, with no
// retries: it "races" the operation against the clock.
func (m *TimeoutManager) Race(ctx context.Context, opKind config.OpKind, fn func(ctx context.Context) (interface{}, error), overrides ...Overrides) Result {
	start := time.Now()
	timeout := m.registry.GetTimeout(opKind)
	for _, o := range overrides {
		if o.Timeout != nil {
			timeout = *o.Timeout
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	val, err := fn(attemptCtx)
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return Result{OK: false, Err: orcherr.TimeoutError(string(opKind), time.Since(start).String()), TimedOut: true, Elapsed: time.Since(start)}
		}
		return Result{OK: false, Err: err, Elapsed: time.Since(start)}
	}
	return Result{OK: true, Value: val, Elapsed: time.Since(start)}
}

// nextDelay computes the next retry delay with no jitter: spec.md §8's S5
// scenario asserts exact delay values, which a randomized jitter term would
// break.
func nextDelay(current time.Duration, policy config.RetryPolicy) time.Duration {
	var next time.Duration
	if policy.Strategy == config.BackoffFixed {
		next = policy.InitialDelay
	} else {
		next = time.Duration(float64(current) * policy.Multiplier)
	}
	if next > policy.MaxDelay {
		next = policy.MaxDelay
	}
	return next
}
