package resilience

import (
	"sync"
	"time"

	"github.com/vibeorch/engine/internal/obslog"
)

// CBState is a circuit breaker state.
type CBState int

const (
	CBClosed CBState = iota
	CBOpen
	CBHalfOpen
)

func (s CBState) String() string {
	switch s {
	case CBClosed:
		return "closed"
	case CBOpen:
		return "open"
	case CBHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	MaxFailures   int
	Timeout       time.Duration
	HalfOpenMax   int
	OnStateChange func(from, to CBState)
}

// CircuitBreaker guards the oracle client: repeated failures trip it open so
// the DecompositionEngine and AtomicityDetector fail fast instead of piling
// up timed-out attempts against an unavailable model endpoint.
type CircuitBreaker struct {
	mu  sync.RWMutex
	cfg CircuitBreakerConfig
	log *obslog.Logger

	state CBState
	// streak counts the current run of consecutive identical outcomes: a
	// positive value is consecutive successes, negative is consecutive
	// failures. A single counter is enough because onSuccess and onFailure
	// never need both counts at once.
	streak       int
	halfOpenReqs int
	lastFailure  time.Time
}

// NewCircuitBreaker builds a CircuitBreaker, filling unset fields with the
// teacher's defaults (5 failures / 30s open / 3 half-open probes). log may
// be nil; when set, every state transition is recorded alongside whatever
// cfg.OnStateChange does.
func NewCircuitBreaker(cfg CircuitBreakerConfig, log *obslog.Logger) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{cfg: cfg, log: log, state: CBClosed}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CBState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Allow reports whether a new call may proceed, and if so reserves a
// half-open probe slot when applicable. Call Report with the outcome
// afterwards.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CBOpen:
		if time.Since(cb.lastFailure) > cb.cfg.Timeout {
			cb.setState(CBHalfOpen)
			cb.halfOpenReqs = 1
			return true
		}
		return false
	case CBHalfOpen:
		if cb.halfOpenReqs >= cb.cfg.HalfOpenMax {
			return false
		}
		cb.halfOpenReqs++
		return true
	default:
		return true
	}
}

// Report records the outcome of a call previously admitted by Allow.
func (cb *CircuitBreaker) Report(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if success {
		cb.onSuccess()
	} else {
		cb.onFailure()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	if cb.streak < 0 {
		cb.streak = 0
	}
	cb.streak++

	switch cb.state {
	case CBHalfOpen:
		if cb.streak >= cb.cfg.HalfOpenMax {
			cb.setState(CBClosed)
		}
	case CBClosed:
		cb.streak = 0
	}
}

func (cb *CircuitBreaker) onFailure() {
	if cb.streak > 0 {
		cb.streak = 0
	}
	cb.streak--
	cb.lastFailure = time.Now()

	switch cb.state {
	case CBHalfOpen:
		cb.setState(CBOpen)
	case CBClosed:
		if -cb.streak >= cb.cfg.MaxFailures {
			cb.setState(CBOpen)
		}
	}
}

func (cb *CircuitBreaker) setState(next CBState) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	cb.streak = 0
	cb.halfOpenReqs = 0

	if cb.log != nil {
		cb.log.WithContext(nil).WithField("from", prev.String()).WithField("to", next.String()).Info("circuit breaker state change")
	}
	if cb.cfg.OnStateChange != nil {
		go cb.cfg.OnStateChange(prev, next)
	}
}
