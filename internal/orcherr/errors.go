// Package orcherr provides the unified error taxonomy used across the
// orchestration core: every error surfaced above the TimeoutManager carries
// a Kind, a human message, a retryability hint and free-form context.
package orcherr

import "fmt"

// Kind identifies the error taxonomy entry from spec.md §7.
type Kind string

const (
	KindConfig     Kind = "ConfigError"
	KindValidation Kind = "ValidationError"
	KindTimeout    Kind = "TimeoutError"
	KindOracle     Kind = "OracleError"
	KindCycle      Kind = "CycleError"
	KindDeadlock   Kind = "DeadlockError"
	KindState      Kind = "StateError"
	KindRateLimit  Kind = "RateLimitError"
)

// retryableByDefault records, per kind, whether the error is retryable absent
// an explicit override.
var retryableByDefault = map[Kind]bool{
	KindConfig:     false,
	KindValidation: false,
	KindTimeout:    true,
	KindOracle:     true,
	KindCycle:      false,
	KindDeadlock:   false,
	KindState:      false,
	KindRateLimit:  true,
}

// Error is the structured error type propagated throughout the core.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Context   map[string]interface{}
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.Cause }

// WithContext attaches a context key/value and returns e for chaining.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New constructs an Error of the given kind with default retryability.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Retryable: retryableByDefault[kind]}
}

// Wrap constructs an Error of the given kind around an existing cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Retryable: retryableByDefault[kind], Cause: cause}
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else {
		return false
	}
	return e.Kind == kind
}

// Retryable reports whether err, if an *Error, is retryable. Non-*Error
// values are treated as non-retryable so unexpected errors fail fast.
func Retryable(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Retryable
}

// Constructors per kind, mirroring the teacher's per-category helpers
// (infrastructure/errors/errors.go Unauthorized/InvalidToken/...).

func ConfigError(key string, expected string, got interface{}) *Error {
	return New(KindConfig, fmt.Sprintf("invalid configuration for %s", key)).
		WithContext("key", key).
		WithContext("expected", expected).
		WithContext("got", got)
}

func ValidationError(field, reason string) *Error {
	return New(KindValidation, "validation failed").
		WithContext("field", field).
		WithContext("reason", reason)
}

func TimeoutError(op string, elapsed string) *Error {
	return New(KindTimeout, fmt.Sprintf("operation %s timed out", op)).
		WithContext("op", op).
		WithContext("elapsed", elapsed)
}

func OracleError(reason string, cause error) *Error {
	return Wrap(KindOracle, reason, cause)
}

func CycleError(closingNode string) *Error {
	return New(KindCycle, "dependency edge would introduce a cycle").
		WithContext("closingNode", closingNode)
}

func DeadlockError(remaining int) *Error {
	return New(KindDeadlock, "ready-set empty while work remains").
		WithContext("remaining", remaining)
}

func StateError(from, to string) *Error {
	return New(KindState, fmt.Sprintf("illegal transition from %s to %s", from, to)).
		WithContext("from", from).
		WithContext("to", to)
}

func RateLimitError(key string, resetAt string) *Error {
	return New(KindRateLimit, "rate limit exceeded").
		WithContext("key", key).
		WithContext("resetAt", resetAt)
}
