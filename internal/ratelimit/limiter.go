// Package ratelimit implements the four named limiters from spec.md §4.9:
// general and api use a sliding window (so a burst exactly at the window
// boundary can't double the effective rate the way a fixed window allows),
// while upload and taskStart use a token bucket since those operations
// tolerate short bursts followed by a steady drain. Grounded on the
// teacher's infrastructure/service rate limiting patterns adapted to a
// per-key (not global) limiter, and on golang.org/x/time/rate for the
// token-bucket half.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
	"github.com/rs/zerolog"

	"github.com/vibeorch/engine/internal/metrics"
	"github.com/vibeorch/engine/internal/orcherr"
)

// Decision is the outcome of an Allow check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter is the common interface both limiter kinds satisfy.
type Limiter interface {
	Allow(key string) Decision
}

// slidingWindow is a per-key sliding-window counter: each key keeps a
// timestamp slice, trimmed to the window on every call; each Allow scans
// the key's retained timestamps (at most limit of them).
type slidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time
	clock  func() time.Time
}

func newSlidingWindow(limit int, window time.Duration) *slidingWindow {
	return &slidingWindow{limit: limit, window: window, hits: make(map[string][]time.Time), clock: time.Now}
}

func (s *slidingWindow) Allow(key string) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	cutoff := now.Add(-s.window)
	hits := s.hits[key]

	trimmed := hits[:0]
	for _, h := range hits {
		if h.After(cutoff) {
			trimmed = append(trimmed, h)
		}
	}

	if len(trimmed) >= s.limit {
		s.hits[key] = trimmed
		resetAt := trimmed[0].Add(s.window)
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}
	}

	trimmed = append(trimmed, now)
	s.hits[key] = trimmed
	return Decision{Allowed: true, Remaining: s.limit - len(trimmed), ResetAt: now.Add(s.window)}
}

// tokenBucket wraps a per-key golang.org/x/time/rate.Limiter.
type tokenBucket struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

func newTokenBucket(ratePerSec float64, burst int) *tokenBucket {
	return &tokenBucket{limiters: make(map[string]*rate.Limiter), r: rate.Limit(ratePerSec), burst: burst}
}

func (t *tokenBucket) get(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[key]
	if !ok {
		l = rate.NewLimiter(t.r, t.burst)
		t.limiters[key] = l
	}
	return l
}

func (t *tokenBucket) Allow(key string) Decision {
	l := t.get(key)
	if l.Allow() {
		return Decision{Allowed: true, Remaining: int(l.Tokens()), ResetAt: time.Now()}
	}
	reservation := l.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()
	return Decision{Allowed: false, Remaining: 0, ResetAt: time.Now().Add(delay)}
}

// Registry holds the four named limiters spec.md §4.9 requires and logs
// denials for audit via zerolog, matching the teacher's use of zerolog for
// its own access-denial audit trail.
type Registry struct {
	general   Limiter
	api       Limiter
	upload    Limiter
	taskStart Limiter
	audit     zerolog.Logger
}

// Config controls each named limiter's parameters.
type Config struct {
	GeneralLimit, GeneralWindow     int
	APILimit, APIWindow             int
	UploadRatePerSec, UploadBurst   float64
	TaskStartRatePerSec, TaskBurst  float64
}

// New builds a Registry from cfg, applying the teacher's documented
// defaults when a field is left at its zero value.
func New(cfg Config, audit zerolog.Logger) *Registry {
	if cfg.GeneralLimit <= 0 {
		cfg.GeneralLimit, cfg.GeneralWindow = 100, 60
	}
	if cfg.APILimit <= 0 {
		cfg.APILimit, cfg.APIWindow = 60, 60
	}
	if cfg.UploadRatePerSec <= 0 {
		cfg.UploadRatePerSec, cfg.UploadBurst = 1, 5
	}
	if cfg.TaskStartRatePerSec <= 0 {
		cfg.TaskStartRatePerSec, cfg.TaskBurst = 2, 10
	}

	return &Registry{
		general:   newSlidingWindow(cfg.GeneralLimit, time.Duration(cfg.GeneralWindow)*time.Second),
		api:       newSlidingWindow(cfg.APILimit, time.Duration(cfg.APIWindow)*time.Second),
		upload:    newTokenBucket(cfg.UploadRatePerSec, int(cfg.UploadBurst)),
		taskStart: newTokenBucket(cfg.TaskStartRatePerSec, int(cfg.TaskBurst)),
		audit:     audit,
	}
}

// Name identifies which of the four limiters to check.
type Name string

const (
	General   Name = "general"
	API       Name = "api"
	Upload    Name = "upload"
	TaskStart Name = "taskStart"
)

// Allow checks key against the named limiter, logging and returning a
// RateLimitError on denial.
func (r *Registry) Allow(name Name, key string) (Decision, error) {
	var l Limiter
	switch name {
	case General:
		l = r.general
	case API:
		l = r.api
	case Upload:
		l = r.upload
	case TaskStart:
		l = r.taskStart
	default:
		l = r.general
	}

	d := l.Allow(key)
	if !d.Allowed {
		metrics.RateLimitDenials.WithLabelValues(string(name)).Inc()
		r.audit.Warn().Str("limiter", string(name)).Str("key", key).Time("reset_at", d.ResetAt).Msg("rate limit denied")
		return d, orcherr.RateLimitError(key, d.ResetAt.Format(time.RFC3339))
	}
	return d, nil
}
