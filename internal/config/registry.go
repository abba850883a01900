package config

import (
	"sync"
	"sync/atomic"
	"time"
)

// ConfigRegistry is the single source of truth for timeouts, retry policy,
// scheduler policy and limits. It is a process-wide singleton with an
// explicit init()/teardown() lifecycle (spec.md §9 "Global mutable state").
//
// Construction of one singleton can, transitively, call GetInstance() on
// this one while it is itself mid-construction (the circular-init hazard
// spec.md §9 calls out). While `initializing` is true, GetInstance returns the
// package-level fallback registry: a side-effect-free stub whose getters return compiled
// defaults and whose reload() is a no-op. The flag is always cleared in a
// deferred block so a panicking Init never wedges future calls.
type ConfigRegistry struct {
	snapshot    atomic.Pointer[Snapshot]
	configPath  string
	warnOnFallback func(msg string)
}

var (
	instanceMu   sync.Mutex
	instance     *ConfigRegistry
	initializing bool
	fallback     = newFallback()
)

func newFallback() *ConfigRegistry {
	r := &ConfigRegistry{warnOnFallback: func(string) {}}
	d := defaults()
	r.snapshot.Store(&d)
	return r
}

// Init constructs the process-wide ConfigRegistry from configPath (may be
// empty) plus environment variables, validates it, and installs it as the
// singleton. Calling Init while already initializing (the reentrant case)
// returns the safe fallback without side effects.
func Init(configPath string) (*ConfigRegistry, error) {
	instanceMu.Lock()
	if initializing {
		instanceMu.Unlock()
		return fallback, nil
	}
	initializing = true
	instanceMu.Unlock()

	defer func() {
		instanceMu.Lock()
		initializing = false
		instanceMu.Unlock()
	}()

	snap, err := Load(configPath)
	if err != nil {
		return nil, err
	}

	r := &ConfigRegistry{configPath: configPath, warnOnFallback: func(string) {}}
	r.snapshot.Store(&snap)

	instanceMu.Lock()
	instance = r
	instanceMu.Unlock()

	return r, nil
}

// GetInstance returns the process-wide registry. If called before Init or
// while Init is reentrantly in progress, it returns the safe fallback stub.
func GetInstance() *ConfigRegistry {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if initializing || instance == nil {
		return fallback
	}
	return instance
}

// Teardown clears the process-wide singleton. Safe to call twice.
func Teardown() {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	instance = nil
}

// Reload re-resolves the snapshot from the same configPath/env sources and
// atomically swaps it in; readers observing the old pointer complete
// unaffected, concurrent-with or after readers see the new one.
func (r *ConfigRegistry) Reload() error {
	if r == fallback {
		return nil
	}
	snap, err := Load(r.configPath)
	if err != nil {
		return err
	}
	r.snapshot.Store(&snap)
	return nil
}

func (r *ConfigRegistry) current() Snapshot {
	p := r.snapshot.Load()
	if p == nil {
		d := defaults()
		return d
	}
	return *p
}

// GetTimeout returns the configured timeout for op.
func (r *ConfigRegistry) GetTimeout(op OpKind) time.Duration {
	return r.current().Timeouts.Get(op)
}

// GetRetryPolicy returns the current retry policy.
func (r *ConfigRegistry) GetRetryPolicy() RetryPolicy {
	return r.current().Retry
}

// GetSchedulerPolicy returns the current scheduler policy.
func (r *ConfigRegistry) GetSchedulerPolicy() SchedulerPolicy {
	return r.current().Scheduler
}

// GetLimits returns the current limits.
func (r *ConfigRegistry) GetLimits() Limits {
	return r.current().Limits
}

// GetModelMapping resolves a logical oracle kind to its configured model id.
func (r *ConfigRegistry) GetModelMapping(kind string) (string, bool) {
	m := r.current().Models
	v, ok := m[kind]
	return v, ok
}

// MaxConcurrentTasks returns the configured worker-pool concurrency cap.
func (r *ConfigRegistry) MaxConcurrentTasks() int {
	return r.current().MaxConcurrentTasks
}
