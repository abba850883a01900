// Package metrics exposes the orchestration core's Prometheus collectors.
// Grounded on the teacher's pkg/metrics package: a dedicated Registry
// (rather than the global default, so tests can construct independent
// instances), namespaced Counter/Gauge/Histogram vars, and a promhttp
// handler the HTTP transport mounts under /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the orchestration core's collectors.
var Registry = prometheus.NewRegistry()

var (
	JobsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "vibeorch", Subsystem: "jobs", Name: "started_total", Help: "Jobs transitioned to running."},
		[]string{},
	)

	JobsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "vibeorch", Subsystem: "jobs", Name: "completed_total", Help: "Jobs transitioned to a terminal status."},
		[]string{"status"},
	)

	JobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "vibeorch", Subsystem: "jobs", Name: "in_flight", Help: "Jobs currently pending, running, or paused."},
	)

	DecompositionSplits = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "vibeorch", Subsystem: "decomposition", Name: "splits_total", Help: "Total task splits performed by the decomposition engine."},
	)

	AtomicityChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "vibeorch", Subsystem: "atomicity", Name: "checks_total", Help: "Atomicity checks by outcome."},
		[]string{"outcome"}, // "atomic", "split", "fallback"
	)

	SchedulerPlanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vibeorch", Subsystem: "scheduler", Name: "plan_duration_seconds",
			Help:    "Time to build a schedule plan, by algorithm.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"algorithm"},
	)

	SchedulerDeadlocks = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "vibeorch", Subsystem: "scheduler", Name: "deadlocks_total", Help: "Schedule attempts that hit an empty ready set with work remaining."},
	)

	DispatchedTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "vibeorch", Subsystem: "dispatcher", Name: "tasks_total", Help: "Dispatched tasks by terminal state."},
		[]string{"state"}, // "done", "failed", "cancelled"
	)

	HeartbeatMisses = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "vibeorch", Subsystem: "dispatcher", Name: "heartbeat_misses_total", Help: "Worker heartbeat misses that triggered task reassignment."},
	)

	BusSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "vibeorch", Subsystem: "bus", Name: "subscribers", Help: "Currently connected progress bus subscribers."},
	)

	BusEventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "vibeorch", Subsystem: "bus", Name: "events_dropped_total", Help: "Progress events dropped due to a slow subscriber."},
	)

	RateLimitDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "vibeorch", Subsystem: "ratelimit", Name: "denials_total", Help: "Requests denied by a rate limiter, by limiter name."},
		[]string{"limiter"},
	)

	OracleRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "vibeorch", Subsystem: "oracle", Name: "requests_total", Help: "Oracle calls by outcome."},
		[]string{"outcome"}, // "ok", "timeout", "error"
	)
)

func init() {
	Registry.MustRegister(
		JobsStarted, JobsCompleted, JobsInFlight,
		DecompositionSplits, AtomicityChecks,
		SchedulerPlanDuration, SchedulerDeadlocks,
		DispatchedTasks, HeartbeatMisses,
		BusSubscribers, BusEventsDropped,
		RateLimitDenials, OracleRequests,
	)
}

// Handler returns the HTTP handler serving the orchestration core's metrics
// at the conventional /metrics path.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
