// Package dispatcher drives a schedule Plan to completion (spec.md §4.10):
// queued->assigned->running->{done|failed|cancelled} per task, heartbeat-miss
// reassignment bounded by a retry count, and pause/resume/cancel semantics
// propagated to the underlying execution. Grounded on the teacher's
// infrastructure/service/runner.go worker-pool dispatch loop, adapted from
// fixed worker goroutines to a table of named Worker records whose liveness
// is tracked externally (LastHeartbeatAt) rather than by goroutine exit.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/load"

	"github.com/vibeorch/engine/internal/config"
	"github.com/vibeorch/engine/internal/depgraph"
	"github.com/vibeorch/engine/internal/metrics"
	"github.com/vibeorch/engine/internal/model"
	"github.com/vibeorch/engine/internal/obslog"
	"github.com/vibeorch/engine/internal/orcherr"
	"github.com/vibeorch/engine/internal/progressbus"
	"github.com/vibeorch/engine/internal/scheduler"
)

// TaskState is the dispatcher-local lifecycle of one assigned task,
// independent of the job it belongs to.
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskAssigned  TaskState = "assigned"
	TaskRunning   TaskState = "running"
	TaskDone      TaskState = "done"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// Execute runs one atomic task against the worker it's assigned to.
// Implementations are supplied by whatever actually executes work (an agent
// process, a sandboxed shell, ...); the Dispatcher only sequences calls to
// it.
type Execute func(ctx context.Context, task model.AtomicTask, workerID string) error

// taskEntry tracks one task's dispatcher-local state.
type taskEntry struct {
	task     model.AtomicTask
	workerID string
	state    TaskState
	retries  int
}

// Dispatcher drives a Plan against a pool of Workers.
type Dispatcher struct {
	mu       sync.Mutex
	entries  map[string]*taskEntry
	workers  map[string]*model.Worker
	bus      *progressbus.Bus
	registry *config.ConfigRegistry
	log      *obslog.Logger
	hotlog   *obslog.HotPathLogger
	exec     Execute

	paused    bool
	cancelled bool
}

// New builds a Dispatcher. exec performs the actual work for one task.
// hotlog may be nil; when set, it carries the assignment/heartbeat-miss
// hot-path logging that would be too costly through logrus's map-allocating
// WithFields on every tick.
func New(registry *config.ConfigRegistry, bus *progressbus.Bus, log *obslog.Logger, hotlog *obslog.HotPathLogger, exec Execute) *Dispatcher {
	return &Dispatcher{
		entries:  make(map[string]*taskEntry),
		workers:  make(map[string]*model.Worker),
		bus:      bus,
		registry: registry,
		log:      log,
		hotlog:   hotlog,
		exec:     exec,
	}
}

// RegisterWorker adds or updates a worker in the pool.
func (d *Dispatcher) RegisterWorker(w model.Worker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := w
	d.workers[w.ID] = &cp
}

// Workers returns a snapshot of every registered worker, for callers (the
// orchestrator's scheduler invocation) that need the current pool without
// reaching into Dispatcher-private state.
func (d *Dispatcher) Workers() []model.Worker {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.Worker, 0, len(d.workers))
	for _, w := range d.workers {
		out = append(out, *w)
	}
	return out
}

// OnProgress is called after every task that finishes a dispatch round,
// reporting how many of the job's atomic tasks are done out of the total.
type OnProgress func(done, total int)

// Run drives plan to completion against graph, respecting dependency order:
// a task's Execute is only invoked once every dependency in graph has
// reached TaskDone. Within a round, every ready task whose assigned worker
// isn't already busy is dispatched concurrently (one goroutine per task),
// matching the Scheduler's own model of workers executing in parallel rather
// than one atomic task at a time; the round barrier at the end of the loop
// body keeps dependency recomputation (graph.ReadyTasks) race-free.
func (d *Dispatcher) Run(ctx context.Context, jobID string, tasks []model.AtomicTask, plan scheduler.Plan, graph *depgraph.Graph, maxRetries int, onProgress OnProgress) error {
	byID := make(map[string]model.AtomicTask, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	d.mu.Lock()
	for _, a := range plan.Assignments {
		d.entries[a.TaskID] = &taskEntry{task: byID[a.TaskID], workerID: a.WorkerID, state: TaskQueued}
	}
	d.mu.Unlock()

	var stateMu sync.Mutex
	done := make(map[string]bool)
	total := len(plan.Assignments)
	remaining := total

	for remaining > 0 {
		if ctx.Err() != nil {
			d.cancelNonTerminal(jobID)
			return ctx.Err()
		}
		if d.isCancelled() {
			d.cancelNonTerminal(jobID)
			return orcherr.New(orcherr.KindState, "dispatch cancelled")
		}
		d.waitIfPaused(ctx)

		stateMu.Lock()
		ready := graph.ReadyTasks(done)
		stateMu.Unlock()

		busyWorkers := make(map[string]bool)
		var toRun []*taskEntry
		for _, id := range ready {
			d.mu.Lock()
			entry, ok := d.entries[id]
			runnable := ok && entry.state == TaskQueued && !busyWorkers[entry.workerID]
			if runnable {
				busyWorkers[entry.workerID] = true
			}
			d.mu.Unlock()
			if !runnable {
				continue
			}
			toRun = append(toRun, entry)
		}

		if len(toRun) == 0 {
			return orcherr.DeadlockError(remaining)
		}

		var wg sync.WaitGroup
		var errMu sync.Mutex
		var firstErr error

		for _, entry := range toRun {
			entry := entry
			id := entry.task.ID

			d.setState(id, TaskAssigned)
			d.emit(jobID, "task.assigned", map[string]interface{}{"taskId": id, "workerId": entry.workerID})
			d.setState(id, TaskRunning)
			if d.hotlog != nil {
				d.hotlog.Assigned(id, entry.workerID)
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				err := d.exec(ctx, entry.task, entry.workerID)
				if err != nil {
					d.mu.Lock()
					retry := entry.retries < maxRetries
					if retry {
						entry.retries++
						entry.state = TaskQueued
					}
					d.mu.Unlock()
					if retry {
						return
					}
					d.setState(id, TaskFailed)
					metrics.DispatchedTasks.WithLabelValues("failed").Inc()
					d.emit(jobID, "task.failed", map[string]interface{}{"taskId": id, "error": err.Error()})
					errMu.Lock()
					if firstErr == nil {
						firstErr = orcherr.Wrap(orcherr.KindState, "task failed after retries", err)
					}
					errMu.Unlock()
					return
				}

				d.setState(id, TaskDone)
				stateMu.Lock()
				done[id] = true
				doneCount := len(done)
				stateMu.Unlock()
				metrics.DispatchedTasks.WithLabelValues("done").Inc()
				d.emit(jobID, "task.completed", map[string]interface{}{"taskId": id})
				if onProgress != nil {
					onProgress(doneCount, total)
				}
			}()
		}
		wg.Wait()

		if firstErr != nil {
			d.cancelNonTerminal(jobID)
			return firstErr
		}

		stateMu.Lock()
		remaining = total - len(done)
		stateMu.Unlock()
	}
	return nil
}

func (d *Dispatcher) setState(id string, s TaskState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[id]; ok {
		e.state = s
	}
}

// cancelNonTerminal transitions every task still in a non-terminal
// dispatcher-local state to TaskCancelled, per spec.md §4.10: "On
// cancel(jobId): all non-terminal tasks transition to cancelled." This is
// dispatcher-local bookkeeping only; spec.md §6's event vocabulary has no
// distinct task.cancelled kind, so no event is published here — the job's
// own job.cancelled transition (emitted by the orchestrator) already covers
// the externally visible signal.
func (d *Dispatcher) cancelNonTerminal(jobID string) {
	_ = jobID
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.entries {
		switch e.state {
		case TaskDone, TaskFailed, TaskCancelled:
			continue
		}
		e.state = TaskCancelled
		metrics.DispatchedTasks.WithLabelValues("cancelled").Inc()
	}
}

func (d *Dispatcher) emit(jobID, name string, data map[string]interface{}) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(progressbus.Event{JobID: jobID, Name: name, Data: data, At: time.Now()})
}

// Pause halts further task starts until Resume is called; in-flight Execute
// calls are not interrupted.
func (d *Dispatcher) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = true
}

// Resume clears a prior Pause.
func (d *Dispatcher) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = false
}

// Cancel stops Run from starting further tasks; the next Run loop iteration
// returns a StateError.
func (d *Dispatcher) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelled = true
}

func (d *Dispatcher) isCancelled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancelled
}

func (d *Dispatcher) waitIfPaused(ctx context.Context) {
	for {
		d.mu.Lock()
		paused := d.paused
		d.mu.Unlock()
		if !paused {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// CheckHeartbeats requeues tasks whose assigned worker's last heartbeat
// exceeds the configured liveness timeout, incrementing the task's retry
// count; the task keeps its assigned worker. A task that exhausts its retries through missed heartbeats is left
// TaskQueued for a future worker, since the failure here is the worker's,
// not the task's.
func (d *Dispatcher) CheckHeartbeats() {
	timeout := d.registry.GetSchedulerPolicy().AgentLivenessTimeout
	if timeout <= 0 {
		return
	}
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	for taskID, e := range d.entries {
		if e.state != TaskRunning && e.state != TaskAssigned {
			continue
		}
		w, ok := d.workers[e.workerID]
		if !ok {
			continue
		}
		if now.Sub(w.LastHeartbeatAt) > timeout {
			if d.hotlog != nil {
				d.hotlog.HeartbeatMissed(e.workerID, taskID)
			}
			e.state = TaskQueued
			e.retries++
			metrics.HeartbeatMisses.Inc()
		}
	}
}

// SampleWorkerLoad refreshes ProjectedLoadMin for every registered worker
// from the host's current load average, feeding resource_balanced
// scheduling decisions with a real signal instead of a static estimate.
func SampleWorkerLoad(workers []model.Worker) []model.Worker {
	avg, err := load.Avg()
	if err != nil {
		return workers
	}
	out := make([]model.Worker, len(workers))
	copy(out, workers)
	for i := range out {
		out[i].ProjectedLoadMin = avg.Load1
	}
	return out
}
