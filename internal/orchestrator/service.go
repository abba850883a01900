// Package orchestrator wires the decomposition, scheduling and dispatch
// components into the job-level command surface the TransportMultiplexer
// exposes (spec.md §6): createJob/cancelJob/pauseJob/resumeJob/subscribe.
// Grounded on the teacher's cmd/gateway/main.go wiring style (construct
// every dependency once at startup, pass narrow interfaces down) adapted
// from an HTTP gateway wiring a blockchain RPC pool to a goroutine wiring a
// decomposition/scheduling pipeline per job.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/vibeorch/engine/internal/config"
	"github.com/vibeorch/engine/internal/decomposition"
	"github.com/vibeorch/engine/internal/dispatcher"
	"github.com/vibeorch/engine/internal/idgen"
	"github.com/vibeorch/engine/internal/jobstore"
	"github.com/vibeorch/engine/internal/metrics"
	"github.com/vibeorch/engine/internal/model"
	"github.com/vibeorch/engine/internal/obslog"
	"github.com/vibeorch/engine/internal/orcherr"
	"github.com/vibeorch/engine/internal/progressbus"
	"github.com/vibeorch/engine/internal/scheduler"
)

// jobRun tracks the per-job dispatcher and cancellation handle for a job
// still in flight, so cancel/pause/resume act on the one job they name
// rather than on every job the Service happens to be running concurrently.
type jobRun struct {
	cancel   context.CancelFunc
	dispatch *dispatcher.Dispatcher
}

// Service is the single top-level entry point every transport's ingress
// command channel routes into. It owns no business rules itself — each
// method is a thin sequencing of JobStore, DecompositionEngine, Scheduler
// and Dispatcher calls, exactly the control flow spec.md §2 draws. A fresh
// Dispatcher is built per job run so one job's cancel/pause never bleeds
// into another's, while the worker pool itself is shared process-wide.
type Service struct {
	jobs     *jobstore.Store
	bus      *progressbus.Bus
	engine   *decomposition.Engine
	sched    *scheduler.Scheduler
	registry *config.ConfigRegistry
	log      *obslog.Logger
	hotlog   *obslog.HotPathLogger
	exec     dispatcher.Execute

	mu      sync.Mutex
	workers map[string]model.Worker
	runs    map[string]*jobRun
}

// New builds a Service from its already-constructed dependencies. exec
// performs the actual work for one atomic task, handed to every per-job
// Dispatcher this Service creates.
func New(
	jobs *jobstore.Store,
	bus *progressbus.Bus,
	engine *decomposition.Engine,
	sched *scheduler.Scheduler,
	registry *config.ConfigRegistry,
	log *obslog.Logger,
	hotlog *obslog.HotPathLogger,
	exec dispatcher.Execute,
) *Service {
	return &Service{
		jobs:     jobs,
		bus:      bus,
		engine:   engine,
		sched:    sched,
		registry: registry,
		log:      log,
		hotlog:   hotlog,
		exec:     exec,
		workers:  make(map[string]model.Worker),
		runs:     make(map[string]*jobRun),
	}
}

// RegisterWorker adds or updates a worker in the shared pool. Jobs already
// in flight do not see the change: each job's Dispatcher and schedule are
// built from the pool as it stood at CreateJob, so only jobs created
// afterwards include the new worker.
func (s *Service) RegisterWorker(w model.Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[w.ID] = w
}

func (s *Service) workerSnapshot() []model.Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w)
	}
	return out
}

// CreateJob starts a new decomposition+schedule+dispatch run for root and
// returns its job ID immediately; the run itself proceeds on a background
// goroutine, publishing progress to the bus as it advances.
func (s *Service) CreateJob(root model.Task, proj model.ProjectContext) (string, error) {
	id := idgen.NewJobID()
	s.jobs.Create(id, "")
	s.publish(id, "job.created", nil)
	metrics.JobsInFlight.Inc()

	runCtx, cancel := context.WithCancel(context.Background())
	disp := dispatcher.New(s.registry, s.bus, s.log, s.hotlog, s.exec)
	for _, w := range s.workerSnapshot() {
		disp.RegisterWorker(w)
	}

	s.mu.Lock()
	s.runs[id] = &jobRun{cancel: cancel, dispatch: disp}
	s.mu.Unlock()

	go s.run(runCtx, id, root, proj, disp)
	return id, nil
}

// GetJob returns a copy of the job's current state.
func (s *Service) GetJob(id string) (model.Job, error) {
	return s.jobs.Get(id)
}

// ListJobs returns every tracked job.
func (s *Service) ListJobs() []model.Job {
	return s.jobs.List()
}

// CancelJob transitions jobID to cancelled and signals its background run
// (if still in flight) to stop. Re-cancelling an already-terminal job is a
// no-op success, per spec.md §8's idempotence property.
func (s *Service) CancelJob(id string) error {
	job, err := s.jobs.Get(id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	s.mu.Lock()
	run, ok := s.runs[id]
	s.mu.Unlock()
	if ok {
		run.dispatch.Cancel()
		run.cancel()
	}

	if _, err := s.jobs.Transition(id, model.JobCancelled, "cancelled by request"); err != nil {
		return err
	}
	metrics.JobsInFlight.Dec()
	metrics.JobsCompleted.WithLabelValues("cancelled").Inc()
	s.publish(id, "job.cancelled", nil)
	return nil
}

// PauseJob halts further task dispatch for id without interrupting
// already-running work.
func (s *Service) PauseJob(id string) error {
	s.mu.Lock()
	run, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		return orcherr.New(orcherr.KindState, "job has no in-flight run to pause")
	}

	if _, err := s.jobs.Transition(id, model.JobPaused, "paused by request"); err != nil {
		return err
	}
	run.dispatch.Pause()
	s.publish(id, "job.paused", nil)
	return nil
}

// ResumeJob clears a prior PauseJob.
func (s *Service) ResumeJob(id string) error {
	s.mu.Lock()
	run, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		return orcherr.New(orcherr.KindState, "job has no in-flight run to resume")
	}

	if _, err := s.jobs.Transition(id, model.JobRunning, "resumed by request"); err != nil {
		return err
	}
	run.dispatch.Resume()
	s.publish(id, "job.resumed", nil)
	return nil
}

// run drives one job end to end: decompose the root task, schedule the
// resulting atomic tasks against the current worker pool, dispatch the
// plan, and record the terminal outcome. Any failure at any stage
// transitions the job to failed with the originating error's Kind and
// message, per spec.md §7's propagation policy.
func (s *Service) run(ctx context.Context, jobID string, root model.Task, proj model.ProjectContext, disp *dispatcher.Dispatcher) {
	defer func() {
		s.mu.Lock()
		delete(s.runs, jobID)
		s.mu.Unlock()
	}()

	if _, err := s.jobs.Transition(jobID, model.JobRunning, ""); err != nil {
		return
	}
	metrics.JobsStarted.WithLabelValues().Inc()
	s.publish(jobID, "job.started", nil)

	go s.watchHeartbeats(ctx, disp)

	sess, err := s.engine.Run(ctx, root, proj, "")
	if err != nil {
		s.fail(jobID, err)
		return
	}
	if sess.AtCapWarning {
		s.publish(jobID, "job.progress", map[string]interface{}{
			"warning": "decomposition hit a depth/fan-out cap; remaining nodes marked atomic-by-cap",
		})
	}

	plan, err := s.sched.Schedule(ctx, sess.AtomicTasks, sess.Graph, disp.Workers())
	if err != nil {
		s.fail(jobID, err)
		return
	}
	if len(plan.Unassigned) > 0 {
		s.publish(jobID, "job.progress", map[string]interface{}{
			"warning": "some atomic tasks are blocked-no-capability",
			"blocked": plan.Unassigned,
		})
	}

	onProgress := func(done, total int) {
		if total <= 0 {
			return
		}
		// Cap below 100: the job's official 100 is only valid alongside the
		// JobCompleted transition below (jobstore.SetProgress's invariant),
		// and dispatch isn't done yet while this callback is firing.
		pct := done * 100 / total
		if pct >= 100 {
			pct = 99
		}
		if err := s.jobs.SetProgress(jobID, pct); err != nil {
			s.log.WithContext(ctx).WithField("job_id", jobID).Warn("failed to record progress")
			return
		}
		s.publish(jobID, "job.progress", map[string]interface{}{"tasksDone": done, "tasksTotal": total, "percent": pct})
	}

	maxRetries := s.registry.GetRetryPolicy().MaxRetries
	if err := disp.Run(ctx, jobID, sess.AtomicTasks, plan, sess.Graph, maxRetries, onProgress); err != nil {
		if ctx.Err() != nil {
			// Cancelled mid-dispatch: CancelJob already drove the terminal
			// transition, nothing further to record.
			return
		}
		s.fail(jobID, err)
		return
	}

	result := map[string]interface{}{
		"sessionId":       sess.ID,
		"atomicTaskCount": len(sess.AtomicTasks),
		"totalSplits":     sess.TotalSplits,
		"atCapWarning":    sess.AtCapWarning,
	}
	if _, err := s.jobs.Transition(jobID, model.JobCompleted, ""); err != nil {
		return
	}
	if err := s.jobs.SetProgress(jobID, 100); err != nil {
		s.log.WithContext(ctx).WithField("job_id", jobID).Warn("failed to record terminal progress")
	}
	metrics.JobsInFlight.Dec()
	metrics.JobsCompleted.WithLabelValues("completed").Inc()
	s.publish(jobID, "job.completed", result)
}

// watchHeartbeats periodically reassigns tasks whose worker has gone quiet,
// per spec.md §4.10, until the job's run context ends. The check interval is
// the worker liveness timeout itself, halved, so a stalled worker is caught
// close to the timeout rather than up to a full extra timeout period late.
func (s *Service) watchHeartbeats(ctx context.Context, disp *dispatcher.Dispatcher) {
	timeout := s.registry.GetSchedulerPolicy().AgentLivenessTimeout
	if timeout <= 0 {
		return
	}
	interval := timeout / 2
	if interval <= 0 {
		interval = timeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			disp.CheckHeartbeats()
		}
	}
}

func (s *Service) fail(jobID string, err error) {
	kind := "Error"
	msg := err.Error()
	if oe, ok := err.(*orcherr.Error); ok {
		kind = string(oe.Kind)
		msg = oe.Message
	}
	if _, jerr := s.jobs.Fail(jobID, model.JobError{Kind: kind, Message: msg}); jerr != nil {
		return
	}
	metrics.JobsInFlight.Dec()
	metrics.JobsCompleted.WithLabelValues("failed").Inc()
	s.publish(jobID, "job.failed", map[string]interface{}{"kind": kind, "error": msg})
}

func (s *Service) publish(jobID, name string, data map[string]interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(progressbus.Event{JobID: jobID, Name: name, Data: data, At: time.Now()})
}
