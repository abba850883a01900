// Package jobstore tracks Job lifecycle state (spec.md §4.7): an in-memory
// store enforcing model.CanTransition on every mutation, an append-only
// transition log per job, and a periodic prune of jobs past the configured
// retention window. Grounded on the teacher's infrastructure/service/deps.go
// registry-of-state idiom (mutex-guarded map, typed accessor methods) and
// robfig/cron/v3 for the periodic prune, the same way the teacher schedules
// its own background sweeps.
package jobstore

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vibeorch/engine/internal/config"
	"github.com/vibeorch/engine/internal/model"
	"github.com/vibeorch/engine/internal/obslog"
	"github.com/vibeorch/engine/internal/orcherr"
)

// Transition is one recorded status change.
type Transition struct {
	From    model.JobStatus
	To      model.JobStatus
	At      time.Time
	Message string
}

// Store is an in-memory, mutex-guarded JobStore.
type Store struct {
	mu       sync.RWMutex
	jobs     map[string]*model.Job
	log      map[string][]Transition
	registry *config.ConfigRegistry
	logger   *obslog.Logger
	cron     *cron.Cron
	clock    func() time.Time
}

// New builds a Store. logger may be nil.
func New(registry *config.ConfigRegistry, logger *obslog.Logger) *Store {
	return &Store{
		jobs:     make(map[string]*model.Job),
		log:      make(map[string][]Transition),
		registry: registry,
		logger:   logger,
		clock:    time.Now,
	}
}

// Create inserts a new pending Job and returns it.
func (s *Store) Create(id, ancestorJobID string) model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	j := &model.Job{
		ID:            id,
		Status:        model.JobPending,
		CreatedAt:     now,
		UpdatedAt:     now,
		AncestorJobID: ancestorJobID,
	}
	s.jobs[id] = j
	return j.Clone()
}

// Get returns a copy of the job, or an error if unknown.
func (s *Store) Get(id string) (model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return model.Job{}, orcherr.New(orcherr.KindState, "unknown job "+id)
	}
	return j.Clone(), nil
}

// Transition moves job id from its current status to `to`, rejecting
// illegal transitions (spec.md's status machine) and any mutation on a job
// already in a terminal status.
func (s *Store) Transition(id string, to model.JobStatus, message string) (model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return model.Job{}, orcherr.New(orcherr.KindState, "unknown job "+id)
	}
	if j.Status.Terminal() {
		return model.Job{}, orcherr.StateError(string(j.Status), string(to))
	}
	if !model.CanTransition(j.Status, to) {
		return model.Job{}, orcherr.StateError(string(j.Status), string(to))
	}

	now := s.clock()
	from := j.Status
	j.Status = to
	j.UpdatedAt = now
	switch to {
	case model.JobRunning:
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
	case model.JobCompleted, model.JobFailed, model.JobCancelled:
		j.CompletedAt = &now
	}

	s.log[id] = append(s.log[id], Transition{From: from, To: to, At: now, Message: message})
	if s.logger != nil {
		s.logger.WithContext(nil).WithField("job_id", id).WithField("from", from).WithField("to", to).Info("job transition")
	}
	return j.Clone(), nil
}

// SetProgress updates progress, enforcing the monotonicity invariant that
// progress==100 iff status==completed (spec.md §3).
func (s *Store) SetProgress(id string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return orcherr.New(orcherr.KindState, "unknown job "+id)
	}
	if progress < j.Progress {
		return orcherr.ValidationError("progress", "must not decrease")
	}
	if progress == 100 && j.Status != model.JobCompleted {
		return orcherr.ValidationError("progress", "100 requires status=completed")
	}
	if progress != 100 && j.Status == model.JobCompleted {
		return orcherr.ValidationError("progress", "completed jobs must be at 100")
	}
	j.Progress = progress
	j.UpdatedAt = s.clock()
	return nil
}

// Fail records a terminal failure with the given error.
func (s *Store) Fail(id string, jobErr model.JobError) (model.Job, error) {
	j, err := s.Transition(id, model.JobFailed, jobErr.Message)
	if err != nil {
		return model.Job{}, err
	}
	s.mu.Lock()
	s.jobs[id].Error = &jobErr
	s.mu.Unlock()
	return s.Get(id)
}

// TransitionLog returns the append-only transition history for a job.
func (s *Store) TransitionLog(id string) []Transition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Transition, len(s.log[id]))
	copy(out, s.log[id])
	return out
}

// List returns a snapshot of every tracked job.
func (s *Store) List() []model.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Clone())
	}
	return out
}

// prune deletes terminal jobs older than the configured retention window.
func (s *Store) prune() {
	retention := s.registry.GetLimits().JobRetention
	cutoff := s.clock().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, j := range s.jobs {
		if j.Status.Terminal() && j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			delete(s.log, id)
		}
	}
}

// StartPruning schedules the periodic retention sweep (spec.md §7's 24h+
// retention window) via robfig/cron/v3, matching the hourly cadence the
// teacher uses for its own background maintenance jobs.
func (s *Store) StartPruning() {
	s.cron = cron.New()
	_, _ = s.cron.AddFunc("@hourly", s.prune)
	s.cron.Start()
}

// StopPruning halts the background sweep, if started.
func (s *Store) StopPruning() {
	if s.cron != nil {
		s.cron.Stop()
	}
}
