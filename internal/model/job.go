package model

import "time"

// JobStatus is the lifecycle state of a Job. Terminal statuses are
// completed, failed and cancelled; mutations after a terminal status are
// rejected by the JobStore.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether s is a terminal status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// legalTransitions enumerates the Job status machine from spec.md §3.
var legalTransitions = map[JobStatus]map[JobStatus]bool{
	JobPending: {JobRunning: true, JobCancelled: true},
	JobRunning: {
		JobPaused:    true,
		JobCompleted: true,
		JobFailed:    true,
		JobCancelled: true,
	},
	JobPaused: {
		JobRunning:   true,
		JobCancelled: true,
		JobFailed:    true,
	},
}

// CanTransition reports whether moving a Job from `from` to `to` is legal.
func CanTransition(from, to JobStatus) bool {
	if from == to {
		return false
	}
	allowed, ok := legalTransitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// Job is the unit of externally visible work tracked by the JobStore.
type Job struct {
	ID             string
	Status         JobStatus
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	Result         interface{}
	Error          *JobError
	Progress       int
	AncestorJobID  string
	RetryCount     int
	PolicySnapshot interface{}
	UpdatedAt      time.Time
}

// JobError is the serializable error recorded on a failed Job.
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Clone returns a deep-enough copy of j suitable for handing to a reader
// without risking mutation of JobStore-owned state.
func (j Job) Clone() Job {
	out := j
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	return out
}
