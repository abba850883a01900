package model

import "time"

// WorkerStatus is the liveness/availability state of a worker agent.
type WorkerStatus string

const (
	WorkerIdle    WorkerStatus = "idle"
	WorkerBusy    WorkerStatus = "busy"
	WorkerOffline WorkerStatus = "offline"
)

// Worker is an execution agent the Dispatcher assigns AtomicTasks to.
type Worker struct {
	ID               string
	Capabilities     map[string]bool
	Status           WorkerStatus
	CurrentTaskID    string
	LastHeartbeatAt  time.Time
	ProjectedLoadMin float64
}

// CanHandle reports whether the worker declares the given task-type capability.
func (w Worker) CanHandle(taskType string) bool {
	if len(w.Capabilities) == 0 {
		return true // a worker with no declared capabilities accepts anything
	}
	return w.Capabilities[taskType]
}

// SubscriberTransport enumerates the transport kinds ProgressBus sinks speak.
type SubscriberTransport string

const (
	TransportSSE       SubscriberTransport = "sse"
	TransportWebsocket SubscriberTransport = "websocket"
	TransportStdio     SubscriberTransport = "stdio"
)

// Filter restricts which job/project events a Subscriber receives.
type Filter struct {
	JobID     string
	ProjectID string
}

// Match reports whether the filter admits an event about the given job/project.
func (f Filter) Match(jobID, projectID string) bool {
	if f.JobID == "" && f.ProjectID == "" {
		return true
	}
	if f.JobID != "" && f.JobID == jobID {
		return true
	}
	if f.ProjectID != "" && f.ProjectID == projectID {
		return true
	}
	return false
}

// Subscriber is a connected consumer of ProgressBus events.
type Subscriber struct {
	ID          string
	Transport   SubscriberTransport
	ConnectedAt time.Time
	Filter      Filter
}
