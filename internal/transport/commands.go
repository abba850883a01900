package transport

import (
	"time"

	"github.com/vibeorch/engine/internal/model"
)

// CommandHandler is the narrow surface every transport's ingress command
// channel routes into (spec.md §6): createJob, cancelJob, pauseJob,
// resumeJob and registerWorker, plus the GetJob/ListJobs read accessors the
// admin server's job queries use. orchestrator.Service implements this.
type CommandHandler interface {
	CreateJob(root model.Task, proj model.ProjectContext) (string, error)
	CancelJob(id string) error
	PauseJob(id string) error
	ResumeJob(id string) error
	GetJob(id string) (model.Job, error)
	ListJobs() []model.Job
	RegisterWorker(w model.Worker)
}

// WorkerSpec is the wire shape of a registerWorker command, naming the
// capability set as a plain string slice rather than the map model.Worker
// keeps internally.
type WorkerSpec struct {
	ID           string   `json:"id"`
	Capabilities []string `json:"capabilities"`
}

// Worker converts the wire spec into the model.Worker the dispatcher
// consumes, marking it idle and freshly heartbeating as of registration.
func (w WorkerSpec) Worker() model.Worker {
	caps := make(map[string]bool, len(w.Capabilities))
	for _, c := range w.Capabilities {
		caps[c] = true
	}
	return model.Worker{
		ID:              w.ID,
		Capabilities:    caps,
		Status:          model.WorkerIdle,
		LastHeartbeatAt: time.Now(),
	}
}

// TaskSpec is the wire shape of a createJob command's taskSpec payload,
// decoded straight into a model.Task.
type TaskSpec struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	Priority           string   `json:"priority"`
	Type               string   `json:"type"`
	EstimatedMinutes   float64  `json:"estimatedMinutes"`
	DependsOn          []string `json:"dependsOn"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
	Tags               []string `json:"tags"`
	OwnerProjectID     string   `json:"ownerProjectId"`
	FilePaths          []string `json:"filePaths"`
}

// Task converts the wire spec into the model.Task the engine consumes.
func (t TaskSpec) Task() model.Task {
	return model.Task{
		Title:              t.Title,
		Description:        t.Description,
		Priority:           model.Priority(t.Priority),
		Type:               t.Type,
		EstimatedMinutes:   t.EstimatedMinutes,
		DependsOn:          t.DependsOn,
		AcceptanceCriteria: t.AcceptanceCriteria,
		Tags:               t.Tags,
		OwnerProjectID:     t.OwnerProjectID,
		FilePaths:          t.FilePaths,
	}
}

// ProjectContextSpec is the wire shape of createJob's projectContext payload.
type ProjectContextSpec struct {
	Languages     []string `json:"languages"`
	Frameworks    []string `json:"frameworks"`
	CodebaseSize  int      `json:"codebaseSize"`
	ExistingTasks []string `json:"existingTasks"`
}

func (p ProjectContextSpec) ProjectContext() model.ProjectContext {
	return model.ProjectContext{
		Languages:     p.Languages,
		Frameworks:    p.Frameworks,
		CodebaseSize:  p.CodebaseSize,
		ExistingTasks: p.ExistingTasks,
	}
}
