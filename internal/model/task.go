// Package model holds the shared data types that flow between components:
// Task, AtomicTask, DependencyGraph edges, Job, Worker and Subscriber.
package model

import (
	"strings"
	"time"
)

// Priority is the declared urgency tier of a Task.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank returns a numeric ordering for priority comparisons, higher is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 0
	default:
		return 0
	}
}

// Task is the high-level work item submitted by a caller, before decomposition.
type Task struct {
	ID                 string
	Title              string
	Description        string
	Priority           Priority
	Type               string
	EstimatedMinutes   float64
	DependsOn          []string
	AcceptanceCriteria []string
	Tags               []string
	OwnerProjectID     string
	FilePaths          []string
	Deadline           *time.Time

	ParentID string
	EpicID   string
	Depth    int
}

// AtomicTask is a Task known to satisfy the atomicity invariants from §3 of
// the spec: bounded duration, bounded file footprint, exactly one acceptance
// criterion, and a title free of multi-action coordinators.
type AtomicTask struct {
	Task
	AtomicityConfidence float64
	Warnings            []string
}

// Validate reports every atomicity invariant t violates, or nil if t would
// be a legal AtomicTask slot occupant.
func (t Task) Validate() []string {
	var problems []string
	if t.EstimatedMinutes > 20 {
		problems = append(problems, "exceeds duration threshold")
	}
	if len(t.FilePaths) > 2 {
		problems = append(problems, "multi-file change")
	}
	if len(t.AcceptanceCriteria) != 1 {
		problems = append(problems, "must have exactly one AC")
	}
	if HasCoordinator(t.Title) || HasCoordinator(t.Description) {
		problems = append(problems, "multiple actions")
	}
	return problems
}

// HasCoordinator reports whether s contains " and " or " or " anywhere,
// case-insensitively. It is a plain substring match: the words on either
// side are not examined, so "salt and pepper" counts the same as "build and
// deploy".
func HasCoordinator(s string) bool {
	lower := strings.ToLower(s)
	for _, word := range []string{" and ", " or "} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

// ProjectContext is supplied to the AtomicityDetector and DecompositionEngine
// as background for oracle prompts.
type ProjectContext struct {
	Languages     []string
	Frameworks    []string
	CodebaseSize  int
	ExistingTasks []string
}
