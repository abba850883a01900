// Package decomposition implements recursive decision decomposition (RDD,
// spec.md §4.4): split a non-atomic task with the oracle, recurse on each
// child up to a depth/fan-out cap, and assemble the resulting atomic tasks
// into a DependencyGraph. Grounded on the teacher's
// infrastructure/service/runner.go recursive-job-expansion idiom, adapted
// from worker-pool fan-out to recursive task splitting.
package decomposition

import (
	"context"
	"fmt"

	"github.com/vibeorch/engine/internal/atomicity"
	"github.com/vibeorch/engine/internal/config"
	"github.com/vibeorch/engine/internal/depgraph"
	"github.com/vibeorch/engine/internal/idgen"
	"github.com/vibeorch/engine/internal/metrics"
	"github.com/vibeorch/engine/internal/model"
	"github.com/vibeorch/engine/internal/obslog"
	"github.com/vibeorch/engine/internal/oracle"
	"github.com/vibeorch/engine/internal/orcherr"
	"github.com/vibeorch/engine/internal/resilience"
)

// Session is the output of one decomposition run.
type Session struct {
	ID           string
	AtomicTasks  []model.AtomicTask
	Graph        *depgraph.Graph
	TotalSplits  int
	AtCapWarning bool
}

// Engine runs RDD over a root task.
type Engine struct {
	detector *atomicity.Detector
	client   oracle.Client
	timeouts *resilience.TimeoutManager
	registry *config.ConfigRegistry
	log      *obslog.Logger
}

// New builds an Engine.
func New(detector *atomicity.Detector, client oracle.Client, timeouts *resilience.TimeoutManager, registry *config.ConfigRegistry, log *obslog.Logger) *Engine {
	return &Engine{detector: detector, client: client, timeouts: timeouts, registry: registry, log: log}
}

// Run decomposes root into a graph of atomic tasks. sessionID, when empty,
// is freshly generated; callers that need replay-determinism (spec.md §8)
// supply a fixed sessionID so idgen.SessionSequence derives identical
// atomic-task IDs across runs with an identical oracle stub.
func (e *Engine) Run(ctx context.Context, root model.Task, proj model.ProjectContext, sessionID string) (*Session, error) {
	if sessionID == "" {
		sessionID = idgen.NewSessionID()
	}
	seq := idgen.NewSessionSequence(sessionID)
	limits := e.registry.GetLimits()
	graph := depgraph.New()

	sess := &Session{ID: sessionID, Graph: graph}
	root.Depth = 0
	if root.ID == "" {
		root.ID = seq.Next()
	}

	if err := e.split(ctx, root, proj, limits, seq, sess); err != nil {
		return nil, err
	}
	if len(sess.AtomicTasks) > limits.MaxTasksPerSession {
		sess.AtCapWarning = true
	}
	return sess, nil
}

// split evaluates t for atomicity; if atomic it's added as a leaf, otherwise
// it is split via the oracle and each child is recursed on, with explicit
// DependsOn edges wired from the oracle's dependencies[] indices.
func (e *Engine) split(ctx context.Context, t model.Task, proj model.ProjectContext, limits config.Limits, seq *idgen.SessionSequence, sess *Session) error {
	sess.TotalSplits++
	if sess.TotalSplits > limits.MaxTasksPerSession {
		return e.addAtomic(t, graphNodeOf(t), sess, 0.3, []string{"atomic by cap: session task limit reached"})
	}

	verdict := e.detector.Check(ctx, t, proj)
	if verdict.IsAtomic || t.Depth >= limits.MaxDecompositionDepth {
		warnings := append([]string{}, verdict.Warnings...)
		if !verdict.IsAtomic && t.Depth >= limits.MaxDecompositionDepth {
			warnings = append(warnings, fmt.Sprintf("atomic by cap: max depth %d reached", limits.MaxDecompositionDepth))
		}
		return e.addAtomic(t, graphNodeOf(t), sess, verdict.Confidence, warnings)
	}

	drafts, err := e.requestSplit(ctx, t, proj)
	if err != nil {
		// Oracle unavailable mid-decomposition: treat as atomic-by-fallback
		// rather than aborting the whole session.
		return e.addAtomic(t, graphNodeOf(t), sess, 0.4, []string{"oracle unavailable during split"})
	}
	if len(drafts) == 0 {
		return e.addAtomic(t, graphNodeOf(t), sess, verdict.Confidence, append(verdict.Warnings, "oracle returned no children"))
	}
	metrics.DecompositionSplits.Inc()

	childIDs := make([]string, len(drafts))
	for i, d := range drafts {
		child := model.Task{
			ID:                 seq.Next(),
			Title:              d.Title,
			Description:        d.Description,
			Priority:           t.Priority,
			Type:               t.Type,
			EstimatedMinutes:   d.EstimatedMinutes,
			AcceptanceCriteria: d.AcceptanceCriteria,
			FilePaths:          d.FilePaths,
			OwnerProjectID:     t.OwnerProjectID,
			ParentID:           t.ID,
			EpicID:             firstNonEmpty(t.EpicID, t.ID),
			Depth:              t.Depth + 1,
		}
		childIDs[i] = child.ID
		sess.Graph.AddTask(depgraph.Node{ID: child.ID, EstimatedMinutes: child.EstimatedMinutes})

		if sess.TotalSplits >= limits.MaxTasksPerSession {
			sess.AtCapWarning = true
		}

		if err := e.split(ctx, child, proj, limits, seq, sess); err != nil {
			return err
		}
	}

	for i, d := range drafts {
		for _, depIdx := range d.DependsOnIndices {
			if depIdx < 0 || depIdx >= len(childIDs) || depIdx == i {
				continue
			}
			if err := sess.Graph.AddEdge(childIDs[depIdx], childIDs[i]); err != nil && !orcherr.IsKind(err, orcherr.KindCycle) {
				return err
			}
			// A cycle among sibling-declared dependencies is dropped rather
			// than failing the whole session: the oracle's dependency claims
			// are advisory, not authoritative.
		}
	}

	return nil
}

func (e *Engine) addAtomic(t model.Task, node depgraph.Node, sess *Session, confidence float64, warnings []string) error {
	sess.Graph.AddTask(node)
	sess.AtomicTasks = append(sess.AtomicTasks, model.AtomicTask{
		Task:                t,
		AtomicityConfidence: confidence,
		Warnings:            warnings,
	})
	return nil
}

func graphNodeOf(t model.Task) depgraph.Node {
	return depgraph.Node{ID: t.ID, EstimatedMinutes: t.EstimatedMinutes}
}

func (e *Engine) requestSplit(ctx context.Context, t model.Task, proj model.ProjectContext) ([]oracle.SubtaskDraft, error) {
	prompt := buildSplitPrompt(t, proj)
	result := e.timeouts.Run(ctx, config.OpTaskDecomposition, func(ctx context.Context) (interface{}, error) {
		return e.client.Ask(ctx, prompt, oracle.KindDecomposition)
	})
	if !result.OK {
		return nil, result.Err
	}
	return oracle.ExtractSubtasks(result.Value.(string))
}

func buildSplitPrompt(t model.Task, proj model.ProjectContext) string {
	return "Split this task into smaller, independently implementable subtasks. " +
		"Respond with JSON {children: [{title, description, estimatedMinutes, filePaths, acceptanceCriteria, dependencies}]}, " +
		"where dependencies are indices into children that must complete first.\n" +
		"Title: " + t.Title + "\nDescription: " + t.Description
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
