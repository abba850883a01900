// Package scheduler implements the six pluggable scheduling algorithms from
// spec.md §4.6: each consumes the same (tasks, graph, workers) triple and
// produces an ordered assignment plan. Grounded on the teacher's
// infrastructure/service strategy-selection idiom (one func(ctx) per named
// strategy, selected by a config string) seen in services/automation's
// trigger evaluators.
package scheduler

import (
	"context"
	"sort"

	"time"

	"github.com/dop251/goja"

	"github.com/vibeorch/engine/internal/config"
	"github.com/vibeorch/engine/internal/depgraph"
	"github.com/vibeorch/engine/internal/metrics"
	"github.com/vibeorch/engine/internal/model"
	"github.com/vibeorch/engine/internal/orcherr"
)

// Assignment is one entry of a schedule plan.
type Assignment struct {
	TaskID     string
	WorkerID   string
	StartOrder int
}

// Plan is the full output of a Schedule call.
type Plan struct {
	Assignments []Assignment
	Unassigned  []string // blocked-no-capability: no live worker can run these
}

// Algorithm is a named scheduling strategy.
type Algorithm func(tasks []model.AtomicTask, graph *depgraph.Graph, workers []model.Worker, policy config.SchedulerPolicy) (Plan, error)

var registry = map[string]Algorithm{
	"priority_first":     priorityFirst,
	"earliest_deadline":  earliestDeadline,
	"critical_path":      criticalPathFirst,
	"resource_balanced":  resourceBalanced,
	"shortest_job":       shortestJob,
	"hybrid_optimal":     hybridOptimal,
}

// Scheduler selects and runs the configured algorithm.
type Scheduler struct {
	registry *config.ConfigRegistry
}

// New builds a Scheduler.
func New(registry *config.ConfigRegistry) *Scheduler {
	return &Scheduler{registry: registry}
}

// Schedule builds a dispatch plan using the algorithm named by the current
// SchedulerPolicy.
func (s *Scheduler) Schedule(ctx context.Context, tasks []model.AtomicTask, graph *depgraph.Graph, workers []model.Worker) (Plan, error) {
	policy := s.registry.GetSchedulerPolicy()
	name := policy.Algorithm
	alg, ok := registry[name]
	if !ok {
		name = "hybrid_optimal"
		alg = hybridOptimal
	}

	start := time.Now()
	plan, err := alg(tasks, graph, workers, policy)
	metrics.SchedulerPlanDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if orcherr.IsKind(err, orcherr.KindDeadlock) {
		metrics.SchedulerDeadlocks.Inc()
	}
	return plan, err
}

// simulate drives the iteration shared by every algorithm: repeatedly pick
// from the ready set (per algorithm ordering), assign to a capable worker,
// mark it done at once (no clock is modelled), and recompute readiness. A
// DeadlockError fires
// if the ready set is empty while tasks remain outstanding.
func simulate(tasks []model.AtomicTask, graph *depgraph.Graph, workers []model.Worker, pick func(ready []model.AtomicTask, assignedLoad map[string]float64) model.AtomicTask) (Plan, error) {
	byID := make(map[string]model.AtomicTask, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	done := make(map[string]bool, len(tasks))
	load := make(map[string]float64, len(workers))
	var plan Plan
	order := 0

	for len(done) < len(tasks) {
		readyIDs := graph.ReadyTasks(done)
		if len(readyIDs) == 0 {
			remaining := len(tasks) - len(done)
			return plan, orcherr.DeadlockError(remaining)
		}

		var ready []model.AtomicTask
		for _, id := range readyIDs {
			if t, ok := byID[id]; ok {
				ready = append(ready, t)
			}
		}
		if len(ready) == 0 {
			// Ready IDs exist in the graph but aren't part of this task set
			// (e.g. already completed in a prior job run); mark them done so
			// the loop can progress past them.
			for _, id := range readyIDs {
				done[id] = true
			}
			continue
		}

		next := pick(ready, load)
		done[next.ID] = true

		worker := bestWorker(next, workers, load)
		if worker == "" {
			plan.Unassigned = append(plan.Unassigned, next.ID)
			continue
		}
		load[worker] += next.EstimatedMinutes
		plan.Assignments = append(plan.Assignments, Assignment{TaskID: next.ID, WorkerID: worker, StartOrder: order})
		order++
	}

	return plan, nil
}

// bestWorker picks the capable, least-loaded live worker, or "" if none can
// handle the task (blocked-no-capability, spec.md §4.6).
func bestWorker(t model.AtomicTask, workers []model.Worker, load map[string]float64) string {
	var best string
	bestLoad := -1.0
	for _, w := range workers {
		if w.Status == model.WorkerOffline || !w.CanHandle(t.Type) {
			continue
		}
		l := load[w.ID] + w.ProjectedLoadMin
		if bestLoad < 0 || l < bestLoad {
			bestLoad = l
			best = w.ID
		}
	}
	return best
}

func priorityFirst(tasks []model.AtomicTask, graph *depgraph.Graph, workers []model.Worker, _ config.SchedulerPolicy) (Plan, error) {
	return simulate(tasks, graph, workers, func(ready []model.AtomicTask, _ map[string]float64) model.AtomicTask {
		sort.SliceStable(ready, func(i, j int) bool { return ready[i].Priority.Rank() > ready[j].Priority.Rank() })
		return ready[0]
	})
}

func earliestDeadline(tasks []model.AtomicTask, graph *depgraph.Graph, workers []model.Worker, _ config.SchedulerPolicy) (Plan, error) {
	return simulate(tasks, graph, workers, func(ready []model.AtomicTask, _ map[string]float64) model.AtomicTask {
		sort.SliceStable(ready, func(i, j int) bool {
			a, b := ready[i].Deadline, ready[j].Deadline
			if a == nil && b == nil {
				// Neither task has a deadline: fall through to priority_first.
				return ready[i].Priority.Rank() > ready[j].Priority.Rank()
			}
			if a == nil {
				return false
			}
			if b == nil {
				return true
			}
			return a.Before(*b)
		})
		return ready[0]
	})
}

func criticalPathFirst(tasks []model.AtomicTask, graph *depgraph.Graph, workers []model.Worker, _ config.SchedulerPolicy) (Plan, error) {
	downstream := downstreamWeight(tasks, graph)
	return simulate(tasks, graph, workers, func(ready []model.AtomicTask, _ map[string]float64) model.AtomicTask {
		sort.SliceStable(ready, func(i, j int) bool { return downstream[ready[i].ID] > downstream[ready[j].ID] })
		return ready[0]
	})
}

// downstreamWeight sums, for each node, the weight of the longest chain of
// work that still depends (transitively) on it completing.
func downstreamWeight(tasks []model.AtomicTask, graph *depgraph.Graph) map[string]float64 {
	weights := make(map[string]float64, len(tasks))
	for _, t := range tasks {
		w := t.EstimatedMinutes
		if w <= 0 {
			w = 1
		}
		weights[t.ID] = w
	}
	levels := graph.TopoLevels()
	result := make(map[string]float64, len(tasks))
	order := make([]string, 0, len(tasks))
	for _, level := range levels {
		for _, id := range level {
			result[id] = weights[id]
			order = append(order, id)
		}
	}
	// Propagate backward over the topological order: a node's downstream
	// weight includes every successor's downstream weight plus its own.
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		for _, succID := range successors(graph, id) {
			if result[succID]+weights[id] > result[id] {
				result[id] = result[succID] + weights[id]
			}
		}
	}
	return result
}

func successors(graph *depgraph.Graph, id string) []string {
	var out []string
	for _, n := range graph.Nodes() {
		for _, dep := range graph.Dependencies(n.ID) {
			if dep == id {
				out = append(out, n.ID)
			}
		}
	}
	return out
}

// resourceBalanced favors the worker with the smallest projected load, then
// picks the highest-priority ready task that worker can handle. If no live
// worker can handle any ready task, it falls back to priority_first so the
// simulation still makes progress (bestWorker reports the task as
// blocked-no-capability afterward).
func resourceBalanced(tasks []model.AtomicTask, graph *depgraph.Graph, workers []model.Worker, _ config.SchedulerPolicy) (Plan, error) {
	return simulate(tasks, graph, workers, func(ready []model.AtomicTask, load map[string]float64) model.AtomicTask {
		sort.SliceStable(ready, func(i, j int) bool { return ready[i].Priority.Rank() > ready[j].Priority.Rank() })

		least := leastLoadedWorker(workers, load)
		if least != "" {
			for _, t := range ready {
				if w := workerByID(workers, least); w != nil && w.CanHandle(t.Type) {
					return t
				}
			}
		}
		return ready[0]
	})
}

// leastLoadedWorker returns the ID of the live worker with the smallest
// projected load, or "" if none are live.
func leastLoadedWorker(workers []model.Worker, load map[string]float64) string {
	var best string
	bestLoad := -1.0
	for _, w := range workers {
		if w.Status == model.WorkerOffline {
			continue
		}
		l := load[w.ID] + w.ProjectedLoadMin
		if bestLoad < 0 || l < bestLoad {
			bestLoad = l
			best = w.ID
		}
	}
	return best
}

func workerByID(workers []model.Worker, id string) *model.Worker {
	for i := range workers {
		if workers[i].ID == id {
			return &workers[i]
		}
	}
	return nil
}

func shortestJob(tasks []model.AtomicTask, graph *depgraph.Graph, workers []model.Worker, _ config.SchedulerPolicy) (Plan, error) {
	return simulate(tasks, graph, workers, func(ready []model.AtomicTask, _ map[string]float64) model.AtomicTask {
		sort.SliceStable(ready, func(i, j int) bool {
			a, b := ready[i].EstimatedMinutes, ready[j].EstimatedMinutes
			if a <= 0 {
				a = 1
			}
			if b <= 0 {
				b = 1
			}
			return a < b
		})
		return ready[0]
	})
}

// hybridOptimal scores each ready task with a linear combination of
// priority, critical-path weight, inverse size and wait age, unless the
// policy supplies a ScoreExpr, in which case that JS expression is evaluated
// instead (spec.md §9 Open Question: configurable weights).
func hybridOptimal(tasks []model.AtomicTask, graph *depgraph.Graph, workers []model.Worker, policy config.SchedulerPolicy) (Plan, error) {
	downstream := downstreamWeight(tasks, graph)
	waitSince := make(map[string]int, len(tasks))
	tick := 0

	return simulate(tasks, graph, workers, func(ready []model.AtomicTask, _ map[string]float64) model.AtomicTask {
		tick++
		for _, t := range ready {
			if _, seen := waitSince[t.ID]; !seen {
				waitSince[t.ID] = tick
			}
		}

		best := ready[0]
		bestScore := score(best, downstream, waitSince, tick, policy)
		for _, t := range ready[1:] {
			if s := score(t, downstream, waitSince, tick, policy); s > bestScore {
				bestScore = s
				best = t
			}
		}
		return best
	})
}

func score(t model.AtomicTask, downstream map[string]float64, waitSince map[string]int, tick int, policy config.SchedulerPolicy) float64 {
	size := t.EstimatedMinutes
	if size <= 0 {
		size = 1
	}
	waitAge := float64(tick - waitSince[t.ID])

	if policy.ScoreExpr != "" {
		if v, err := evalScoreExpr(policy.ScoreExpr, float64(t.Priority.Rank()), downstream[t.ID], size, waitAge); err == nil {
			return v
		}
	}

	return policy.WeightPriority*float64(t.Priority.Rank()) +
		policy.WeightCriticalPath*downstream[t.ID] +
		policy.WeightInverseSize*(1/size) +
		policy.WeightWaitAge*waitAge
}

func evalScoreExpr(expr string, priority, criticalPath, size, waitAge float64) (float64, error) {
	vm := goja.New()
	_ = vm.Set("priority", priority)
	_ = vm.Set("criticalPath", criticalPath)
	_ = vm.Set("size", size)
	_ = vm.Set("waitAge", waitAge)
	v, err := vm.RunString(expr)
	if err != nil {
		return 0, err
	}
	return v.ToFloat(), nil
}
