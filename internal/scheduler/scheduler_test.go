package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibeorch/engine/internal/config"
	"github.com/vibeorch/engine/internal/depgraph"
	"github.com/vibeorch/engine/internal/model"
	"github.com/vibeorch/engine/internal/orcherr"
)

func chain(t *testing.T, ids ...string) *depgraph.Graph {
	t.Helper()
	g := depgraph.New()
	for _, id := range ids {
		g.AddTask(depgraph.Node{ID: id})
	}
	for i := 1; i < len(ids); i++ {
		require.NoError(t, g.AddEdge(ids[i-1], ids[i]))
	}
	return g
}

func tasksFromIDs(ids ...string) []model.AtomicTask {
	var out []model.AtomicTask
	for _, id := range ids {
		out = append(out, model.AtomicTask{Task: model.Task{ID: id, Priority: model.PriorityMedium, EstimatedMinutes: 10}})
	}
	return out
}

func oneWorker() []model.Worker {
	return []model.Worker{{ID: "w1", Status: model.WorkerIdle}}
}

func TestPriorityFirstOrdersByRank(t *testing.T) {
	g := depgraph.New()
	g.AddTask(depgraph.Node{ID: "a"})
	g.AddTask(depgraph.Node{ID: "b"})
	tasks := []model.AtomicTask{
		{Task: model.Task{ID: "a", Priority: model.PriorityLow}},
		{Task: model.Task{ID: "b", Priority: model.PriorityCritical}},
	}
	plan, err := priorityFirst(tasks, g, oneWorker(), config.SchedulerPolicy{})
	require.NoError(t, err)
	require.Len(t, plan.Assignments, 2)
	assert.Equal(t, "b", plan.Assignments[0].TaskID)
}

func TestShortestJobOrdersByDuration(t *testing.T) {
	g := depgraph.New()
	g.AddTask(depgraph.Node{ID: "a"})
	g.AddTask(depgraph.Node{ID: "b"})
	tasks := []model.AtomicTask{
		{Task: model.Task{ID: "a", EstimatedMinutes: 20}},
		{Task: model.Task{ID: "b", EstimatedMinutes: 5}},
	}
	plan, err := shortestJob(tasks, g, oneWorker(), config.SchedulerPolicy{})
	require.NoError(t, err)
	assert.Equal(t, "b", plan.Assignments[0].TaskID)
}

func TestSchedulerRespectsDependencyOrder(t *testing.T) {
	g := chain(t, "a", "b", "c")
	tasks := tasksFromIDs("a", "b", "c")
	plan, err := priorityFirst(tasks, g, oneWorker(), config.SchedulerPolicy{})
	require.NoError(t, err)
	require.Len(t, plan.Assignments, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{plan.Assignments[0].TaskID, plan.Assignments[1].TaskID, plan.Assignments[2].TaskID})
}

func TestBlockedNoCapabilityIsUnassigned(t *testing.T) {
	g := depgraph.New()
	g.AddTask(depgraph.Node{ID: "a"})
	tasks := []model.AtomicTask{{Task: model.Task{ID: "a", Type: "rare-skill"}}}
	workers := []model.Worker{{ID: "w1", Status: model.WorkerIdle, Capabilities: map[string]bool{"common-skill": true}}}
	plan, err := priorityFirst(tasks, g, workers, config.SchedulerPolicy{})
	require.NoError(t, err)
	assert.Empty(t, plan.Assignments)
	assert.Equal(t, []string{"a"}, plan.Unassigned)
}

func TestDeadlockWhenReadySetEmptyButWorkRemains(t *testing.T) {
	g := depgraph.New()
	g.AddTask(depgraph.Node{ID: "a"})
	// task "ghost" is not registered in the graph at all, so it never becomes
	// ready; the task slice still lists it as outstanding work.
	tasks := []model.AtomicTask{
		{Task: model.Task{ID: "a"}},
		{Task: model.Task{ID: "ghost"}},
	}
	_, err := priorityFirst(tasks, g, oneWorker(), config.SchedulerPolicy{})
	// "a" is ready and assigned; after that graph.ReadyTasks returns nothing
	// while "ghost" is still outstanding, so the simulation reports a deadlock.
	require.Error(t, err)
	assert.True(t, orcherr.IsKind(err, orcherr.KindDeadlock))
}

func TestHybridOptimalUsesScoreExpr(t *testing.T) {
	g := depgraph.New()
	g.AddTask(depgraph.Node{ID: "a"})
	g.AddTask(depgraph.Node{ID: "b"})
	tasks := []model.AtomicTask{
		{Task: model.Task{ID: "a", EstimatedMinutes: 1}},
		{Task: model.Task{ID: "b", EstimatedMinutes: 100}},
	}
	policy := config.SchedulerPolicy{ScoreExpr: "size"}
	plan, err := hybridOptimal(tasks, g, oneWorker(), policy)
	require.NoError(t, err)
	assert.Equal(t, "b", plan.Assignments[0].TaskID)
}

func TestSchedulerSelectsConfiguredAlgorithm(t *testing.T) {
	registryCfg, err := config.Init("")
	require.NoError(t, err)
	t.Cleanup(config.Teardown)

	s := New(registryCfg)
	g := chain(t, "a", "b")
	plan, err := s.Schedule(context.Background(), tasksFromIDs("a", "b"), g, oneWorker())
	require.NoError(t, err)
	assert.Len(t, plan.Assignments, 2)
}
