package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibeorch/engine/internal/config"
	"github.com/vibeorch/engine/internal/depgraph"
	"github.com/vibeorch/engine/internal/model"
	"github.com/vibeorch/engine/internal/scheduler"
)

func testRegistry(t *testing.T) *config.ConfigRegistry {
	t.Helper()
	r, err := config.Init("")
	require.NoError(t, err)
	t.Cleanup(config.Teardown)
	return r
}

func chainGraph(t *testing.T, ids ...string) *depgraph.Graph {
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

func TestRunExecutesTasksInDependencyOrder(t *testing.T) {
	var executed []string
	exec := func(ctx context.Context, task model.AtomicTask, workerID string) error {
		executed = append(executed, task.ID)
		return nil
	}
	d := New(testRegistry(t), nil, nil, nil, exec)

	tasks := []model.AtomicTask{{Task: model.Task{ID: "a"}}, {Task: model.Task{ID: "b"}}}
	g := chainGraph(t, "a", "b")
	plan := scheduler.Plan{Assignments: []scheduler.Assignment{
		{TaskID: "a", WorkerID: "w1", StartOrder: 0},
		{TaskID: "b", WorkerID: "w1", StartOrder: 1},
	}}

	err := d.Run(context.Background(), "job_1", tasks, plan, g, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, executed)
}

func TestRunRetriesFailedTaskUpToMax(t *testing.T) {
	attempts := 0
	exec := func(ctx context.Context, task model.AtomicTask, workerID string) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}
	d := New(testRegistry(t), nil, nil, nil, exec)
	tasks := []model.AtomicTask{{Task: model.Task{ID: "a"}}}
	g := chainGraph(t, "a")
	plan := scheduler.Plan{Assignments: []scheduler.Assignment{{TaskID: "a", WorkerID: "w1"}}}

	err := d.Run(context.Background(), "job_1", tasks, plan, g, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRunFailsAfterExhaustingRetries(t *testing.T) {
	exec := func(ctx context.Context, task model.AtomicTask, workerID string) error {
		return errors.New("permanent")
	}
	d := New(testRegistry(t), nil, nil, nil, exec)
	tasks := []model.AtomicTask{{Task: model.Task{ID: "a"}}}
	g := chainGraph(t, "a")
	plan := scheduler.Plan{Assignments: []scheduler.Assignment{{TaskID: "a", WorkerID: "w1"}}}

	err := d.Run(context.Background(), "job_1", tasks, plan, g, 1, nil)
	require.Error(t, err)
}

func TestCancelStopsFurtherDispatch(t *testing.T) {
	exec := func(ctx context.Context, task model.AtomicTask, workerID string) error { return nil }
	d := New(testRegistry(t), nil, nil, nil, exec)
	d.Cancel()

	tasks := []model.AtomicTask{{Task: model.Task{ID: "a"}}}
	g := chainGraph(t, "a")
	plan := scheduler.Plan{Assignments: []scheduler.Assignment{{TaskID: "a", WorkerID: "w1"}}}

	err := d.Run(context.Background(), "job_1", tasks, plan, g, 0, nil)
	require.Error(t, err)
}

func TestCheckHeartbeatsRequeuesStaleWorkerTask(t *testing.T) {
	d := New(testRegistry(t), nil, nil, nil, func(ctx context.Context, task model.AtomicTask, workerID string) error { return nil })
	d.RegisterWorker(model.Worker{ID: "w1", LastHeartbeatAt: time.Now().Add(-time.Hour)})

	d.mu.Lock()
	d.entries["a"] = &taskEntry{workerID: "w1", state: TaskRunning}
	d.mu.Unlock()

	d.CheckHeartbeats()

	d.mu.Lock()
	entry := d.entries["a"]
	d.mu.Unlock()
	assert.Equal(t, TaskQueued, entry.state)
	assert.Equal(t, 1, entry.retries)
}
