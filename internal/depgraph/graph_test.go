package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibeorch/engine/internal/orcherr"
)

func mustAddChain(t *testing.T, g *Graph, ids ...string) {
	t.Helper()
	for _, id := range ids {
		g.AddTask(Node{ID: id})
	}
	for i := 1; i < len(ids); i++ {
		require.NoError(t, g.AddEdge(ids[i-1], ids[i]))
	}
}

func TestAddEdgeRejectsDirectCycle(t *testing.T) {
	g := New()
	g.AddTask(Node{ID: "a"})
	g.AddTask(Node{ID: "b"})
	require.NoError(t, g.AddEdge("a", "b"))

	err := g.AddEdge("b", "a")
	require.Error(t, err)
	assert.True(t, orcherr.IsKind(err, orcherr.KindCycle))
}

func TestAddEdgeRejectsSelfLoop(t *testing.T) {
	g := New()
	g.AddTask(Node{ID: "a"})
	err := g.AddEdge("a", "a")
	require.Error(t, err)
	assert.True(t, orcherr.IsKind(err, orcherr.KindCycle))
}

func TestAddEdgeRejectsIndirectCycle(t *testing.T) {
	g := New()
	mustAddChain(t, g, "a", "b", "c")
	err := g.AddEdge("c", "a")
	require.Error(t, err)
	assert.True(t, orcherr.IsKind(err, orcherr.KindCycle))
	assert.Equal(t, "a", err.(*orcherr.Error).Context["closingNode"])
}

func TestDuplicateEdgeIsNoop(t *testing.T) {
	g := New()
	g.AddTask(Node{ID: "a"})
	g.AddTask(Node{ID: "b"})
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("a", "b"))
	assert.Equal(t, 1, g.Outdegree("a"))
}

func TestReadyTasks(t *testing.T) {
	g := New()
	mustAddChain(t, g, "a", "b", "c")
	assert.ElementsMatch(t, []string{"a"}, g.ReadyTasks(map[string]bool{}))
	assert.ElementsMatch(t, []string{"b"}, g.ReadyTasks(map[string]bool{"a": true}))
	assert.ElementsMatch(t, []string{"c"}, g.ReadyTasks(map[string]bool{"a": true, "b": true}))
}

func TestReadyTasksWithDiamond(t *testing.T) {
	g := New()
	for _, id := range []string{"a", "b", "c", "d"} {
		g.AddTask(Node{ID: id})
	}
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("a", "c"))
	require.NoError(t, g.AddEdge("b", "d"))
	require.NoError(t, g.AddEdge("c", "d"))

	assert.ElementsMatch(t, []string{"a"}, g.ReadyTasks(nil))
	assert.ElementsMatch(t, []string{"b", "c"}, g.ReadyTasks(map[string]bool{"a": true}))
	assert.ElementsMatch(t, []string{"d"}, g.ReadyTasks(map[string]bool{"a": true, "b": true, "c": true}))
}

func TestTopoLevelsDiamond(t *testing.T) {
	g := New()
	for _, id := range []string{"a", "b", "c", "d"} {
		g.AddTask(Node{ID: id})
	}
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("a", "c"))
	require.NoError(t, g.AddEdge("b", "d"))
	require.NoError(t, g.AddEdge("c", "d"))

	levels := g.TopoLevels()
	require.Len(t, levels, 3)
	assert.ElementsMatch(t, []string{"a"}, levels[0])
	assert.ElementsMatch(t, []string{"b", "c"}, levels[1])
	assert.ElementsMatch(t, []string{"d"}, levels[2])
}

func TestCriticalPathDefaultWeightOne(t *testing.T) {
	g := New()
	mustAddChain(t, g, "a", "b", "c")
	res := g.CriticalPath(nil)
	assert.Equal(t, []string{"a", "b", "c"}, res.Path)
	assert.Equal(t, float64(3), res.Length)
}

func TestCriticalPathUsesEstimatedMinutes(t *testing.T) {
	g := New()
	g.AddTask(Node{ID: "a", EstimatedMinutes: 5})
	g.AddTask(Node{ID: "b", EstimatedMinutes: 30})
	g.AddTask(Node{ID: "c", EstimatedMinutes: 1})
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("a", "c"))

	res := g.CriticalPath(nil)
	assert.Equal(t, []string{"a", "b"}, res.Path)
	assert.Equal(t, float64(35), res.Length)
}

func TestRemoveDropsIncidentEdges(t *testing.T) {
	g := New()
	mustAddChain(t, g, "a", "b", "c")
	g.Remove("b")
	assert.Equal(t, 2, g.NodeCount())
	assert.Equal(t, 0, g.Indegree("c"))
	assert.ElementsMatch(t, []string{"a", "c"}, g.ReadyTasks(nil))
}

func TestCacheInvalidatedOnMutation(t *testing.T) {
	g := New()
	mustAddChain(t, g, "a", "b")
	first := g.TopoLevels()
	require.Len(t, first, 2)

	g.AddTask(Node{ID: "c"})
	require.NoError(t, g.AddEdge("b", "c"))

	second := g.TopoLevels()
	require.Len(t, second, 3)
}

func TestAddEdgeUnknownNode(t *testing.T) {
	g := New()
	g.AddTask(Node{ID: "a"})
	err := g.AddEdge("a", "ghost")
	require.Error(t, err)
	assert.True(t, orcherr.IsKind(err, orcherr.KindValidation))
}
