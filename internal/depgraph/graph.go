// Package depgraph implements the DAG of atomic tasks (spec.md §4.5): cycle
// detection on every edge insertion, ready-set computation, topological
// levels, and critical-path length, with derived views memoized and
// invalidated on mutation so repeated queries against a large, stable graph
// don't recompute from scratch (grounded on the teacher's
// hashicorp/golang-lru usage pattern for derived-state caching).
package depgraph

import (
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vibeorch/engine/internal/orcherr"
)

// Node is a graph vertex: an atomic task ID plus its execution weight.
type Node struct {
	ID               string
	EstimatedMinutes float64
}

// Graph is a directed acyclic graph over atomic task IDs.
type Graph struct {
	mu sync.RWMutex

	nodes map[string]Node
	out   map[string]map[string]bool // from -> set(to)
	in    map[string]map[string]bool // to -> set(from)

	generation uint64
	cache      *lru.Cache[string, any]
}

// New builds an empty Graph.
func New() *Graph {
	c, _ := lru.New[string, any](8)
	return &Graph{
		nodes: make(map[string]Node),
		out:   make(map[string]map[string]bool),
		in:    make(map[string]map[string]bool),
		cache: c,
	}
}

// AddTask inserts a node. Re-adding an existing ID updates its weight.
func (g *Graph) AddTask(n Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[n.ID] = n
	if _, ok := g.out[n.ID]; !ok {
		g.out[n.ID] = make(map[string]bool)
	}
	if _, ok := g.in[n.ID]; !ok {
		g.in[n.ID] = make(map[string]bool)
	}
	g.invalidate()
}

// AddEdge inserts a "from must finish before to" edge. Duplicate edges are a
// no-op. An edge that would close a cycle is rejected with a CycleError
// naming the closing node, and the graph is left exactly as it was
// (spec.md §8 scenario S3).
func (g *Graph) AddEdge(from, to string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[from]; !ok {
		return orcherr.ValidationError("from", "unknown node "+from)
	}
	if _, ok := g.nodes[to]; !ok {
		return orcherr.ValidationError("to", "unknown node "+to)
	}
	if g.out[from][to] {
		return nil // already present; insertion order/uniqueness invariant holds
	}
	if from == to || g.reaches(to, from) {
		return orcherr.CycleError(to)
	}

	g.out[from][to] = true
	g.in[to][from] = true
	g.invalidate()
	return nil
}

// reaches reports whether a path exists from start to target (used to
// detect whether adding start->... ultimately closes back on itself).
func (g *Graph) reaches(start, target string) bool {
	if start == target {
		return true
	}
	seen := map[string]bool{start: true}
	stack := []string{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range g.out[n] {
			if next == target {
				return true
			}
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// Remove deletes a node and all incident edges.
func (g *Graph) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for to := range g.out[id] {
		delete(g.in[to], id)
	}
	for from := range g.in[id] {
		delete(g.out[from], id)
	}
	delete(g.out, id)
	delete(g.in, id)
	delete(g.nodes, id)
	g.invalidate()
}

func (g *Graph) invalidate() {
	g.generation++
	g.cache.Purge()
}

// NodeCount returns the number of vertices.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Nodes returns a snapshot of all nodes.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	return out
}

// Dependencies returns the direct predecessors of id.
func (g *Graph) Dependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.in[id]))
	for from := range g.in[id] {
		out = append(out, from)
	}
	return out
}

// Indegree and Outdegree report the direct predecessor/successor counts.
func (g *Graph) Indegree(id string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.in[id])
}

func (g *Graph) Outdegree(id string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.out[id])
}

// ReadyTasks returns IDs whose dependencies are all present in done, sorted
// by ID. The sort makes every algorithm's tie-breaking deterministic across
// runs (spec.md §8's replay-determinism property) instead of depending on Go's
// randomized map iteration order.
func (g *Graph) ReadyTasks(done map[string]bool) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for id := range g.nodes {
		if done[id] {
			continue
		}
		allDone := true
		for from := range g.in[id] {
			if !done[from] {
				allDone = false
				break
			}
		}
		if allDone {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	return ready
}
