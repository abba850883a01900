package depgraph

// TopoLevels groups nodes into levels such that every dependency of a node
// in level k lies in some level < k, and every node in level k has at least
// one dependency in level k-1 (or none, for level 0). Memoized per
// generation since Scheduler and DecompositionEngine both query it
// repeatedly against an otherwise-stable graph.
func (g *Graph) TopoLevels() [][]string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if v, ok := g.cache.Get("topo"); ok {
		return v.([][]string)
	}

	indeg := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		indeg[id] = len(g.in[id])
	}

	var levels [][]string
	remaining := len(g.nodes)
	for remaining > 0 {
		var level []string
		for id, d := range indeg {
			if d == 0 {
				level = append(level, id)
			}
		}
		if len(level) == 0 {
			// Cycle slipped past AddEdge's check (shouldn't happen); stop to
			// avoid an infinite loop.
			break
		}
		for _, id := range level {
			delete(indeg, id)
			remaining--
			for to := range g.out[id] {
				if _, ok := indeg[to]; ok {
					indeg[to]--
				}
			}
		}
		levels = append(levels, level)
	}

	g.cache.Add("topo", levels)
	return levels
}

// CriticalPathResult is the longest weighted path through the graph.
type CriticalPathResult struct {
	Path   []string
	Length float64
}

// CriticalPath computes the longest path by node weight (EstimatedMinutes),
// treating a node with a zero/absent weight as weight 1 per-node so an
// all-unestimated session still yields a meaningful path length. weights,
// when non-nil, overrides Node.EstimatedMinutes by ID.
func (g *Graph) CriticalPath(weights map[string]float64) CriticalPathResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	if weights == nil {
		if v, ok := g.cache.Get("critpath"); ok {
			return v.(CriticalPathResult)
		}
	}

	weight := func(id string) float64 {
		if weights != nil {
			if w, ok := weights[id]; ok && w > 0 {
				return w
			}
		}
		if n, ok := g.nodes[id]; ok && n.EstimatedMinutes > 0 {
			return n.EstimatedMinutes
		}
		return 1
	}

	order := g.topoOrder()

	best := make(map[string]float64, len(order))
	prev := make(map[string]string, len(order))
	var bestEnd string
	var bestLen float64

	for _, id := range order {
		best[id] = weight(id)
		for from := range g.in[id] {
			if cand := best[from] + weight(id); cand > best[id] {
				best[id] = cand
				prev[id] = from
			}
		}
		if best[id] > bestLen {
			bestLen = best[id]
			bestEnd = id
		}
	}

	var path []string
	for n := bestEnd; n != ""; n = prev[n] {
		path = append([]string{n}, path...)
		if _, ok := prev[n]; !ok {
			break
		}
	}

	result := CriticalPathResult{Path: path, Length: bestLen}
	if weights == nil {
		g.cache.Add("critpath", result)
	}
	return result
}

// topoOrder returns a flat topological ordering (Kahn's algorithm).
func (g *Graph) topoOrder() []string {
	indeg := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		indeg[id] = len(g.in[id])
	}
	var queue, order []string
	for id, d := range indeg {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for to := range g.out[id] {
			indeg[to]--
			if indeg[to] == 0 {
				queue = append(queue, to)
			}
		}
	}
	return order
}
