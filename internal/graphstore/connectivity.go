package graphstore

import "github.com/katalvlaran/lvlath/core"

// checkStronglyConnected runs the standard two-pass strong-connectivity
// test: a forward BFS from an arbitrary root must reach every vertex, and a
// BFS over the reverse adjacency (built once here, since lvlath exposes no
// SCC algorithm of its own) must also reach every vertex. Reports the
// cluster count the original's igraph_clusters(IGRAPH_STRONG) call would
// have produced: 1 on success, the forward-reachability partition count
// otherwise.
func checkStronglyConnected(g *core.Graph) (clusters int, ok bool) {
	ids := g.Vertices()
	if len(ids) == 0 {
		return 0, false
	}

	forward := bfsReachable(ids[0], func(id string) []string {
		neighbors, err := g.NeighborIDs(id)
		if err != nil {
			return nil
		}
		return neighbors
	})

	reverse := buildReverseAdjacency(g)
	backward := bfsReachable(ids[0], func(id string) []string {
		return reverse[id]
	})

	if len(forward) == len(ids) && len(backward) == len(ids) {
		return 1, true
	}

	clusters = countForwardClusters(ids, func(id string) []string {
		neighbors, err := g.NeighborIDs(id)
		if err != nil {
			return nil
		}
		return neighbors
	})
	return clusters, false
}

func buildReverseAdjacency(g *core.Graph) map[string][]string {
	rev := make(map[string][]string)
	for _, e := range g.Edges() {
		rev[e.To] = append(rev[e.To], e.From)
	}
	return rev
}

func bfsReachable(root string, neighborsOf func(string) []string) map[string]struct{} {
	visited := map[string]struct{}{root: {}}
	queue := []string{root}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, n := range neighborsOf(id) {
			if _, seen := visited[n]; !seen {
				visited[n] = struct{}{}
				queue = append(queue, n)
			}
		}
	}
	return visited
}

// countForwardClusters partitions ids into forward-reachability components
// and reports how many there are, purely for diagnostics on a failed load.
func countForwardClusters(ids []string, neighborsOf func(string) []string) int {
	seen := make(map[string]struct{}, len(ids))
	clusters := 0
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		clusters++
		for v := range bfsReachable(id, neighborsOf) {
			seen[v] = struct{}{}
		}
	}
	return clusters
}
