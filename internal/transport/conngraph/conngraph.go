// Package conngraph builds and queries the fixed connection graph: a
// random regular graph, chosen once at genesis, whose adjacency defines
// which peer pairs are permitted to sync.
package conngraph

import (
	"math/rand"
	"sort"
)

// Graph is an undirected adjacency list over member ids [0, n).
type Graph struct {
	n     int
	edges []map[int]struct{}
}

// NewRandomRegular builds a random d-regular graph over n nodes, seeded
// deterministically from seed so that every node in the committee derives
// the identical graph (they all compute it from the same address-book
// hash). A simple d-regular graph exists only when n*d is even; when it is
// odd, the last stub stays unpaired and one node ends with degree d-1. If
// random pairing fails on every attempt, the ring fallback links each node
// to its next d/2 neighbors, so an odd d gives every node degree d-1.
func NewRandomRegular(n, d int, seed int64) *Graph {
	if d >= n {
		d = n - 1
	}
	if d < 1 {
		d = 1
	}

	g := &Graph{n: n, edges: make([]map[int]struct{}, n)}
	for i := range g.edges {
		g.edges[i] = make(map[int]struct{})
	}

	rng := rand.New(rand.NewSource(seed))

	// Pairing-model construction: build d "stubs" per node and pair them
	// off randomly, skipping self-pairs and already-connected pairs,
	// retrying the whole pairing on failure (bounded attempts).
	for attempt := 0; attempt < 64; attempt++ {
		stubs := make([]int, 0, n*d)
		for i := 0; i < n; i++ {
			for k := 0; k < d; k++ {
				stubs = append(stubs, i)
			}
		}

		rng.Shuffle(len(stubs), func(i, j int) { stubs[i], stubs[j] = stubs[j], stubs[i] })

		g2 := &Graph{n: n, edges: make([]map[int]struct{}, n)}
		for i := range g2.edges {
			g2.edges[i] = make(map[int]struct{})
		}

		ok := true
		for i := 0; i+1 < len(stubs); i += 2 {
			a, b := stubs[i], stubs[i+1]
			if a == b {
				ok = false
				break
			}
			if _, exists := g2.edges[a][b]; exists {
				ok = false
				break
			}
			g2.edges[a][b] = struct{}{}
			g2.edges[b][a] = struct{}{}
		}

		if ok {
			return g2
		}
	}

	// Fall back to a deterministic ring-plus-chords graph, which is
	// always constructible, if random pairing kept failing.
	return ring(n, d)
}

func ring(n, d int) *Graph {
	g := &Graph{n: n, edges: make([]map[int]struct{}, n)}
	for i := range g.edges {
		g.edges[i] = make(map[int]struct{})
	}

	half := d / 2
	if half < 1 {
		half = 1
	}

	for i := 0; i < n; i++ {
		for k := 1; k <= half; k++ {
			j := (i + k) % n
			g.edges[i][j] = struct{}{}
			g.edges[j][i] = struct{}{}
		}
	}

	return g
}

// Adjacent reports whether a and b are connected in the graph.
func (g *Graph) Adjacent(a, b int) bool {
	if a < 0 || a >= g.n || b < 0 || b >= g.n {
		return false
	}
	_, ok := g.edges[a][b]
	return ok
}

// Neighbors returns self's neighbors, sorted for determinism.
func (g *Graph) Neighbors(self int) []int {
	if self < 0 || self >= g.n {
		return nil
	}

	out := make([]int, 0, len(g.edges[self]))
	for n := range g.edges[self] {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// RandomNeighbor returns a uniformly random neighbor of self.
func RandomNeighbor(g *Graph, self int, rng *rand.Rand) (int, bool) {
	neighbors := g.Neighbors(self)
	if len(neighbors) == 0 {
		return 0, false
	}
	return neighbors[rng.Intn(len(neighbors))], true
}
