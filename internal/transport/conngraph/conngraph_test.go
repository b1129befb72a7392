package conngraph

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRandomRegularIsSymmetricAndSeeded(t *testing.T) {
	t.Parallel()

	g1 := NewRandomRegular(20, 4, 42)
	g2 := NewRandomRegular(20, 4, 42)

	for i := 0; i < 20; i++ {
		assert.Equal(t, g1.Neighbors(i), g2.Neighbors(i), "same seed must produce the same graph")

		for _, j := range g1.Neighbors(i) {
			assert.True(t, g1.Adjacent(j, i), "adjacency must be symmetric")
			assert.NotEqual(t, i, j, "no self-loops")
		}
	}
}

func TestNewRandomRegularDifferentSeedsDiffer(t *testing.T) {
	t.Parallel()

	g1 := NewRandomRegular(20, 4, 1)
	g2 := NewRandomRegular(20, 4, 2)

	same := true
	for i := 0; i < 20; i++ {
		n1 := g1.Neighbors(i)
		n2 := g2.Neighbors(i)
		if len(n1) != len(n2) {
			same = false
			break
		}
		for k := range n1 {
			if n1[k] != n2[k] {
				same = false
			}
		}
	}
	assert.False(t, same, "different seeds should produce different graphs with overwhelming probability")
}

func TestNewRandomRegularClampsDegree(t *testing.T) {
	t.Parallel()

	g := NewRandomRegular(3, 10, 7)
	for i := 0; i < 3; i++ {
		assert.LessOrEqual(t, len(g.Neighbors(i)), 2)
	}
}

func TestAdjacentOutOfRange(t *testing.T) {
	t.Parallel()

	g := NewRandomRegular(5, 2, 3)
	assert.False(t, g.Adjacent(-1, 0))
	assert.False(t, g.Adjacent(0, 100))
	assert.Nil(t, g.Neighbors(100))
}

func TestRandomNeighborReturnsAdjacentNode(t *testing.T) {
	t.Parallel()

	g := NewRandomRegular(10, 4, 99)
	rng := rand.New(rand.NewSource(5))

	for i := 0; i < 50; i++ {
		n, ok := RandomNeighbor(g, 0, rng)
		if !assert.True(t, ok) {
			continue
		}
		assert.True(t, g.Adjacent(0, n))
	}
}

func TestRandomNeighborEmptyGraph(t *testing.T) {
	t.Parallel()

	g := &Graph{n: 1, edges: []map[int]struct{}{{}}}
	_, ok := RandomNeighbor(g, 0, rand.New(rand.NewSource(1)))
	assert.False(t, ok)
}
