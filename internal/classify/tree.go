package classify

import (
	"math"
	"math/rand"
	"sort"
)

// treeNode is one node of a flattened binary tree. Leaves have Left == -1 and
// carry Value: a class distribution for classification trees or a single
// output for regression trees.
type treeNode struct {
	Feature   int       `json:"f"`
	Threshold float64   `json:"t"`
	Left      int       `json:"l"`
	Right     int       `json:"r"`
	Value     []float64 `json:"v,omitempty"`
}

type decisionTree struct {
	Nodes []treeNode `json:"nodes"`
}

func (t *decisionTree) leaf(x []float64) []float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Left < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// splitStats scores candidate partitions while a sweep moves samples from the
// right side to the left side. Lower scores are better.
type splitStats interface {
	reset(idx []int)
	move(i int)
	score() float64
}

type treeBuilder struct {
	X           [][]float64
	maxDepth    int
	minSplit    int
	maxFeatures int
	rng         *rand.Rand
	stats       splitStats
	leafValue   func(idx []int) []float64
	pure        func(idx []int) bool
	nodes       []treeNode
}

func (b *treeBuilder) build(idx []int) decisionTree {
	b.nodes = nil
	b.grow(idx, 0)
	return decisionTree{Nodes: b.nodes}
}

func (b *treeBuilder) grow(idx []int, depth int) int {
	node := len(b.nodes)
	b.nodes = append(b.nodes, treeNode{Left: -1, Right: -1})
	if depth >= b.maxDepth || len(idx) < b.minSplit || (b.pure != nil && b.pure(idx)) {
		b.nodes[node].Value = b.leafValue(idx)
		return node
	}
	feature, threshold, ok := b.bestSplit(idx, b.candidateFeatures())
	if !ok {
		b.nodes[node].Value = b.leafValue(idx)
		return node
	}
	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[node].Feature = feature
	b.nodes[node].Threshold = threshold
	b.nodes[node].Left = l
	b.nodes[node].Right = r
	return node
}

// candidateFeatures returns every column, or a random subset of maxFeatures
// columns when the builder draws features per split.
func (b *treeBuilder) candidateFeatures() []int {
	d := len(b.X[0])
	if b.maxFeatures <= 0 || b.maxFeatures >= d || b.rng == nil {
		all := make([]int, d)
		for i := range all {
			all[i] = i
		}
		return all
	}
	picked := b.rng.Perm(d)[:b.maxFeatures]
	sort.Ints(picked)
	return picked
}

func (b *treeBuilder) bestSplit(idx []int, features []int) (int, float64, bool) {
	bestFeature, bestThreshold, bestScore := -1, 0.0, math.Inf(1)
	sorted := make([]int, len(idx))
	for _, f := range features {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, c int) bool { return b.X[sorted[a]][f] < b.X[sorted[c]][f] })
		b.stats.reset(sorted)
		for pos := 0; pos < len(sorted)-1; pos++ {
			b.stats.move(sorted[pos])
			lo, hi := b.X[sorted[pos]][f], b.X[sorted[pos+1]][f]
			if lo == hi {
				continue
			}
			if s := b.stats.score(); s < bestScore {
				bestFeature, bestThreshold, bestScore = f, (lo+hi)/2, s
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

// giniStats scores partitions by weighted Gini impurity.
type giniStats struct {
	class  []int
	weight []float64
	left   []float64
	right  []float64
	wl, wr float64
}

func newGiniStats(class []int, weight []float64, k int) *giniStats {
	return &giniStats{class: class, weight: weight, left: make([]float64, k), right: make([]float64, k)}
}

func (g *giniStats) reset(idx []int) {
	for c := range g.left {
		g.left[c], g.right[c] = 0, 0
	}
	g.wl, g.wr = 0, 0
	for _, i := range idx {
		g.right[g.class[i]] += g.weight[i]
		g.wr += g.weight[i]
	}
}

func (g *giniStats) move(i int) {
	c, w := g.class[i], g.weight[i]
	g.left[c] += w
	g.right[c] -= w
	g.wl += w
	g.wr -= w
}

func (g *giniStats) score() float64 {
	return g.wl*gini(g.left, g.wl) + g.wr*gini(g.right, g.wr)
}

func gini(counts []float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	impurity := 1.0
	for _, c := range counts {
		p := c / total
		impurity -= p * p
	}
	return impurity
}

// sseStats scores partitions by summed squared error around each side's mean.
type sseStats struct {
	target         []float64
	nl, nr         float64
	sumL, sumR     float64
	sumSqL, sumSqR float64
}

func (s *sseStats) reset(idx []int) {
	s.nl, s.sumL, s.sumSqL = 0, 0, 0
	s.nr, s.sumR, s.sumSqR = 0, 0, 0
	for _, i := range idx {
		v := s.target[i]
		s.nr++
		s.sumR += v
		s.sumSqR += v * v
	}
}

func (s *sseStats) move(i int) {
	v := s.target[i]
	s.nl++
	s.sumL += v
	s.sumSqL += v * v
	s.nr--
	s.sumR -= v
	s.sumSqR -= v * v
}

func (s *sseStats) score() float64 {
	var total float64
	if s.nl > 0 {
		total += s.sumSqL - s.sumL*s.sumL/s.nl
	}
	if s.nr > 0 {
		total += s.sumSqR - s.sumR*s.sumR/s.nr
	}
	return total
}
