package classify

import (
	"math"
	"math/rand"
)

const forestMaxDepth = 32

// Forest is a bagged ensemble of Gini classification trees with class-balanced
// sample weights and sqrt(d) candidate features per split.
type Forest struct {
	NumTrees int            `json:"num_trees"`
	Seed     int64          `json:"seed"`
	Features int            `json:"features"`
	Classes  []int64        `json:"classes"`
	Trees    []decisionTree `json:"trees"`
}

func (f *Forest) Fit(X [][]float64, y []int64) error {
	d, err := checkTraining(X, y)
	if err != nil {
		return err
	}
	classes, idx := encodeLabels(y)
	weights := balancedWeights(idx, len(classes))
	rng := rand.New(rand.NewSource(f.Seed))
	maxFeatures := int(math.Sqrt(float64(d)))
	if maxFeatures < 1 {
		maxFeatures = 1
	}

	k := len(classes)
	b := &treeBuilder{
		X:           X,
		maxDepth:    forestMaxDepth,
		minSplit:    2,
		maxFeatures: maxFeatures,
		rng:         rng,
		stats:       newGiniStats(idx, weights, k),
		leafValue: func(rows []int) []float64 {
			dist := make([]float64, k)
			var total float64
			for _, i := range rows {
				dist[idx[i]] += weights[i]
				total += weights[i]
			}
			for c := range dist {
				dist[c] /= total
			}
			return dist
		},
		pure: func(rows []int) bool {
			for _, i := range rows[1:] {
				if idx[i] != idx[rows[0]] {
					return false
				}
			}
			return true
		},
	}

	trees := make([]decisionTree, 0, f.NumTrees)
	sample := make([]int, len(X))
	for t := 0; t < f.NumTrees; t++ {
		for i := range sample {
			sample[i] = rng.Intn(len(X))
		}
		trees = append(trees, b.build(append([]int(nil), sample...)))
	}
	f.Features = d
	f.Classes = classes
	f.Trees = trees
	return nil
}

func (f *Forest) Predict(X [][]float64) ([]int64, error) {
	if len(f.Trees) == 0 {
		return nil, notFitted(RandomForest)
	}
	if _, err := checkRows(X, f.Features); err != nil {
		return nil, err
	}
	out := make([]int64, len(X))
	votes := make([]float64, len(f.Classes))
	for i, row := range X {
		for c := range votes {
			votes[c] = 0
		}
		for t := range f.Trees {
			for c, p := range f.Trees[t].leaf(row) {
				votes[c] += p
			}
		}
		out[i] = f.Classes[argmax(votes)]
	}
	return out, nil
}
