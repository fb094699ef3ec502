package classify

import (
	"math"
)

const (
	boostingRate  = 0.1
	boostingDepth = 3
)

// Boosting is multiclass gradient boosting on the softmax deviance: every
// round fits one depth-limited regression tree per class to the residuals
// and applies a Newton step in each leaf.
type Boosting struct {
	Rounds   int              `json:"rounds"`
	Features int              `json:"features"`
	Classes  []int64          `json:"classes"`
	Init     []float64        `json:"init"`
	Trees    [][]decisionTree `json:"trees"`
}

func (m *Boosting) Fit(X [][]float64, y []int64) error {
	d, err := checkTraining(X, y)
	if err != nil {
		return err
	}
	classes, idx := encodeLabels(y)
	k := len(classes)
	n := len(X)

	init := make([]float64, k)
	for _, c := range idx {
		init[c]++
	}
	for c := range init {
		init[c] = math.Log(init[c] / float64(n))
	}
	m.Features, m.Classes, m.Init, m.Trees = d, classes, init, nil
	if k == 1 {
		return nil
	}

	scores := newMatrix(n, k)
	for i := range scores {
		copy(scores[i], init)
	}
	probs := newMatrix(n, k)
	residual := make([]float64, n)
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	b := &treeBuilder{
		X:        X,
		maxDepth: boostingDepth,
		minSplit: 2,
		stats:    &sseStats{target: residual},
		leafValue: func(rows []int) []float64 {
			var num, den float64
			for _, i := range rows {
				r := residual[i]
				num += r
				den += math.Abs(r) * (1 - math.Abs(r))
			}
			if den < 1e-12 {
				return []float64{0}
			}
			return []float64{float64(k-1) / float64(k) * num / den}
		},
	}

	for round := 0; round < m.Rounds; round++ {
		for i := range scores {
			copy(probs[i], scores[i])
			softmaxInPlace(probs[i])
		}
		trees := make([]decisionTree, k)
		for c := 0; c < k; c++ {
			for i := range residual {
				residual[i] = -probs[i][c]
				if idx[i] == c {
					residual[i]++
				}
			}
			trees[c] = b.build(all)
			for i, row := range X {
				scores[i][c] += boostingRate * trees[c].leaf(row)[0]
			}
		}
		m.Trees = append(m.Trees, trees)
	}
	return nil
}

func (m *Boosting) Predict(X [][]float64) ([]int64, error) {
	if len(m.Init) == 0 {
		return nil, notFitted(GradientBoosting)
	}
	if _, err := checkRows(X, m.Features); err != nil {
		return nil, err
	}
	out := make([]int64, len(X))
	scores := make([]float64, len(m.Classes))
	for i, row := range X {
		copy(scores, m.Init)
		for _, round := range m.Trees {
			for c := range round {
				scores[c] += boostingRate * round[c].leaf(row)[0]
			}
		}
		out[i] = m.Classes[argmax(scores)]
	}
	return out, nil
}
