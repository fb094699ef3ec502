package classify

import (
	"gonum.org/v1/gonum/floats"
)

const (
	logisticRate = 0.5
	logisticL2   = 1e-4
)

// Logistic is multinomial logistic regression trained by full-batch gradient
// descent on the class-balanced cross-entropy.
type Logistic struct {
	Epochs  int         `json:"epochs"`
	Classes []int64     `json:"classes"`
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`
}

func (m *Logistic) Fit(X [][]float64, y []int64) error {
	d, err := checkTraining(X, y)
	if err != nil {
		return err
	}
	classes, idx := encodeLabels(y)
	k := len(classes)
	weights := balancedWeights(idx, k)
	W := newMatrix(k, d)
	b := make([]float64, k)
	gradW := newMatrix(k, d)
	gradB := make([]float64, k)
	probs := make([]float64, k)
	n := float64(len(X))

	for epoch := 0; epoch < m.Epochs; epoch++ {
		for c := 0; c < k; c++ {
			for j := range gradW[c] {
				gradW[c][j] = logisticL2 * W[c][j]
			}
			gradB[c] = 0
		}
		for i, row := range X {
			for c := 0; c < k; c++ {
				probs[c] = floats.Dot(W[c], row) + b[c]
			}
			softmaxInPlace(probs)
			for c := 0; c < k; c++ {
				g := probs[c]
				if idx[i] == c {
					g--
				}
				g *= weights[i] / n
				floats.AddScaled(gradW[c], g, row)
				gradB[c] += g
			}
		}
		for c := 0; c < k; c++ {
			floats.AddScaled(W[c], -logisticRate, gradW[c])
			b[c] -= logisticRate * gradB[c]
		}
	}
	m.Classes, m.Weights, m.Bias = classes, W, b
	return nil
}

func (m *Logistic) Predict(X [][]float64) ([]int64, error) {
	if len(m.Weights) == 0 {
		return nil, notFitted(LogisticRegression)
	}
	if _, err := checkRows(X, len(m.Weights[0])); err != nil {
		return nil, err
	}
	return predictLinear(X, m.Classes, m.Weights, m.Bias), nil
}

// predictLinear picks the class with the highest linear score.
func predictLinear(X [][]float64, classes []int64, W [][]float64, b []float64) []int64 {
	out := make([]int64, len(X))
	scores := make([]float64, len(classes))
	for i, row := range X {
		for c := range classes {
			scores[c] = floats.Dot(W[c], row) + b[c]
		}
		out[i] = classes[argmax(scores)]
	}
	return out
}
