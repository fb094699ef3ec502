package classify

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

const (
	mlpRate     = 0.05
	mlpMomentum = 0.9
	mlpL2       = 1e-4
	mlpBatch    = 16
)

// MLP is a feed-forward network with one ReLU hidden layer and a softmax
// output, trained by mini-batch SGD with momentum.
type MLP struct {
	HiddenUnits int         `json:"hidden_units"`
	Epochs      int         `json:"epochs"`
	Seed        int64       `json:"seed"`
	Classes     []int64     `json:"classes"`
	W1          [][]float64 `json:"w1"`
	B1          []float64   `json:"b1"`
	W2          [][]float64 `json:"w2"`
	B2          []float64   `json:"b2"`
}

func (m *MLP) Fit(X [][]float64, y []int64) error {
	d, err := checkTraining(X, y)
	if err != nil {
		return err
	}
	classes, idx := encodeLabels(y)
	k, h := len(classes), m.HiddenUnits
	rng := rand.New(rand.NewSource(m.Seed))

	W1, W2 := newMatrix(h, d), newMatrix(k, h)
	b1, b2 := make([]float64, h), make([]float64, k)
	heInit(rng, W1, d)
	heInit(rng, W2, h)

	vW1, vW2 := newMatrix(h, d), newMatrix(k, h)
	vb1, vb2 := make([]float64, h), make([]float64, k)
	gW1, gW2 := newMatrix(h, d), newMatrix(k, h)
	gb1, gb2 := make([]float64, h), make([]float64, k)
	hidden := make([]float64, h)
	out := make([]float64, k)
	delta := make([]float64, h)

	for epoch := 0; epoch < m.Epochs; epoch++ {
		order := rng.Perm(len(X))
		for start := 0; start < len(order); start += mlpBatch {
			end := min(start+mlpBatch, len(order))
			zero(gW1, gb1)
			zero(gW2, gb2)
			for _, i := range order[start:end] {
				m.forward(X[i], W1, b1, W2, b2, hidden, out)
				out[idx[i]]--
				for c := 0; c < k; c++ {
					floats.AddScaled(gW2[c], out[c], hidden)
					gb2[c] += out[c]
				}
				for j := 0; j < h; j++ {
					delta[j] = 0
					if hidden[j] <= 0 {
						continue
					}
					for c := 0; c < k; c++ {
						delta[j] += W2[c][j] * out[c]
					}
				}
				for j := 0; j < h; j++ {
					floats.AddScaled(gW1[j], delta[j], X[i])
					gb1[j] += delta[j]
				}
			}
			scale := 1 / float64(end-start)
			step(W1, b1, gW1, gb1, vW1, vb1, scale)
			step(W2, b2, gW2, gb2, vW2, vb2, scale)
		}
	}
	m.Classes, m.W1, m.B1, m.W2, m.B2 = classes, W1, b1, W2, b2
	return nil
}

func (m *MLP) Predict(X [][]float64) ([]int64, error) {
	if len(m.W1) == 0 {
		return nil, notFitted(NeuralNetwork)
	}
	if _, err := checkRows(X, len(m.W1[0])); err != nil {
		return nil, err
	}
	hidden := make([]float64, len(m.W1))
	scores := make([]float64, len(m.Classes))
	result := make([]int64, len(X))
	for i, row := range X {
		m.forward(row, m.W1, m.B1, m.W2, m.B2, hidden, scores)
		result[i] = m.Classes[argmax(scores)]
	}
	return result, nil
}

// forward fills hidden with ReLU activations and out with class probabilities.
func (m *MLP) forward(x []float64, W1 [][]float64, b1 []float64, W2 [][]float64, b2 []float64, hidden, out []float64) {
	for j := range hidden {
		hidden[j] = math.Max(0, floats.Dot(W1[j], x)+b1[j])
	}
	for c := range out {
		out[c] = floats.Dot(W2[c], hidden) + b2[c]
	}
	softmaxInPlace(out)
}

func heInit(rng *rand.Rand, W [][]float64, fanIn int) {
	std := math.Sqrt(2 / float64(fanIn))
	for _, row := range W {
		for j := range row {
			row[j] = rng.NormFloat64() * std
		}
	}
}

func zero(W [][]float64, b []float64) {
	for _, row := range W {
		for j := range row {
			row[j] = 0
		}
	}
	for j := range b {
		b[j] = 0
	}
}

// step applies one momentum update from gradients accumulated over a batch.
func step(W [][]float64, b []float64, gW [][]float64, gb []float64, vW [][]float64, vb []float64, scale float64) {
	for r := range W {
		for j := range W[r] {
			g := gW[r][j]*scale + mlpL2*W[r][j]
			vW[r][j] = mlpMomentum*vW[r][j] - mlpRate*g
			W[r][j] += vW[r][j]
		}
	}
	for j := range b {
		vb[j] = mlpMomentum*vb[j] - mlpRate*gb[j]*scale
		b[j] += vb[j]
	}
}
