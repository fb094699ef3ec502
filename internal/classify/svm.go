package classify

import (
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

const svmLambda = 1e-2

// LinearSVM is a one-vs-one linear support vector machine. Each pair of
// classes gets a binary machine trained with the Pegasos stochastic
// sub-gradient method on the class-balanced hinge loss, and prediction is a
// majority vote over the pairs.
type LinearSVM struct {
	Epochs   int       `json:"epochs"`
	Seed     int64     `json:"seed"`
	Features int       `json:"features"`
	Classes  []int64   `json:"classes"`
	Pairs    []svmPair `json:"pairs"`
}

// svmPair separates class Pos (score >= 0) from class Neg.
type svmPair struct {
	Pos     int       `json:"pos"`
	Neg     int       `json:"neg"`
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

func (m *LinearSVM) Fit(X [][]float64, y []int64) error {
	d, err := checkTraining(X, y)
	if err != nil {
		return err
	}
	classes, idx := encodeLabels(y)
	m.Classes = classes
	m.Features = d
	m.Pairs = nil
	rng := rand.New(rand.NewSource(m.Seed))
	for a := 0; a < len(classes); a++ {
		for b := a + 1; b < len(classes); b++ {
			m.Pairs = append(m.Pairs, fitPair(X, idx, a, b, d, m.Epochs, rng))
		}
	}
	return nil
}

// fitPair trains one binary machine on the rows of classes a and b. The bias
// is not regularized, and the returned weights average the iterates of the
// second half of training.
func fitPair(X [][]float64, idx []int, a, b, d, epochs int, rng *rand.Rand) svmPair {
	var rows []int
	var labels []float64
	var pos, neg float64
	for i, c := range idx {
		switch c {
		case a:
			rows = append(rows, i)
			labels = append(labels, 1)
			pos++
		case b:
			rows = append(rows, i)
			labels = append(labels, -1)
			neg++
		}
	}
	n := pos + neg
	weights := make([]float64, len(rows))
	for p, label := range labels {
		if label > 0 {
			weights[p] = n / (2 * pos)
		} else {
			weights[p] = n / (2 * neg)
		}
	}

	w := make([]float64, d)
	var bias float64
	avgW := make([]float64, d)
	var avgB float64
	var averaged int
	total := epochs * len(rows)
	t := 0
	for epoch := 0; epoch < epochs; epoch++ {
		for _, p := range rng.Perm(len(rows)) {
			t++
			eta := 1 / (svmLambda * float64(t))
			row, label := X[rows[p]], labels[p]
			margin := label * (floats.Dot(w, row) + bias)
			floats.Scale(1-eta*svmLambda, w)
			if margin < 1 {
				step := eta * weights[p] * label
				floats.AddScaled(w, step, row)
				bias += step
			}
			if 2*t > total {
				floats.Add(avgW, w)
				avgB += bias
				averaged++
			}
		}
	}
	if averaged > 0 {
		floats.Scale(1/float64(averaged), avgW)
		avgB /= float64(averaged)
	}
	return svmPair{Pos: a, Neg: b, Weights: avgW, Bias: avgB}
}

func (m *LinearSVM) Predict(X [][]float64) ([]int64, error) {
	if len(m.Classes) == 0 {
		return nil, notFitted(SupportVectorMachine)
	}
	if _, err := checkRows(X, m.Features); err != nil {
		return nil, err
	}
	k := len(m.Classes)
	out := make([]int64, len(X))
	votes := make([]int, k)
	confidence := make([]float64, k)
	for i, row := range X {
		for c := range votes {
			votes[c] = 0
			confidence[c] = 0
		}
		for _, pair := range m.Pairs {
			s := floats.Dot(pair.Weights, row) + pair.Bias
			if s >= 0 {
				votes[pair.Pos]++
				confidence[pair.Pos] += s
			} else {
				votes[pair.Neg]++
				confidence[pair.Neg] -= s
			}
		}
		// Ties on votes go to the larger summed margin.
		best := 0
		for c := 1; c < k; c++ {
			if votes[c] > votes[best] || (votes[c] == votes[best] && confidence[c] > confidence[best]) {
				best = c
			}
		}
		out[i] = m.Classes[best]
	}
	return out, nil
}
