// Package classify provides the classifier family used by the ensemble:
// a common Trainable interface, a feature scaler, five algorithm variants and
// a JSON artifact codec.
package classify

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/verte-zerg/keyprint/internal/model"
)

// Trainable is a classifier that maps feature rows to user ids.
type Trainable interface {
	Fit(X [][]float64, y []int64) error
	Predict(X [][]float64) ([]int64, error)
}

// Model names in ensemble order.
const (
	LogisticRegression   = "logistic_regression"
	RandomForest         = "random_forest"
	SupportVectorMachine = "support_vector_machine"
	GradientBoosting     = "gradient_boosting"
	NeuralNetwork        = "neural_network"
)

// Names lists every variant in the fixed ensemble order.
var Names = []string{
	LogisticRegression,
	RandomForest,
	SupportVectorMachine,
	GradientBoosting,
	NeuralNetwork,
}

// Options tunes the variants. Zero fields pick defaults.
type Options struct {
	Seed   int64
	Trees  int
	Rounds int
	Hidden int
	Epochs int
}

const (
	defaultSeed   = 42
	defaultTrees  = 100
	defaultRounds = 100
	defaultHidden = 32
	defaultEpochs = 300
)

func (o Options) withDefaults() Options {
	if o.Seed == 0 {
		o.Seed = defaultSeed
	}
	if o.Trees <= 0 {
		o.Trees = defaultTrees
	}
	if o.Rounds <= 0 {
		o.Rounds = defaultRounds
	}
	if o.Hidden <= 0 {
		o.Hidden = defaultHidden
	}
	if o.Epochs <= 0 {
		o.Epochs = defaultEpochs
	}
	return o
}

// New returns an untrained variant by name.
func New(name string, opts Options) (Trainable, error) {
	opts = opts.withDefaults()
	switch name {
	case LogisticRegression:
		return &Logistic{Epochs: opts.Epochs}, nil
	case RandomForest:
		return &Forest{NumTrees: opts.Trees, Seed: opts.Seed}, nil
	case SupportVectorMachine:
		return &LinearSVM{Epochs: opts.Epochs, Seed: opts.Seed}, nil
	case GradientBoosting:
		return &Boosting{Rounds: opts.Rounds}, nil
	case NeuralNetwork:
		return &MLP{HiddenUnits: opts.Hidden, Epochs: opts.Epochs, Seed: opts.Seed}, nil
	}
	return nil, fmt.Errorf("%w: %q", model.ErrUnknownModel, name)
}

type envelope struct {
	Kind  string          `json:"kind"`
	Model json.RawMessage `json:"model"`
}

// Marshal encodes a trained variant as a self-describing artifact.
func Marshal(name string, m Trainable) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return json.Marshal(envelope{Kind: name, Model: body})
}

// Unmarshal decodes an artifact produced by Marshal. Corrupt or unknown
// artifacts wrap model.ErrArtifactLoad.
func Unmarshal(data []byte) (string, Trainable, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", model.ErrArtifactLoad, err)
	}
	m, err := New(env.Kind, Options{})
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", model.ErrArtifactLoad, err)
	}
	if err := json.Unmarshal(env.Model, m); err != nil {
		return "", nil, fmt.Errorf("%w: %s: %v", model.ErrArtifactLoad, env.Kind, err)
	}
	return env.Kind, m, nil
}

// checkTraining validates a training matrix and returns its width.
func checkTraining(X [][]float64, y []int64) (int, error) {
	if len(X) == 0 {
		return 0, fmt.Errorf("%w: no training rows", model.ErrEmptyCorpus)
	}
	if len(X) != len(y) {
		return 0, fmt.Errorf("%w: %d rows but %d labels", model.ErrLengthMismatch, len(X), len(y))
	}
	return checkRows(X, len(X[0]))
}

// checkRows verifies every row has width d and holds finite values.
func checkRows(X [][]float64, d int) (int, error) {
	for i, row := range X {
		if len(row) != d {
			return 0, fmt.Errorf("%w: row %d has %d features, want %d", model.ErrFeatureVectorShape, i, len(row), d)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, fmt.Errorf("%w: row %d holds a non-finite value", model.ErrInvalidInput, i)
			}
		}
	}
	return d, nil
}

// encodeLabels returns the sorted distinct labels and each row's class index.
func encodeLabels(y []int64) ([]int64, []int) {
	seen := map[int64]struct{}{}
	for _, v := range y {
		seen[v] = struct{}{}
	}
	classes := make([]int64, 0, len(seen))
	for v := range seen {
		classes = append(classes, v)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })
	pos := make(map[int64]int, len(classes))
	for i, c := range classes {
		pos[c] = i
	}
	idx := make([]int, len(y))
	for i, v := range y {
		idx[i] = pos[v]
	}
	return classes, idx
}

// balancedWeights weights each row by n / (k * count(class)), so every class
// carries the same total weight.
func balancedWeights(idx []int, k int) []float64 {
	counts := make([]float64, k)
	for _, c := range idx {
		counts[c]++
	}
	w := make([]float64, len(idx))
	n := float64(len(idx))
	for i, c := range idx {
		w[i] = n / (float64(k) * counts[c])
	}
	return w
}

func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

// softmaxInPlace converts scores to probabilities.
func softmaxInPlace(scores []float64) {
	maxScore := scores[argmax(scores)]
	var sum float64
	for i, s := range scores {
		scores[i] = math.Exp(s - maxScore)
		sum += scores[i]
	}
	for i := range scores {
		scores[i] /= sum
	}
}

func newMatrix(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
	}
	return m
}

func notFitted(name string) error {
	return fmt.Errorf("%w: %s is not trained", model.ErrArtifactLoad, name)
}
