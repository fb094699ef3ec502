package classify

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/verte-zerg/keyprint/internal/model"
)

// clusters returns perRow rows per user, each user centered on its own point.
func clusters(seed int64, users []int64, perUser int) ([][]float64, []int64) {
	rng := rand.New(rand.NewSource(seed))
	var X [][]float64
	var y []int64
	for u, user := range users {
		for i := 0; i < perUser; i++ {
			row := make([]float64, model.FeatureCount)
			for j := range row {
				row[j] = float64(u)*8 + float64(j%3) + rng.NormFloat64()*0.5
			}
			X = append(X, row)
			y = append(y, user)
		}
	}
	return X, y
}

func scaled(t *testing.T, train, test [][]float64) ([][]float64, [][]float64) {
	t.Helper()
	var s Scaler
	if err := s.Fit(train); err != nil {
		t.Fatalf("scaler fit: %v", err)
	}
	a, err := s.Transform(train)
	if err != nil {
		t.Fatalf("scaler transform: %v", err)
	}
	b, err := s.Transform(test)
	if err != nil {
		t.Fatalf("scaler transform: %v", err)
	}
	return a, b
}

func accuracy(truth, predicted []int64) float64 {
	var hit int
	for i := range truth {
		if truth[i] == predicted[i] {
			hit++
		}
	}
	return float64(hit) / float64(len(truth))
}

func TestEveryModelSeparatesUsers(t *testing.T) {
	users := []int64{3, 7, 11}
	trainX, trainY := clusters(1, users, 20)
	testX, testY := clusters(2, users, 5)
	trainX, testX = scaled(t, trainX, testX)

	opts := Options{Trees: 20, Rounds: 20, Epochs: 100}
	for _, name := range Names {
		m, err := New(name, opts)
		if err != nil {
			t.Fatalf("new %s: %v", name, err)
		}
		if err := m.Fit(trainX, trainY); err != nil {
			t.Fatalf("fit %s: %v", name, err)
		}
		pred, err := m.Predict(testX)
		if err != nil {
			t.Fatalf("predict %s: %v", name, err)
		}
		if acc := accuracy(testY, pred); acc < 0.9 {
			t.Fatalf("%s accuracy = %.2f, want >= 0.9 (pred %v)", name, acc, pred)
		}
	}
}

// Users whose every timing shifts together sit on one line, so the middle
// user cannot be cut from the union of the others by a single hyperplane.
func TestEveryModelSeparatesCollinearUsers(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	var X [][]float64
	var y []int64
	for u, center := range []float64{0, 2, 4} {
		for i := 0; i < 15; i++ {
			row := make([]float64, model.FeatureCount)
			for j := range row {
				row[j] = center + rng.NormFloat64()*0.1
			}
			X = append(X, row)
			y = append(y, int64(u+1))
		}
	}
	X, _ = scaled(t, X, X[:1])

	for _, name := range Names {
		m, _ := New(name, Options{Trees: 20})
		if err := m.Fit(X, y); err != nil {
			t.Fatalf("fit %s: %v", name, err)
		}
		pred, err := m.Predict(X)
		if err != nil {
			t.Fatalf("predict %s: %v", name, err)
		}
		if acc := accuracy(y, pred); acc != 1 {
			t.Fatalf("%s accuracy = %.2f, want 1 (pred %v)", name, acc, pred)
		}
	}
}

func TestSVMVotesOverPairs(t *testing.T) {
	X, y := clusters(4, []int64{1, 2, 3, 4}, 10)
	m := &LinearSVM{Epochs: 50, Seed: 1}
	if err := m.Fit(X, y); err != nil {
		t.Fatalf("fit: %v", err)
	}
	if len(m.Pairs) != 6 {
		t.Fatalf("expected 6 pairwise machines, got %d", len(m.Pairs))
	}
	for _, p := range m.Pairs {
		if p.Pos >= p.Neg {
			t.Fatalf("pair %d/%d is not ordered", p.Pos, p.Neg)
		}
	}
}

func TestTrainingIsDeterministic(t *testing.T) {
	users := []int64{1, 2}
	X, y := clusters(5, users, 15)
	opts := Options{Trees: 10, Rounds: 10, Epochs: 50}
	for _, name := range Names {
		a, _ := New(name, opts)
		b, _ := New(name, opts)
		if err := a.Fit(X, y); err != nil {
			t.Fatalf("fit %s: %v", name, err)
		}
		if err := b.Fit(X, y); err != nil {
			t.Fatalf("fit %s: %v", name, err)
		}
		ea, err := Marshal(name, a)
		if err != nil {
			t.Fatalf("marshal %s: %v", name, err)
		}
		eb, err := Marshal(name, b)
		if err != nil {
			t.Fatalf("marshal %s: %v", name, err)
		}
		if string(ea) != string(eb) {
			t.Fatalf("%s: two fits with the same seed produced different models", name)
		}
	}
}

func TestArtifactRoundTripPredictsTheSame(t *testing.T) {
	users := []int64{4, 9}
	X, y := clusters(3, users, 12)
	for _, name := range Names {
		m, _ := New(name, Options{Trees: 5, Rounds: 5, Epochs: 30})
		if err := m.Fit(X, y); err != nil {
			t.Fatalf("fit %s: %v", name, err)
		}
		data, err := Marshal(name, m)
		if err != nil {
			t.Fatalf("marshal %s: %v", name, err)
		}
		kind, loaded, err := Unmarshal(data)
		if err != nil {
			t.Fatalf("unmarshal %s: %v", name, err)
		}
		if kind != name {
			t.Fatalf("kind = %q, want %q", kind, name)
		}
		want, _ := m.Predict(X)
		got, err := loaded.Predict(X)
		if err != nil {
			t.Fatalf("predict loaded %s: %v", name, err)
		}
		for i := range want {
			if want[i] != got[i] {
				t.Fatalf("%s row %d: loaded model predicts %d, want %d", name, i, got[i], want[i])
			}
		}
	}
}

func TestUnmarshalRejectsCorruptArtifacts(t *testing.T) {
	cases := [][]byte{
		[]byte("not json"),
		[]byte(`{"kind":"decision_stump","model":{}}`),
		[]byte(`{"kind":"random_forest","model":"oops"}`),
	}
	for _, data := range cases {
		if _, _, err := Unmarshal(data); !errors.Is(err, model.ErrArtifactLoad) {
			t.Fatalf("Unmarshal(%s) error = %v, want ErrArtifactLoad", data, err)
		}
	}
}

func TestNewUnknownModel(t *testing.T) {
	if _, err := New("knn", Options{}); !errors.Is(err, model.ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
}

func TestPredictRejectsWrongWidth(t *testing.T) {
	X, y := clusters(8, []int64{1, 2}, 6)
	for _, name := range Names {
		m, _ := New(name, Options{Trees: 3, Rounds: 3, Epochs: 5})
		if err := m.Fit(X, y); err != nil {
			t.Fatalf("fit %s: %v", name, err)
		}
		if _, err := m.Predict([][]float64{make([]float64, model.FeatureCount-1)}); !errors.Is(err, model.ErrFeatureVectorShape) {
			t.Fatalf("%s: expected ErrFeatureVectorShape, got %v", name, err)
		}
	}
}

func TestPredictBeforeFit(t *testing.T) {
	for _, name := range Names {
		m, _ := New(name, Options{})
		if _, err := m.Predict([][]float64{make([]float64, model.FeatureCount)}); err == nil {
			t.Fatalf("%s: expected error predicting with an untrained model", name)
		}
	}
}

func TestSingleClassPredictsThatClass(t *testing.T) {
	X, y := clusters(9, []int64{42}, 8)
	for _, name := range Names {
		m, _ := New(name, Options{Trees: 3, Rounds: 3, Epochs: 5})
		if err := m.Fit(X, y); err != nil {
			t.Fatalf("fit %s: %v", name, err)
		}
		pred, err := m.Predict(X[:2])
		if err != nil {
			t.Fatalf("predict %s: %v", name, err)
		}
		for _, p := range pred {
			if p != 42 {
				t.Fatalf("%s predicted %d for a single-class corpus", name, p)
			}
		}
	}
}

func TestFitRejectsBadInput(t *testing.T) {
	m, _ := New(LogisticRegression, Options{})
	if err := m.Fit(nil, nil); !errors.Is(err, model.ErrEmptyCorpus) {
		t.Fatalf("expected ErrEmptyCorpus, got %v", err)
	}
	if err := m.Fit([][]float64{{1, 2}}, []int64{1, 2}); !errors.Is(err, model.ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
	if err := m.Fit([][]float64{{1, math.NaN()}}, []int64{1}); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestScalerZeroSpreadColumn(t *testing.T) {
	var s Scaler
	if err := s.Fit([][]float64{{1, 5}, {3, 5}}); err != nil {
		t.Fatalf("fit: %v", err)
	}
	out, err := s.Transform([][]float64{{1, 5}, {3, 7}})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if out[0][0] != -1 || out[1][0] != 1 {
		t.Fatalf("first column = %v, %v; want -1, 1", out[0][0], out[1][0])
	}
	if out[0][1] != 0 || out[1][1] != 2 {
		t.Fatalf("zero-spread column = %v, %v; want 0, 2", out[0][1], out[1][1])
	}

	data, err := MarshalScaler(&s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	loaded, err := UnmarshalScaler(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if loaded.Mean[0] != 2 || loaded.Scale[1] != 1 {
		t.Fatalf("loaded scaler = %+v", loaded)
	}
	if _, err := UnmarshalScaler([]byte(`{"mean":[]}`)); !errors.Is(err, model.ErrArtifactLoad) {
		t.Fatalf("expected ErrArtifactLoad, got %v", err)
	}
}
