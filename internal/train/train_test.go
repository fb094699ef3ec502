package train

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/verte-zerg/keyprint/internal/artifact"
	"github.com/verte-zerg/keyprint/internal/classify"
	"github.com/verte-zerg/keyprint/internal/model"
)

type corpusFunc func() (model.TrainingCorpus, error)

func (f corpusFunc) ReadTrainingCorpus(context.Context) (model.TrainingCorpus, error) {
	return f()
}

type recorder struct {
	generation string
	at         time.Time
	calls      int
}

func (r *recorder) MarkTrained(_ context.Context, generation string, at time.Time) error {
	r.generation, r.at = generation, at
	r.calls++
	return nil
}

func syntheticCorpus(users []int64, perUser int) model.TrainingCorpus {
	rng := rand.New(rand.NewSource(11))
	c := model.TrainingCorpus{Columns: model.FeatureColumns}
	for u, user := range users {
		for i := 0; i < perUser; i++ {
			row := make([]float64, model.FeatureCount)
			for j := range row {
				row[j] = 100 + float64(u)*40 + float64(j) + rng.NormFloat64()*2
			}
			c.X = append(c.X, row)
			c.Y = append(c.Y, user)
		}
	}
	return c
}

var fastModels = classify.Options{Trees: 10, Rounds: 10, Epochs: 60}

func TestTrainPublishesGeneration(t *testing.T) {
	store := artifact.New(t.TempDir())
	rec := &recorder{}
	at := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	corpus := syntheticCorpus([]int64{1, 2, 3}, 15)
	tr := New(corpusFunc(func() (model.TrainingCorpus, error) { return corpus, nil }), store, rec,
		Options{Models: fastModels, Now: func() time.Time { return at }})

	results, err := tr.Train(context.Background())
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if len(results) != len(classify.Names) {
		t.Fatalf("expected %d results, got %d", len(classify.Names), len(results))
	}
	for _, name := range classify.Names {
		res, ok := results[name]
		if !ok {
			t.Fatalf("missing result for %s", name)
		}
		if res.Accuracy < 0.9 {
			t.Fatalf("%s accuracy = %.2f\n%s", name, res.Accuracy, res.Report)
		}
		if res.Report == "" {
			t.Fatalf("%s has an empty report", name)
		}
		if _, err := store.Load(name); err != nil {
			t.Fatalf("artifact %s: %v", name, err)
		}
	}
	if _, err := store.Load(artifact.ScalerName); err != nil {
		t.Fatalf("scaler artifact: %v", err)
	}

	manifest, err := store.ReadManifest()
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if _, err := uuid.Parse(manifest.Generation); err != nil {
		t.Fatalf("generation %q is not a uuid: %v", manifest.Generation, err)
	}
	if manifest.Rows != 45 || manifest.TestRows != 9 || manifest.TrainRows != 36 || manifest.Classes != 3 {
		t.Fatalf("unexpected manifest counts: %+v", manifest)
	}
	if !manifest.TrainedAt.Equal(at) {
		t.Fatalf("trained at = %v, want %v", manifest.TrainedAt, at)
	}
	if len(manifest.Models) != len(classify.Names) || manifest.Models[0].Name != classify.LogisticRegression {
		t.Fatalf("unexpected manifest models: %+v", manifest.Models)
	}
	if rec.calls != 1 || rec.generation != manifest.Generation {
		t.Fatalf("recorder saw %d calls with generation %q", rec.calls, rec.generation)
	}
}

func TestTrainEmptyCorpusWritesNothing(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	tr := New(corpusFunc(func() (model.TrainingCorpus, error) { return model.TrainingCorpus{}, nil }), artifact.New(dir), rec, Options{})
	if _, err := tr.Train(context.Background()); !errors.Is(err, model.ErrEmptyCorpus) {
		t.Fatalf("expected ErrEmptyCorpus, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected no artifacts, found %d", len(entries))
	}
	if rec.calls != 0 {
		t.Fatalf("recorder should not be called")
	}
}

func TestTrainLoadFailure(t *testing.T) {
	boom := errors.New("disk gone")
	tr := New(corpusFunc(func() (model.TrainingCorpus, error) { return model.TrainingCorpus{}, boom }), artifact.New(t.TempDir()), nil, Options{})
	if _, err := tr.Train(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped load error, got %v", err)
	}
}

func TestFailedTrainingKeepsPreviousGeneration(t *testing.T) {
	store := artifact.New(t.TempDir())
	good := syntheticCorpus([]int64{1, 2}, 10)
	corpus := good
	tr := New(corpusFunc(func() (model.TrainingCorpus, error) { return corpus, nil }), store, nil, Options{Models: fastModels})
	if _, err := tr.Train(context.Background()); err != nil {
		t.Fatalf("first train: %v", err)
	}
	before, err := store.ReadManifest()
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	scalerBefore, _ := store.Load(artifact.ScalerName)

	bad := syntheticCorpus([]int64{1, 2}, 10)
	for i := range bad.X {
		bad.X[i][0] = math.Inf(1)
	}
	corpus = bad
	if _, err := tr.Train(context.Background()); err == nil {
		t.Fatalf("expected training on a non-finite corpus to fail")
	}
	after, err := store.ReadManifest()
	if err != nil {
		t.Fatalf("manifest after failure: %v", err)
	}
	if after.Generation != before.Generation {
		t.Fatalf("generation changed from %s to %s after a failed run", before.Generation, after.Generation)
	}
	scalerAfter, _ := store.Load(artifact.ScalerName)
	if string(scalerAfter) != string(scalerBefore) {
		t.Fatalf("scaler artifact changed after a failed run")
	}
}

func TestSplit(t *testing.T) {
	trainIdx, testIdx := Split(10, 0.2, 42)
	if len(testIdx) != 2 || len(trainIdx) != 8 {
		t.Fatalf("split sizes = %d/%d, want 8/2", len(trainIdx), len(testIdx))
	}
	seen := map[int]bool{}
	for _, i := range append(append([]int(nil), trainIdx...), testIdx...) {
		if seen[i] {
			t.Fatalf("index %d appears twice", i)
		}
		seen[i] = true
	}
	if len(seen) != 10 {
		t.Fatalf("split does not cover every row")
	}

	if _, testIdx := Split(11, 0.2, 42); len(testIdx) != 3 {
		t.Fatalf("ceil(0.2*11) = 3, got %d", len(testIdx))
	}
	if trainIdx, _ := Split(2, 0.9, 42); len(trainIdx) != 1 {
		t.Fatalf("expected at least one training row, got %d", len(trainIdx))
	}

	again, _ := Split(10, 0.2, 42)
	for i := range again {
		if again[i] != trainIdx[i] {
			t.Fatalf("split is not deterministic for a fixed seed")
		}
	}
}
