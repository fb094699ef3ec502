// Package train fits the classifier ensemble on the stored profile corpus and
// publishes a new generation of artifacts.
package train

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/verte-zerg/keyprint/internal/artifact"
	"github.com/verte-zerg/keyprint/internal/classify"
	"github.com/verte-zerg/keyprint/internal/logging"
	"github.com/verte-zerg/keyprint/internal/model"
	"github.com/verte-zerg/keyprint/internal/stats"
)

// Defaults for the holdout split.
const (
	DefaultTestFraction = 0.2
	DefaultSeed         = 42
)

// CorpusReader supplies the training corpus.
type CorpusReader interface {
	ReadTrainingCorpus(ctx context.Context) (model.TrainingCorpus, error)
}

// ArtifactWriter publishes a set of artifacts together.
type ArtifactWriter interface {
	SaveAll(files []artifact.File) error
}

// GenerationRecorder is told about each published generation.
type GenerationRecorder interface {
	MarkTrained(ctx context.Context, generation string, at time.Time) error
}

// Options configures a Trainer.
type Options struct {
	TestFraction float64
	Seed         int64
	Models       classify.Options
	Logger       *slog.Logger
	Now          func() time.Time
}

// Result is one model's holdout evaluation.
type Result struct {
	Accuracy float64
	Report   string
}

// Trainer fits and publishes the ensemble.
type Trainer struct {
	corpus    CorpusReader
	artifacts ArtifactWriter
	recorder  GenerationRecorder
	opts      Options
	log       *slog.Logger
}

// New constructs a Trainer. recorder may be nil.
func New(corpus CorpusReader, artifacts ArtifactWriter, recorder GenerationRecorder, opts Options) *Trainer {
	if opts.TestFraction <= 0 || opts.TestFraction >= 1 {
		opts.TestFraction = DefaultTestFraction
	}
	if opts.Seed == 0 {
		opts.Seed = DefaultSeed
	}
	if opts.Models.Seed == 0 {
		opts.Models.Seed = opts.Seed
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Trainer{corpus: corpus, artifacts: artifacts, recorder: recorder, opts: opts, log: log.With("component", "train")}
}

// Train reads the corpus, fits every model on the training partition and
// evaluates it on the holdout. Artifacts are written only after every model
// trained; any failure before that leaves the previous generation in place.
func (t *Trainer) Train(ctx context.Context) (map[string]Result, error) {
	corpus, err := t.corpus.ReadTrainingCorpus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load training corpus: %w", err)
	}
	if corpus.Len() == 0 {
		return nil, fmt.Errorf("%w: no stored profiles", model.ErrEmptyCorpus)
	}
	if corpus.Len() < 2 {
		return nil, fmt.Errorf("%w: need at least two profiles to hold one out, have %d", model.ErrInvalidInput, corpus.Len())
	}

	trainIdx, testIdx := Split(corpus.Len(), t.opts.TestFraction, t.opts.Seed)
	trainX, trainY := pick(corpus, trainIdx)
	testX, testY := pick(corpus, testIdx)

	var scaler classify.Scaler
	if err := scaler.Fit(trainX); err != nil {
		return nil, fmt.Errorf("failed to fit scaler: %w", err)
	}
	if trainX, err = scaler.Transform(trainX); err != nil {
		return nil, err
	}
	if testX, err = scaler.Transform(testX); err != nil {
		return nil, err
	}
	scalerData, err := classify.MarshalScaler(&scaler)
	if err != nil {
		return nil, fmt.Errorf("failed to encode scaler: %w", err)
	}

	files := []artifact.File{{Name: artifact.ScalerName, Data: scalerData}}
	results := make(map[string]Result, len(classify.Names))
	manifest := model.Manifest{
		Generation: uuid.NewString(),
		TrainedAt:  t.opts.Now().UTC(),
		Rows:       corpus.Len(),
		TrainRows:  len(trainIdx),
		TestRows:   len(testIdx),
		Classes:    countClasses(corpus.Y),
	}
	for _, name := range classify.Names {
		m, err := classify.New(name, t.opts.Models)
		if err != nil {
			return nil, err
		}
		started := time.Now()
		if err := m.Fit(trainX, trainY); err != nil {
			return nil, fmt.Errorf("failed to train %s: %w", name, err)
		}
		predicted, err := m.Predict(testX)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate %s: %w", name, err)
		}
		data, err := classify.Marshal(name, m)
		if err != nil {
			return nil, err
		}
		res := Result{
			Accuracy: stats.Accuracy(testY, predicted),
			Report:   stats.ClassificationReport(testY, predicted),
		}
		results[name] = res
		files = append(files, artifact.File{Name: name, Data: data})
		manifest.Models = append(manifest.Models, model.ModelSummary{Name: name, Accuracy: res.Accuracy})
		t.log.Info("model trained", "model", name, "accuracy", res.Accuracy, "elapsed", time.Since(started))
	}

	mf, err := artifact.ManifestFile(manifest)
	if err != nil {
		return nil, err
	}
	if err := t.artifacts.SaveAll(append(files, mf)); err != nil {
		return nil, fmt.Errorf("failed to publish artifacts: %w", err)
	}
	if t.recorder != nil {
		if err := t.recorder.MarkTrained(ctx, manifest.Generation, manifest.TrainedAt); err != nil {
			return nil, fmt.Errorf("failed to record generation: %w", err)
		}
	}
	t.log.Info("training complete", "generation", manifest.Generation, "rows", manifest.Rows, "classes", manifest.Classes)
	return results, nil
}

// Split shuffles row indices with a seeded source and holds out
// ceil(testFraction*n) of them, keeping at least one training row.
func Split(n int, testFraction float64, seed int64) (trainIdx, testIdx []int) {
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	// The epsilon keeps products like 0.2*45 from rounding up past 9.
	testN := int(math.Ceil(testFraction*float64(n) - 1e-9))
	if testN >= n {
		testN = n - 1
	}
	if testN < 0 {
		testN = 0
	}
	return perm[testN:], perm[:testN]
}

func pick(c model.TrainingCorpus, idx []int) ([][]float64, []int64) {
	X := make([][]float64, len(idx))
	y := make([]int64, len(idx))
	for i, j := range idx {
		X[i] = c.X[j]
		y[i] = c.Y[j]
	}
	return X, y
}

func countClasses(y []int64) int {
	seen := map[int64]struct{}{}
	for _, v := range y {
		seen[v] = struct{}{}
	}
	return len(seen)
}
