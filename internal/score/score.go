// Package score runs a live feature vector through every persisted model.
package score

import (
	"context"
	"fmt"
	"math"

	"github.com/verte-zerg/keyprint/internal/artifact"
	"github.com/verte-zerg/keyprint/internal/classify"
	"github.com/verte-zerg/keyprint/internal/model"
)

// ArtifactSource pins the current artifact generation.
type ArtifactSource interface {
	Snapshot() (*artifact.Generation, error)
}

// Verdict is one model's answer for a claimed identity. Err is set when the
// model could not be loaded or applied; Predicted and Match are then zero.
type Verdict struct {
	Model     string
	Predicted int64
	Match     bool
	Err       error
}

// Scorer predicts identities with the current artifact generation.
type Scorer struct {
	artifacts ArtifactSource
}

// New constructs a Scorer.
func New(artifacts ArtifactSource) *Scorer {
	return &Scorer{artifacts: artifacts}
}

// Score returns one verdict per model in ensemble order. The vector must hold
// the ten finite profile features in column order; it is standardized with the
// persisted scaler first.
func (s *Scorer) Score(ctx context.Context, vector []float64, claimed int64) ([]Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := CheckVector(vector); err != nil {
		return nil, err
	}
	return s.Load().Score(vector, claimed)
}

// Load decodes the scaler and every model of one generation. Load failures
// are kept per model and surface on each verdict.
func (s *Scorer) Load() *Ensemble {
	e := &Ensemble{models: make([]loadedModel, len(classify.Names))}
	for i, name := range classify.Names {
		e.models[i].name = name
	}
	gen, err := s.artifacts.Snapshot()
	if err != nil {
		e.scalerErr = err
		return e
	}
	e.scaler, e.scalerErr = loadScaler(gen)
	for i := range e.models {
		e.models[i].model, e.models[i].err = loadModel(gen, e.models[i].name)
	}
	return e
}

// CheckVector validates the shape and finiteness of a live feature vector.
func CheckVector(vector []float64) error {
	if len(vector) != model.FeatureCount {
		return fmt.Errorf("%w: got %d values, want %d", model.ErrFeatureVectorShape, len(vector), model.FeatureCount)
	}
	for i, v := range vector {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not a finite number", model.ErrInvalidInput, model.FeatureColumns[i])
		}
	}
	return nil
}

// Ensemble is a decoded generation ready to score many vectors.
type Ensemble struct {
	scaler    *classify.Scaler
	scalerErr error
	models    []loadedModel
}

type loadedModel struct {
	name  string
	model classify.Trainable
	err   error
}

// Score returns one verdict per model in ensemble order.
func (e *Ensemble) Score(vector []float64, claimed int64) ([]Verdict, error) {
	if err := CheckVector(vector); err != nil {
		return nil, err
	}
	verdicts := make([]Verdict, len(e.models))
	for i, m := range e.models {
		verdicts[i].Model = m.name
	}
	if e.scalerErr != nil {
		for i := range verdicts {
			verdicts[i].Err = e.scalerErr
		}
		return verdicts, nil
	}
	rows, err := e.scaler.Transform([][]float64{vector})
	if err != nil {
		err = fmt.Errorf("%w: scaler: %v", model.ErrArtifactLoad, err)
		for i := range verdicts {
			verdicts[i].Err = err
		}
		return verdicts, nil
	}
	for i, m := range e.models {
		if m.err != nil {
			verdicts[i].Err = m.err
			continue
		}
		predicted, err := m.model.Predict(rows)
		if err != nil {
			verdicts[i].Err = fmt.Errorf("%w: %s: %v", model.ErrArtifactLoad, m.name, err)
			continue
		}
		verdicts[i].Predicted = predicted[0]
		verdicts[i].Match = predicted[0] == claimed
	}
	return verdicts, nil
}

func loadScaler(gen *artifact.Generation) (*classify.Scaler, error) {
	data, err := gen.Load(artifact.ScalerName)
	if err != nil {
		return nil, err
	}
	return classify.UnmarshalScaler(data)
}

func loadModel(gen *artifact.Generation, name string) (classify.Trainable, error) {
	data, err := gen.Load(name)
	if err != nil {
		return nil, err
	}
	kind, m, err := classify.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	if kind != name {
		return nil, fmt.Errorf("%w: %s artifact holds a %s model", model.ErrArtifactLoad, name, kind)
	}
	return m, nil
}

// Message renders the verdict as a one-line sentence for the claimant.
func (v Verdict) Message() string {
	switch {
	case v.Err != nil:
		return fmt.Sprintf("%s could not score this session: %v", v.Model, v.Err)
	case v.Match:
		return fmt.Sprintf("%s predicts that you are the valid user.", v.Model)
	default:
		return fmt.Sprintf("%s predicts that you are an intruder.", v.Model)
	}
}
