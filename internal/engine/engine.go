// Package engine wires feature extraction, storage, preprocessing, training
// and scoring into the operations the CLI exposes.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/verte-zerg/keyprint/internal/features"
	"github.com/verte-zerg/keyprint/internal/logging"
	"github.com/verte-zerg/keyprint/internal/model"
	"github.com/verte-zerg/keyprint/internal/preprocess"
	"github.com/verte-zerg/keyprint/internal/score"
	"github.com/verte-zerg/keyprint/internal/train"
)

// Defaults for the retrain trigger and the authentication gate.
const (
	DefaultRetrainEvery = 5
	DefaultMinProfiles  = 10
)

// Store is the persistence the engine needs.
type Store interface {
	preprocess.RawSessionSource
	preprocess.ProfileSink
	train.CorpusReader
	train.GenerationRecorder
	InsertSession(ctx context.Context, raw model.RawSession, profile model.SessionProfile) (int64, int, error)
	CountProfiles(ctx context.Context, userID int64) (int, error)
}

// Artifacts reads and publishes trained models.
type Artifacts interface {
	train.ArtifactWriter
	score.ArtifactSource
}

// Options configures an Engine. Zero values pick defaults.
type Options struct {
	Preprocess   preprocess.Options
	Train        train.Options
	RetrainEvery int
	MinProfiles  int
	Logger       *slog.Logger
}

// Engine is the facade over the keystroke pipeline.
type Engine struct {
	store        Store
	preprocessor *preprocess.Preprocessor
	trainer      *train.Trainer
	scorer       *score.Scorer
	retrainEvery int
	minProfiles  int
	log          *slog.Logger
}

// New constructs an Engine over a store and an artifact directory.
func New(store Store, artifacts Artifacts, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	if opts.Preprocess.Logger == nil {
		opts.Preprocess.Logger = log
	}
	if opts.Train.Logger == nil {
		opts.Train.Logger = log
	}
	if opts.RetrainEvery <= 0 {
		opts.RetrainEvery = DefaultRetrainEvery
	}
	if opts.MinProfiles <= 0 {
		opts.MinProfiles = DefaultMinProfiles
	}
	return &Engine{
		store:        store,
		preprocessor: preprocess.New(store, store, opts.Preprocess),
		trainer:      train.New(store, artifacts, store, opts.Train),
		scorer:       score.New(artifacts),
		retrainEvery: opts.RetrainEvery,
		minProfiles:  opts.MinProfiles,
		log:          log.With("component", "engine"),
	}
}

// RetrainDue reports whether count accepted sessions since the last training
// warrant a new one.
func RetrainDue(count, every int) bool {
	return every > 0 && count >= every
}

// Sample is one captured typing session.
type Sample struct {
	UserID         int64
	PressTimes     []float64
	ReleaseTimes   []float64
	BackspaceCount int
	ErrorRate      float64
}

// EnrollResult describes a stored session and any retraining it triggered.
type EnrollResult struct {
	SessionID            int64
	Profile              model.SessionProfile
	SessionsSinceRetrain int
	Retrained            bool
	Training             map[string]train.Result
	TrainErr             error
}

// AuthResult holds the ensemble's verdicts for a claimed identity. Ready is
// false when the user has too few stored profiles to be scored; nothing is
// stored or scored in that case.
type AuthResult struct {
	Ready    bool
	Profiles int
	Verdicts []score.Verdict
	Enrolled *EnrollResult
}

// ExtractAndAggregate derives the profile of a single session.
func (e *Engine) ExtractAndAggregate(press, release []float64, backspaceCount int, errorRate float64) (model.SessionProfile, error) {
	return features.ExtractAndAggregate(press, release, backspaceCount, errorRate)
}

// Enroll stores a session and its live profile and retrains when the counter
// reaches the trigger. A failed retrain is logged and reported in the result;
// the session stays stored.
func (e *Engine) Enroll(ctx context.Context, s Sample) (EnrollResult, error) {
	profile, err := e.ExtractAndAggregate(s.PressTimes, s.ReleaseTimes, s.BackspaceCount, s.ErrorRate)
	if err != nil {
		return EnrollResult{}, err
	}
	return e.persist(ctx, s, profile)
}

func (e *Engine) persist(ctx context.Context, s Sample, profile model.SessionProfile) (EnrollResult, error) {
	backspace, errorRate := s.BackspaceCount, s.ErrorRate
	raw := model.RawSession{
		UserID:         s.UserID,
		PressTimes:     s.PressTimes,
		ReleaseTimes:   s.ReleaseTimes,
		BackspaceCount: &backspace,
		ErrorRate:      &errorRate,
	}
	id, since, err := e.store.InsertSession(ctx, raw, profile)
	if err != nil {
		return EnrollResult{}, fmt.Errorf("failed to store session: %w", err)
	}
	profile.UserID = s.UserID
	res := EnrollResult{SessionID: id, Profile: profile, SessionsSinceRetrain: since}
	e.log.Info("session stored", "user_id", s.UserID, "session_id", id, "since_retrain", since)
	if !RetrainDue(since, e.retrainEvery) {
		return res, nil
	}
	res.Retrained = true
	res.Training, res.TrainErr = e.trainer.Train(ctx)
	if res.TrainErr != nil {
		e.log.Error("automatic retrain failed", "err", res.TrainErr, "kind", model.Kind(res.TrainErr))
	} else {
		res.SessionsSinceRetrain = 0
	}
	return res, nil
}

// PreprocessCorpus rebuilds stored profiles from every raw session.
func (e *Engine) PreprocessCorpus(ctx context.Context) (preprocess.Result, error) {
	return e.preprocessor.Run(ctx)
}

// TrainEnsemble trains and publishes a new generation on demand.
func (e *Engine) TrainEnsemble(ctx context.Context) (map[string]train.Result, error) {
	return e.trainer.Train(ctx)
}

// Score runs a ten-value feature vector through every model.
func (e *Engine) Score(ctx context.Context, vector []float64, claimed int64) ([]score.Verdict, error) {
	return e.scorer.Score(ctx, vector, claimed)
}

// LoadEnsemble decodes the current generation once for scoring many vectors.
func (e *Engine) LoadEnsemble() *score.Ensemble {
	return e.scorer.Load()
}

// Authenticate scores a live session against the claimed user. Users below
// the minimum profile count get Ready == false. Otherwise the session is
// scored with the current generation and then stored like an enrollment.
func (e *Engine) Authenticate(ctx context.Context, s Sample) (AuthResult, error) {
	profile, err := e.ExtractAndAggregate(s.PressTimes, s.ReleaseTimes, s.BackspaceCount, s.ErrorRate)
	if err != nil {
		return AuthResult{}, err
	}
	count, err := e.store.CountProfiles(ctx, s.UserID)
	if err != nil {
		return AuthResult{}, fmt.Errorf("failed to count profiles: %w", err)
	}
	res := AuthResult{Profiles: count}
	if count < e.minProfiles {
		e.log.Info("not enough profiles to score", "user_id", s.UserID, "profiles", count, "required", e.minProfiles)
		return res, nil
	}
	res.Ready = true
	if res.Verdicts, err = e.Score(ctx, profile.Vector(), s.UserID); err != nil {
		return AuthResult{}, err
	}
	enrolled, err := e.persist(ctx, s, profile)
	if err != nil {
		return AuthResult{}, err
	}
	res.Enrolled = &enrolled
	return res, nil
}
