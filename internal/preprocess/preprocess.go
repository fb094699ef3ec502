// Package preprocess re-derives the profile corpus from every stored raw
// session: it parses stored timestamps, imputes missing summaries, rejects
// outlier sessions by z-score, normalizes the surviving summaries and writes
// the resulting profiles.
package preprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/verte-zerg/keyprint/internal/features"
	"github.com/verte-zerg/keyprint/internal/logging"
	"github.com/verte-zerg/keyprint/internal/model"
	"github.com/verte-zerg/keyprint/internal/stats"
)

// DefaultZThreshold is the absolute z-score above which a session is rejected.
const DefaultZThreshold = 3.0

// WritePolicy selects how a batch is written to the profile store.
type WritePolicy string

// Write policies.
const (
	PolicyReplace WritePolicy = "replace"
	PolicyAppend  WritePolicy = "append"
)

// ParseWritePolicy validates a policy name. Empty selects PolicyReplace.
func ParseWritePolicy(name string) (WritePolicy, error) {
	switch WritePolicy(name) {
	case "", PolicyReplace:
		return PolicyReplace, nil
	case PolicyAppend:
		return PolicyAppend, nil
	}
	return "", fmt.Errorf("%w: unknown write policy %q (use replace or append)", model.ErrInvalidInput, name)
}

// RawSessionSource lists stored raw sessions.
type RawSessionSource interface {
	ListRawSessions(ctx context.Context) ([]model.StoredRawSession, error)
}

// ProfileSink writes derived profiles.
type ProfileSink interface {
	AppendSessionProfiles(ctx context.Context, profiles []model.SessionProfile) error
	ReplaceSessionProfiles(ctx context.Context, profiles []model.SessionProfile) error
}

// Options configures a Preprocessor.
type Options struct {
	ZThreshold float64
	Policy     WritePolicy
	Logger     *slog.Logger
}

// Result counts what happened to the rows of one batch.
type Result struct {
	RowsRead               int
	RowsDegraded           int
	RowsRejectedOutliers   int
	RowsRejectedDegenerate int
	RowsUndefinedRatio     int
	RowsWritten            int
}

// Preprocessor runs the batch corpus pipeline.
type Preprocessor struct {
	source RawSessionSource
	sink   ProfileSink
	opts   Options
	log    *slog.Logger
}

// New constructs a Preprocessor. Zero options pick the defaults.
func New(source RawSessionSource, sink ProfileSink, opts Options) *Preprocessor {
	if opts.ZThreshold <= 0 {
		opts.ZThreshold = DefaultZThreshold
	}
	if opts.Policy == "" {
		opts.Policy = PolicyReplace
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Preprocessor{source: source, sink: sink, opts: opts, log: log.With("component", "preprocess")}
}

// row is one raw session moving through the pipeline.
type row struct {
	raw       model.StoredRawSession
	press     []float64
	release   []float64
	backspace float64
	errorRate float64
	degraded  bool

	pressMean, releaseMean, intervalMean float64
	pressVar, releaseVar, intervalVar    float64
}

// Run executes the pipeline once. An empty batch after outlier rejection is
// logged and reported as model.ErrEmptyCorpus alongside the counts.
func (p *Preprocessor) Run(ctx context.Context) (Result, error) {
	stored, err := p.source.ListRawSessions(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load raw sessions: %w", err)
	}
	res := Result{RowsRead: len(stored)}

	rows := make([]*row, 0, len(stored))
	for _, raw := range stored {
		r := p.parse(raw)
		if r.degraded {
			res.RowsDegraded++
		}
		summarize(r)
		rows = append(rows, r)
	}

	impute(rows)
	kept := rejectOutliers(rows, p.opts.ZThreshold)
	res.RowsRejectedOutliers = len(rows) - len(kept)
	if len(kept) == 0 {
		p.log.Warn("no sessions survived outlier rejection; skipping normalization and write",
			"rows_read", res.RowsRead, "rejected", res.RowsRejectedOutliers)
		return res, fmt.Errorf("%w: no sessions survived outlier rejection", model.ErrEmptyCorpus)
	}

	normalize(kept)
	profiles := make([]model.SessionProfile, 0, len(kept))
	for _, r := range kept {
		profile, err := derive(r)
		if err != nil {
			res.RowsRejectedDegenerate++
			p.log.Warn("dropping degenerate session", "raw_session_id", r.raw.ID, "user_id", r.raw.UserID, "err", err)
			continue
		}
		if profile.Normalized.PressToReleaseRatio == nil {
			res.RowsUndefinedRatio++
			p.log.Warn("storing session without a press to release ratio",
				"raw_session_id", r.raw.ID, "user_id", r.raw.UserID,
				"err", fmt.Errorf("%w: normalized release mean is zero", model.ErrDivisionByZero))
		}
		profiles = append(profiles, profile)
	}
	if len(profiles) == 0 {
		p.log.Warn("no sessions left to write after degenerate rows were dropped", "rows_read", res.RowsRead)
		return res, fmt.Errorf("%w: every surviving session was degenerate", model.ErrEmptyCorpus)
	}

	switch p.opts.Policy {
	case PolicyAppend:
		err = p.sink.AppendSessionProfiles(ctx, profiles)
	default:
		err = p.sink.ReplaceSessionProfiles(ctx, profiles)
	}
	if err != nil {
		return res, fmt.Errorf("failed to write profiles: %w", err)
	}
	res.RowsWritten = len(profiles)
	p.log.Info("preprocessing complete",
		"rows_read", res.RowsRead,
		"degraded", res.RowsDegraded,
		"outliers", res.RowsRejectedOutliers,
		"degenerate", res.RowsRejectedDegenerate,
		"undefined_ratio", res.RowsUndefinedRatio,
		"written", res.RowsWritten,
		"policy", string(p.opts.Policy))
	return res, nil
}

func (p *Preprocessor) parse(raw model.StoredRawSession) *row {
	r := &row{raw: raw, backspace: math.NaN(), errorRate: math.NaN()}
	if raw.BackspaceCount != nil {
		r.backspace = float64(*raw.BackspaceCount)
	}
	if raw.ErrorRate != nil {
		r.errorRate = *raw.ErrorRate
	}
	var err error
	if r.press, err = features.ParseTimestamps(raw.PressTimes); err != nil {
		p.log.Warn("degrading row with unparseable press times", "raw_session_id", raw.ID, "err", err)
		r.press, r.degraded = []float64{}, true
	}
	if r.release, err = features.ParseTimestamps(raw.ReleaseTimes); err != nil {
		p.log.Warn("degrading row with unparseable release times", "raw_session_id", raw.ID, "err", err)
		r.release, r.degraded = []float64{}, true
	}
	return r
}

// summarize fills the per-row means and variances. Empty inputs leave the
// means missing (NaN) for imputation and the variances at 0.
func summarize(r *row) {
	r.pressMean, r.releaseMean, r.intervalMean = math.NaN(), math.NaN(), math.NaN()
	if len(r.press) > 0 {
		r.pressMean, r.pressVar = stats.MeanVariance(r.press)
	}
	if len(r.release) > 0 {
		r.releaseMean, r.releaseVar = stats.MeanVariance(r.release)
	}
	if len(r.press) > 1 {
		r.intervalMean, r.intervalVar = stats.MeanVariance(stats.Diff(r.press))
	}
}

func impute(rows []*row) {
	columns := []func(*row) *float64{
		func(r *row) *float64 { return &r.pressMean },
		func(r *row) *float64 { return &r.releaseMean },
		func(r *row) *float64 { return &r.intervalMean },
		func(r *row) *float64 { return &r.errorRate },
	}
	for _, col := range columns {
		values := make([]float64, len(rows))
		for i, r := range rows {
			values[i] = *col(r)
		}
		median, _ := stats.Median(values)
		for _, r := range rows {
			if v := col(r); math.IsNaN(*v) {
				*v = median
			}
		}
	}
	for _, r := range rows {
		if math.IsNaN(r.backspace) {
			r.backspace = 0
		}
	}
}

// rejectOutliers keeps rows whose z-score on every checked column is within
// threshold, preserving input order.
func rejectOutliers(rows []*row, threshold float64) []*row {
	columns := []func(*row) float64{
		func(r *row) float64 { return r.pressMean },
		func(r *row) float64 { return r.releaseMean },
		func(r *row) float64 { return r.intervalMean },
		func(r *row) float64 { return r.backspace },
		func(r *row) float64 { return r.errorRate },
	}
	reject := make([]bool, len(rows))
	for _, col := range columns {
		values := make([]float64, len(rows))
		for i, r := range rows {
			values[i] = col(r)
		}
		for i, z := range stats.ZScores(values) {
			if math.Abs(z) > threshold {
				reject[i] = true
			}
		}
	}
	kept := make([]*row, 0, len(rows))
	for i, r := range rows {
		if !reject[i] {
			kept = append(kept, r)
		}
	}
	return kept
}

func normalize(rows []*row) {
	columns := []func(*row) *float64{
		func(r *row) *float64 { return &r.pressMean },
		func(r *row) *float64 { return &r.releaseMean },
		func(r *row) *float64 { return &r.intervalMean },
	}
	for _, col := range columns {
		values := make([]float64, len(rows))
		for i, r := range rows {
			values[i] = *col(r)
		}
		for i, v := range stats.Standardize(values) {
			*col(rows[i]) = v
		}
	}
}

// derive builds the stored profile for a surviving row: the ten feature
// columns from its raw timestamps plus the normalized summary. A normalized
// release mean of exactly 0 leaves the ratio unset.
func derive(r *row) (model.SessionProfile, error) {
	if r.degraded {
		return model.SessionProfile{}, errors.New("timestamps could not be parsed")
	}
	errorRate := r.errorRate
	if math.IsNaN(errorRate) {
		errorRate = 0
	}
	profile, err := features.ExtractAndAggregate(r.press, r.release, int(r.backspace), errorRate)
	if err != nil {
		return model.SessionProfile{}, err
	}
	profile.UserID = r.raw.UserID
	profile.Source = model.SourcePreprocess
	profile.CreatedAt = r.raw.CreatedAt
	profile.Normalized = &model.NormalizedSummary{
		PressMean:    r.pressMean,
		ReleaseMean:  r.releaseMean,
		IntervalMean: r.intervalMean,
	}
	if r.releaseMean != 0 {
		ratio := r.pressMean / r.releaseMean
		profile.Normalized.PressToReleaseRatio = &ratio
	}
	return profile, nil
}
