// Package model defines shared data structures.
package model

import "time"

// FeatureColumns lists the profile feature columns in vector order.
var FeatureColumns = []string{
	"press_press_interval_mean",
	"release_interval_mean",
	"hold_time_mean",
	"press_press_interval_variance",
	"release_interval_variance",
	"hold_time_variance",
	"backspace_count",
	"error_rate",
	"total_typing_time",
	"typing_speed_cps",
}

// FeatureCount is the length of a profile feature vector.
const FeatureCount = 10

// Profile sources.
const (
	SourceLive       = "live"
	SourcePreprocess = "preprocess"
)

// RawSession is one captured typing sample as stored.
type RawSession struct {
	ID             int64
	UserID         int64
	PressTimes     []float64
	ReleaseTimes   []float64
	BackspaceCount *int
	ErrorRate      *float64
	CreatedAt      time.Time
}

// StoredRawSession is a raw session row before timestamp parsing.
type StoredRawSession struct {
	ID             int64
	UserID         int64
	PressTimes     string
	ReleaseTimes   string
	BackspaceCount *int
	ErrorRate      *float64
	CreatedAt      time.Time
}

// KeystrokeFeatures holds the interval and duration features of one sample.
type KeystrokeFeatures struct {
	PressPressIntervals   []float64
	HoldTimes             []float64
	ReleasePressIntervals []float64
	TotalTypingTime       float64
	TypingSpeedCPS        float64
	PressReleaseRatio     float64
}

// NormalizedSummary is the batch-normalized summary written by the preprocessor.
// PressToReleaseRatio is nil when the normalized release mean is zero.
type NormalizedSummary struct {
	PressMean           float64
	ReleaseMean         float64
	IntervalMean        float64
	PressToReleaseRatio *float64
}

// SessionProfile is one accepted session's aggregated statistics.
type SessionProfile struct {
	ID                         int64
	UserID                     int64
	PressPressIntervalMean     float64
	ReleaseIntervalMean        float64
	HoldTimeMean               float64
	PressPressIntervalVariance float64
	ReleaseIntervalVariance    float64
	HoldTimeVariance           float64
	BackspaceCount             int
	ErrorRate                  float64
	TotalTypingTime            float64
	TypingSpeedCPS             float64

	Source     string
	Normalized *NormalizedSummary
	CreatedAt  time.Time
}

// Vector returns the profile features in FeatureColumns order.
func (p SessionProfile) Vector() []float64 {
	return []float64{
		p.PressPressIntervalMean,
		p.ReleaseIntervalMean,
		p.HoldTimeMean,
		p.PressPressIntervalVariance,
		p.ReleaseIntervalVariance,
		p.HoldTimeVariance,
		float64(p.BackspaceCount),
		p.ErrorRate,
		p.TotalTypingTime,
		p.TypingSpeedCPS,
	}
}

// TrainingCorpus is the feature matrix and labels fed to the trainer.
type TrainingCorpus struct {
	Columns []string
	X       [][]float64
	Y       []int64
}

// Len returns the number of rows in the corpus.
func (c TrainingCorpus) Len() int {
	return len(c.Y)
}

// RetrainState tracks accepted sessions since the last training run.
type RetrainState struct {
	SessionsSinceRetrain int
	LastTrainedAt        *time.Time
	Generation           string
}

// UserAggregate summarizes stored profiles for one user.
type UserAggregate struct {
	UserID                 int64
	Profiles               int
	TypingSpeedCPSMean     float64
	HoldTimeMean           float64
	PressPressIntervalMean float64
}

// CorpusOverview summarizes the store for reporting.
type CorpusOverview struct {
	Users       int
	Profiles    int
	RawSessions int
	Retrain     RetrainState
}

// StatsConfig defines filters and options for stats output.
type StatsConfig struct {
	UserID      int64
	Last        int
	CurveWindow int
}

// ModelSummary is one trained model's holdout result.
type ModelSummary struct {
	Name     string  `json:"name"`
	Accuracy float64 `json:"accuracy"`
}

// Manifest describes one generation of trained artifacts.
type Manifest struct {
	Generation string         `json:"generation"`
	TrainedAt  time.Time      `json:"trained_at"`
	Rows       int            `json:"rows"`
	TrainRows  int            `json:"train_rows"`
	TestRows   int            `json:"test_rows"`
	Classes    int            `json:"classes"`
	Models     []ModelSummary `json:"models"`
}
