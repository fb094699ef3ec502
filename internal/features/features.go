// Package features turns press/release timestamps into keystroke features
// and aggregates them into a fixed-size session profile.
//
// Timestamps are milliseconds. Extraction is pure: the same inputs always
// produce the same features and nothing is retained between calls.
package features

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/verte-zerg/keyprint/internal/model"
	"github.com/verte-zerg/keyprint/internal/stats"
)

// Extract computes interval and duration features for one typing sample.
func Extract(press, release []float64) (model.KeystrokeFeatures, error) {
	n := len(press)
	if n == 0 || n != len(release) {
		return model.KeystrokeFeatures{}, fmt.Errorf("%w: %d press and %d release timestamps", model.ErrLengthMismatch, n, len(release))
	}

	holds := make([]float64, n)
	for i := range press {
		holds[i] = release[i] - press[i]
		if holds[i] < 0 {
			return model.KeystrokeFeatures{}, fmt.Errorf("%w: key %d released %.3fms before press", model.ErrNegativeHoldTime, i, -holds[i])
		}
	}
	pressPress := stats.Diff(press)
	releasePress := make([]float64, n-1)
	for i := 1; i < n; i++ {
		releasePress[i-1] = press[i] - release[i-1]
	}

	total := release[n-1] - press[0]
	if total == 0 {
		return model.KeystrokeFeatures{}, fmt.Errorf("%w: total typing time is zero", model.ErrDivisionByZero)
	}

	ratio := 0.0
	if den := floats.Sum(pressPress); den != 0 {
		ratio = floats.Sum(releasePress) / den
	}

	return model.KeystrokeFeatures{
		PressPressIntervals:   pressPress,
		HoldTimes:             holds,
		ReleasePressIntervals: releasePress,
		TotalTypingTime:       total,
		TypingSpeedCPS:        float64(n) / (total / 1000),
		PressReleaseRatio:     ratio,
	}, nil
}

// Aggregate reduces features to means and population variances. Empty
// interval arrays, as in single-keystroke samples, contribute 0 for both.
func Aggregate(f model.KeystrokeFeatures, backspaceCount int, errorRate float64) (model.SessionProfile, error) {
	if backspaceCount < 0 {
		return model.SessionProfile{}, fmt.Errorf("%w: backspace count %d is negative", model.ErrInvalidInput, backspaceCount)
	}
	if errorRate < 0 || errorRate > 1 {
		return model.SessionProfile{}, fmt.Errorf("%w: error rate %g outside [0, 1]", model.ErrInvalidInput, errorRate)
	}
	ppMean, ppVar := stats.MeanVariance(f.PressPressIntervals)
	rpMean, rpVar := stats.MeanVariance(f.ReleasePressIntervals)
	holdMean, holdVar := stats.MeanVariance(f.HoldTimes)
	return model.SessionProfile{
		PressPressIntervalMean:     ppMean,
		ReleaseIntervalMean:        rpMean,
		HoldTimeMean:               holdMean,
		PressPressIntervalVariance: ppVar,
		ReleaseIntervalVariance:    rpVar,
		HoldTimeVariance:           holdVar,
		BackspaceCount:             backspaceCount,
		ErrorRate:                  errorRate,
		TotalTypingTime:            f.TotalTypingTime,
		TypingSpeedCPS:             f.TypingSpeedCPS,
	}, nil
}

// ExtractAndAggregate runs Extract then Aggregate.
func ExtractAndAggregate(press, release []float64, backspaceCount int, errorRate float64) (model.SessionProfile, error) {
	f, err := Extract(press, release)
	if err != nil {
		return model.SessionProfile{}, err
	}
	return Aggregate(f, backspaceCount, errorRate)
}
