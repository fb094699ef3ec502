package model

import "errors"

// Failure kinds. Errors returned across package boundaries wrap one of these,
// so callers can match with errors.Is and read the detail from Error().
var (
	ErrLengthMismatch     = errors.New("length mismatch")
	ErrDivisionByZero     = errors.New("division by zero")
	ErrFeatureVectorShape = errors.New("feature vector shape")
	ErrParse              = errors.New("parse error")
	ErrEmptyCorpus        = errors.New("empty corpus")
	ErrArtifactLoad       = errors.New("artifact load")
	ErrNegativeHoldTime   = errors.New("negative hold time")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnknownModel       = errors.New("unknown model")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrLengthMismatch, "length_mismatch"},
	{ErrDivisionByZero, "division_by_zero"},
	{ErrFeatureVectorShape, "feature_vector_shape"},
	{ErrParse, "parse"},
	{ErrEmptyCorpus, "empty_corpus"},
	{ErrArtifactLoad, "artifact_load"},
	{ErrNegativeHoldTime, "negative_hold_time"},
	{ErrInvalidInput, "invalid_input"},
	{ErrUnknownModel, "unknown_model"},
}

// Kind returns the short failure kind for err, "internal" for unclassified
// errors and "" for nil.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}
