package classify

import (
	"encoding/json"
	"fmt"

	"github.com/verte-zerg/keyprint/internal/model"
	"github.com/verte-zerg/keyprint/internal/stats"
)

// Scaler standardizes each column to zero mean and unit variance using
// statistics from the rows it was fitted on.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Fit learns column means and population standard deviations. Columns with
// zero spread keep a scale of 1.
func (s *Scaler) Fit(X [][]float64) error {
	if len(X) == 0 {
		return fmt.Errorf("%w: no rows to fit scaler", model.ErrEmptyCorpus)
	}
	d, err := checkRows(X, len(X[0]))
	if err != nil {
		return err
	}
	s.Mean = make([]float64, d)
	s.Scale = make([]float64, d)
	column := make([]float64, len(X))
	for j := 0; j < d; j++ {
		for i, row := range X {
			column[i] = row[j]
		}
		mean, std := stats.MeanStd(column)
		if std == 0 {
			std = 1
		}
		s.Mean[j], s.Scale[j] = mean, std
	}
	return nil
}

// Transform returns standardized copies of the rows.
func (s *Scaler) Transform(X [][]float64) ([][]float64, error) {
	if len(s.Mean) == 0 {
		return nil, notFitted("scaler")
	}
	if _, err := checkRows(X, len(s.Mean)); err != nil {
		return nil, err
	}
	out := newMatrix(len(X), len(s.Mean))
	for i, row := range X {
		for j, v := range row {
			out[i][j] = (v - s.Mean[j]) / s.Scale[j]
		}
	}
	return out, nil
}

// MarshalScaler encodes a fitted scaler.
func MarshalScaler(s *Scaler) ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalScaler decodes a scaler artifact; corrupt data wraps model.ErrArtifactLoad.
func UnmarshalScaler(data []byte) (*Scaler, error) {
	var s Scaler
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: scaler: %v", model.ErrArtifactLoad, err)
	}
	if len(s.Mean) == 0 || len(s.Mean) != len(s.Scale) {
		return nil, fmt.Errorf("%w: scaler has inconsistent dimensions", model.ErrArtifactLoad)
	}
	return &s, nil
}
