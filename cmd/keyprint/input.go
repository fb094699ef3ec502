package main

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/verte-zerg/keyprint/internal/engine"
	"github.com/verte-zerg/keyprint/internal/features"
	"github.com/verte-zerg/keyprint/internal/generator"
	"github.com/verte-zerg/keyprint/internal/model"
)

func parseSample(user int64, press, release string, backspace int, errorRate float64) (engine.Sample, error) {
	pressTimes, err := features.ParseTimestamps(press)
	if err != nil {
		return engine.Sample{}, fmt.Errorf("invalid --press: %w", err)
	}
	releaseTimes, err := features.ParseTimestamps(release)
	if err != nil {
		return engine.Sample{}, fmt.Errorf("invalid --release: %w", err)
	}
	return engine.Sample{
		UserID:         user,
		PressTimes:     pressTimes,
		ReleaseTimes:   releaseTimes,
		BackspaceCount: backspace,
		ErrorRate:      errorRate,
	}, nil
}

func parseVector(text string) ([]float64, error) {
	vector, err := features.ParseTimestamps(text)
	if err != nil {
		return nil, fmt.Errorf("invalid --vector: %w", err)
	}
	if len(vector) != model.FeatureCount {
		return nil, fmt.Errorf("%w: --vector has %d values, want %d", model.ErrFeatureVectorShape, len(vector), model.FeatureCount)
	}
	return vector, nil
}

// importedSession is one element of an import file. Timestamps may be JSON
// arrays or the stored text form.
type importedSession struct {
	UserID         *int64          `json:"user_id"`
	PressTimes     json.RawMessage `json:"press_times"`
	ReleaseTimes   json.RawMessage `json:"release_times"`
	BackspaceCount *int            `json:"backspace_count"`
	ErrorRate      *float64        `json:"error_rate"`
}

// decodeRawSessions converts an import file into stored raw sessions. Text
// timestamps are kept as-is so the preprocessor decides whether they parse.
func decodeRawSessions(data []byte) ([]model.StoredRawSession, error) {
	var items []importedSession
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: import file: %v", model.ErrParse, err)
	}
	rows := make([]model.StoredRawSession, 0, len(items))
	for i, item := range items {
		if item.UserID == nil {
			return nil, fmt.Errorf("%w: session %d has no user_id", model.ErrInvalidInput, i)
		}
		press, err := timestampText(item.PressTimes)
		if err != nil {
			return nil, fmt.Errorf("session %d press_times: %w", i, err)
		}
		release, err := timestampText(item.ReleaseTimes)
		if err != nil {
			return nil, fmt.Errorf("session %d release_times: %w", i, err)
		}
		rows = append(rows, model.StoredRawSession{
			UserID:         *item.UserID,
			PressTimes:     press,
			ReleaseTimes:   release,
			BackspaceCount: item.BackspaceCount,
			ErrorRate:      item.ErrorRate,
		})
	}
	return rows, nil
}

func timestampText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("%w: missing timestamps", model.ErrInvalidInput)
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return "", fmt.Errorf("%w: %v", model.ErrParse, err)
		}
		return text, nil
	}
	var values []float64
	if err := json.Unmarshal(raw, &values); err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrParse, err)
	}
	return features.FormatTimestamps(values), nil
}

// simulateSessionsFor draws one rhythm per user and types sessions with it.
// Users are numbered from 1.
func simulateSessionsFor(gen *generator.Generator, users, sessions, keys int) []model.StoredRawSession {
	rows := make([]model.StoredRawSession, 0, users*sessions)
	rhythms := make([]generator.Rhythm, users)
	for u := range rhythms {
		rhythms[u] = gen.Rhythm()
	}
	for i := 0; i < sessions; i++ {
		for u, r := range rhythms {
			raw := gen.Session(int64(u+1), keys, r)
			rows = append(rows, model.StoredRawSession{
				UserID:         raw.UserID,
				PressTimes:     features.FormatTimestamps(raw.PressTimes),
				ReleaseTimes:   features.FormatTimestamps(raw.ReleaseTimes),
				BackspaceCount: raw.BackspaceCount,
				ErrorRate:      raw.ErrorRate,
				CreatedAt:      raw.CreatedAt,
			})
		}
	}
	return rows
}

// corpusRecords lays the corpus out as CSV records with a header row.
func corpusRecords(c model.TrainingCorpus) [][]string {
	records := make([][]string, 0, c.Len()+1)
	records = append(records, append([]string{"user_id"}, c.Columns...))
	for i, row := range c.X {
		fields := make([]string, 0, len(row)+1)
		fields = append(fields, strconv.FormatInt(c.Y[i], 10))
		for _, v := range row {
			fields = append(fields, strconv.FormatFloat(v, 'g', -1, 64))
		}
		records = append(records, fields)
	}
	return records
}

func writeCSV(path string, records [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	tmpFile, err := os.CreateTemp(filepath.Dir(path), "export-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	writer := bufio.NewWriter(tmpFile)
	csvWriter := csv.NewWriter(writer)
	if err := csvWriter.WriteAll(records); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush export: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close export: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}
