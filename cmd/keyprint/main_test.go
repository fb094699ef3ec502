package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/verte-zerg/keyprint/internal/model"
	"github.com/verte-zerg/keyprint/internal/score"
)

func TestDecodeRawSessions(t *testing.T) {
	data := []byte(`[
		{"user_id": 1, "press_times": [0, 100], "release_times": [50, 150], "backspace_count": 2, "error_rate": 0.1},
		{"user_id": 2, "press_times": "[0, 90]", "release_times": "0, 45"}
	]`)
	rows, err := decodeRawSessions(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].PressTimes != "[0, 100]" || *rows[0].BackspaceCount != 2 || *rows[0].ErrorRate != 0.1 {
		t.Fatalf("unexpected first row: %+v", rows[0])
	}
	if rows[1].ReleaseTimes != "0, 45" || rows[1].BackspaceCount != nil || rows[1].ErrorRate != nil {
		t.Fatalf("unexpected second row: %+v", rows[1])
	}
}

func TestDecodeRawSessionsErrors(t *testing.T) {
	cases := map[string]error{
		`{"user_id": 1}`: model.ErrParse,
		`[{"user_id": 1, "press_times": [0], "release_times": [1], "extra": 1}]`: model.ErrParse,
		`[{"press_times": [0], "release_times": [1]}]`:                          model.ErrInvalidInput,
		`[{"user_id": 1, "release_times": [1]}]`:                                 model.ErrInvalidInput,
		`[{"user_id": 1, "press_times": {"a": 1}, "release_times": [1]}]`:        model.ErrParse,
	}
	for input, want := range cases {
		if _, err := decodeRawSessions([]byte(input)); !errors.Is(err, want) {
			t.Fatalf("decode %s: got %v, want %v", input, err, want)
		}
	}
}

func TestParseSampleAndVector(t *testing.T) {
	s, err := parseSample(3, "0, 100, 200", "[50, 150, 260]", 1, 0.2)
	if err != nil {
		t.Fatalf("parse sample: %v", err)
	}
	if s.UserID != 3 || len(s.PressTimes) != 3 || s.ReleaseTimes[2] != 260 || s.BackspaceCount != 1 {
		t.Fatalf("unexpected sample: %+v", s)
	}
	if _, err := parseSample(3, "0, x", "1, 2", 0, 0); !errors.Is(err, model.ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
	if _, err := parseVector("1,2,3"); !errors.Is(err, model.ErrFeatureVectorShape) {
		t.Fatalf("expected ErrFeatureVectorShape, got %v", err)
	}
	if v, err := parseVector("1,2,3,4,5,6,7,8,9,10"); err != nil || len(v) != model.FeatureCount {
		t.Fatalf("parse vector = %v, %v", v, err)
	}
}

func TestWriteCSVCorpus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "corpus.csv")
	corpus := model.TrainingCorpus{Columns: []string{"a", "b"}, X: [][]float64{{1.5, 2}}, Y: []int64{7}}
	if err := writeCSV(path, corpusRecords(corpus)); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "user_id,a,b\n7,1.5,2\n" {
		t.Fatalf("unexpected csv: %q", data)
	}
}

func TestWriteCSVQuotesFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.csv")
	corpus := model.TrainingCorpus{Columns: []string{"hold, ms", `say "hi"`}, X: [][]float64{{1, 2}}, Y: []int64{3}}
	if err := writeCSV(path, corpusRecords(corpus)); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() {
		_ = f.Close()
	}()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 2 || len(records[0]) != 3 || records[0][1] != "hold, ms" || records[0][2] != `say "hi"` {
		t.Fatalf("unexpected records: %q", records)
	}
}

type fixedCorpus model.TrainingCorpus

func (c fixedCorpus) ReadTrainingCorpus(context.Context) (model.TrainingCorpus, error) {
	return model.TrainingCorpus(c), nil
}

// echoScorer predicts the first vector value as the user, and always fails
// for the broken model.
type echoScorer struct{}

func (echoScorer) Score(vector []float64, claimed int64) ([]score.Verdict, error) {
	predicted := int64(vector[0])
	return []score.Verdict{
		{Model: "echo", Predicted: predicted, Match: predicted == claimed},
		{Model: "broken", Err: model.ErrArtifactLoad},
	}, nil
}

func TestEvaluateCorpus(t *testing.T) {
	corpus := fixedCorpus{
		X: [][]float64{{1}, {1}, {2}, {1}},
		Y: []int64{1, 1, 1, 2},
	}
	metrics, err := evaluateCorpus(context.Background(), corpus, echoScorer{}, 1)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if _, ok := metrics["broken"]; ok {
		t.Fatalf("failing model should be left out")
	}
	m := metrics["echo"]
	if m.Recall != 2.0/3 || m.FRR != 1.0/3 || m.FAR != 1 || m.Precision != 2.0/3 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
	if _, err := evaluateCorpus(context.Background(), fixedCorpus{}, echoScorer{}, 1); !errors.Is(err, model.ErrEmptyCorpus) {
		t.Fatalf("expected ErrEmptyCorpus, got %v", err)
	}
}

func runCLI(t *testing.T, dir string, args ...string) string {
	t.Helper()
	base := []string{
		"--config", filepath.Join(dir, "config.toml"),
		"--db", filepath.Join(dir, "keyprint.db"),
		"--artifacts", filepath.Join(dir, "models"),
		"--log-level", "error",
	}
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(append(args[:1:1], append(base, args[1:]...)...))
	if err := cmd.Execute(); err != nil {
		t.Fatalf("keyprint %s: %v", strings.Join(args, " "), err)
	}
	return out.String()
}

func TestImportPreprocessTrainStats(t *testing.T) {
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(5))
	type session struct {
		UserID  int64     `json:"user_id"`
		Press   []float64 `json:"press_times"`
		Release []float64 `json:"release_times"`
	}
	var sessions []session
	for i := 0; i < 24; i++ {
		user := int64(1 + i%2)
		hold, gap := 80.0, 150.0
		if user == 2 {
			hold, gap = 140, 320
		}
		s := session{UserID: user}
		var at float64
		for k := 0; k < 10; k++ {
			s.Press = append(s.Press, at)
			s.Release = append(s.Release, at+hold+rng.Float64()*6)
			at += gap + rng.Float64()*12
		}
		sessions = append(sessions, s)
	}
	data, err := json.Marshal(sessions)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	importPath := filepath.Join(dir, "sessions.json")
	if err := os.WriteFile(importPath, data, 0o644); err != nil {
		t.Fatalf("write import file: %v", err)
	}

	if out := runCLI(t, dir, "import", "--file", importPath); !strings.Contains(out, "Imported 24 raw sessions") {
		t.Fatalf("unexpected import output: %q", out)
	}
	if out := runCLI(t, dir, "preprocess"); !strings.Contains(out, "Rows read: 24") {
		t.Fatalf("unexpected preprocess output: %q", out)
	}
	out := runCLI(t, dir, "train", "--trees", "5", "--rounds", "5", "--epochs", "40")
	for _, name := range []string{"logistic_regression", "random_forest", "support_vector_machine", "gradient_boosting", "neural_network"} {
		if !strings.Contains(out, name+" Accuracy:") {
			t.Fatalf("train output missing %s:\n%s", name, out)
		}
	}
	if out := runCLI(t, dir, "evaluate", "--user", "1"); !strings.Contains(out, "FRR") {
		t.Fatalf("unexpected evaluate output: %q", out)
	}
	out = runCLI(t, dir, "stats", "--plain")
	for _, want := range []string{"Users: 2", "Raw sessions: 24", "Models (generation", "random_forest"} {
		if !strings.Contains(out, want) {
			t.Fatalf("stats output missing %q:\n%s", want, out)
		}
	}
}

func TestSimulatePreprocessExport(t *testing.T) {
	dir := t.TempDir()
	if out := runCLI(t, dir, "simulate", "--users", "2", "--sessions", "6", "--keys", "12", "--seed", "3"); !strings.Contains(out, "Stored 12 synthetic sessions for 2 users") {
		t.Fatalf("unexpected simulate output: %q", out)
	}
	runCLI(t, dir, "preprocess")
	exportPath := filepath.Join(dir, "corpus.csv")
	runCLI(t, dir, "export", "--out", exportPath)
	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if !strings.HasPrefix(lines[0], "user_id,") || len(lines) < 2 {
		t.Fatalf("unexpected export:\n%s", data)
	}
	if fields := strings.Split(lines[1], ","); len(fields) != model.FeatureCount+1 {
		t.Fatalf("export row has %d fields", len(fields))
	}
}
