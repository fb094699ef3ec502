package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/verte-zerg/keyprint/internal/model"
)

func TestSaveLoad(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "models"))
	if err := s.SaveAll([]File{{Name: "random_forest", Data: []byte(`{"a":1}`)}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := s.Load("random_forest")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Fatalf("unexpected data: %s", data)
	}
	if err := s.SaveAll([]File{{Name: "random_forest", Data: []byte(`{"a":2}`)}}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	data, _ = s.Load("random_forest")
	if string(data) != `{"a":2}` {
		t.Fatalf("overwrite not visible: %s", data)
	}
	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestSnapshotPinsWholeGeneration(t *testing.T) {
	s := New(t.TempDir())
	if err := s.SaveAll([]File{{Name: ScalerName, Data: []byte("s1")}, {Name: "random_forest", Data: []byte("m1")}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	pinned, err := s.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := s.SaveAll([]File{{Name: ScalerName, Data: []byte("s2")}, {Name: "random_forest", Data: []byte("m2")}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	scaler, _ := pinned.Load(ScalerName)
	forest, _ := pinned.Load("random_forest")
	if string(scaler) != "s1" || string(forest) != "m1" {
		t.Fatalf("pinned generation mixed sets: %s, %s", scaler, forest)
	}
	scaler, _ = s.Load(ScalerName)
	forest, _ = s.Load("random_forest")
	if string(scaler) != "s2" || string(forest) != "m2" {
		t.Fatalf("current generation = %s, %s", scaler, forest)
	}
}

func TestSaveAllPrunesOldGenerations(t *testing.T) {
	s := New(t.TempDir())
	for i := 0; i < 4; i++ {
		if err := s.SaveAll([]File{{Name: ScalerName, Data: []byte{byte('a' + i)}}}); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var gens int
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), genPrefix) {
			gens++
		}
	}
	if gens != keepGenerations {
		t.Fatalf("expected %d generation dirs, found %d", keepGenerations, gens)
	}
	data, _ := s.Load(ScalerName)
	if string(data) != "d" {
		t.Fatalf("current scaler = %s, want d", data)
	}
}

func TestLoadMissing(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.Load("neural_network"); !errors.Is(err, model.ErrArtifactLoad) {
		t.Fatalf("expected ErrArtifactLoad, got %v", err)
	}
	if _, err := s.ReadManifest(); !errors.Is(err, model.ErrArtifactLoad) {
		t.Fatalf("expected ErrArtifactLoad for manifest, got %v", err)
	}
	if err := s.SaveAll([]File{{Name: ScalerName, Data: []byte("x")}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.Load("neural_network"); !errors.Is(err, model.ErrArtifactLoad) {
		t.Fatalf("expected ErrArtifactLoad for a model outside the generation, got %v", err)
	}
}

func TestSaveAllRejectsBadNameBeforeWriting(t *testing.T) {
	s := New(t.TempDir())
	if err := s.SaveAll([]File{{Name: "scaler", Data: []byte("old")}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	err := s.SaveAll([]File{{Name: "scaler", Data: []byte("new")}, {Name: "../escape", Data: []byte("x")}})
	if !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	data, _ := s.Load("scaler")
	if string(data) != "old" {
		t.Fatalf("previous artifact was replaced: %s", data)
	}
}

func TestManifestRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f, err := ManifestFile(model.Manifest{
		Generation: "gen-1",
		TrainedAt:  at,
		Rows:       10,
		Classes:    2,
		Models:     []model.ModelSummary{{Name: "random_forest", Accuracy: 0.5}},
	})
	if err != nil {
		t.Fatalf("manifest file: %v", err)
	}
	if err := s.SaveAll([]File{f}); err != nil {
		t.Fatalf("save: %v", err)
	}
	m, err := s.ReadManifest()
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if m.Generation != "gen-1" || !m.TrainedAt.Equal(at) || len(m.Models) != 1 || m.Models[0].Accuracy != 0.5 {
		t.Fatalf("unexpected manifest: %+v", m)
	}
}
