// Package artifact persists trained models, the feature scaler and the
// training manifest. Each published set lives in its own generation
// directory, and a pointer file names the current one.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/verte-zerg/keyprint/internal/model"
)

const (
	ext          = ".json"
	manifestName = "manifest"
	currentName  = "current"
	genPrefix    = "gen-"
	// keepGenerations counts the current generation and the one before it,
	// which readers that resolved the pointer just before a swap may still use.
	keepGenerations = 2
)

// ScalerName is the artifact name of the fitted feature scaler.
const ScalerName = "scaler"

// File is one named artifact payload.
type File struct {
	Name string
	Data []byte
}

// Store reads and writes artifact generations under a directory.
type Store struct {
	dir string
}

// New returns a Store rooted at dir. The directory is created on first write.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the artifact directory.
func (s *Store) Dir() string {
	return s.dir
}

// SaveAll publishes files as a new generation. The files are written into a
// fresh directory and become visible together when the pointer is renamed
// into place, so a failure leaves the previous generation current.
func (s *Store) SaveAll(files []File) error {
	for _, f := range files {
		if err := validName(f.Name); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifact dir: %w", err)
	}
	genDir, err := os.MkdirTemp(s.dir, genPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create generation dir: %w", err)
	}
	published := false
	defer func() {
		if !published {
			_ = os.RemoveAll(genDir)
		}
	}()
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(genDir, f.Name+ext), f.Data, 0o644); err != nil {
			return fmt.Errorf("failed to write artifact %s: %w", f.Name, err)
		}
	}

	previous, _ := s.current()
	if err := s.writePointer(filepath.Base(genDir)); err != nil {
		return err
	}
	published = true
	s.prune(filepath.Base(genDir), previous)
	return nil
}

func (s *Store) writePointer(gen string) error {
	tmpFile, err := os.CreateTemp(s.dir, currentName+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp pointer: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		// Best-effort cleanup; a renamed file no longer exists here.
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmpFile.WriteString(gen); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write pointer: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close pointer: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(s.dir, currentName)); err != nil {
		return fmt.Errorf("failed to publish generation: %w", err)
	}
	return nil
}

// prune removes generation directories other than the newest ones.
func (s *Store) prune(current, previous string) {
	keep := map[string]bool{current: true, previous: previous != ""}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), genPrefix) && !keep[e.Name()] {
			_ = os.RemoveAll(filepath.Join(s.dir, e.Name()))
		}
	}
}

func (s *Store) current() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, currentName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: no trained generation in %s", model.ErrArtifactLoad, s.dir)
		}
		return "", fmt.Errorf("%w: pointer: %v", model.ErrArtifactLoad, err)
	}
	gen := strings.TrimSpace(string(data))
	if !strings.HasPrefix(gen, genPrefix) || strings.ContainsAny(gen, `/\`) {
		return "", fmt.Errorf("%w: invalid generation pointer %q", model.ErrArtifactLoad, gen)
	}
	return gen, nil
}

// Snapshot pins the current generation. Every load through the returned
// Generation reads the same published set.
func (s *Store) Snapshot() (*Generation, error) {
	gen, err := s.current()
	if err != nil {
		return nil, err
	}
	return &Generation{dir: filepath.Join(s.dir, gen)}, nil
}

// Load returns an artifact's bytes from the current generation.
func (s *Store) Load(name string) ([]byte, error) {
	g, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	return g.Load(name)
}

// ReadManifest loads the manifest of the current generation.
func (s *Store) ReadManifest() (model.Manifest, error) {
	g, err := s.Snapshot()
	if err != nil {
		return model.Manifest{}, err
	}
	return g.ReadManifest()
}

// Generation is one published artifact set.
type Generation struct {
	dir string
}

// Dir returns the generation directory.
func (g *Generation) Dir() string {
	return g.dir
}

// Load returns an artifact's bytes. Missing or unreadable artifacts wrap
// model.ErrArtifactLoad.
func (g *Generation) Load(name string) ([]byte, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(g.dir, name+ext))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s not found in %s", model.ErrArtifactLoad, name, g.dir)
		}
		return nil, fmt.Errorf("%w: %s: %v", model.ErrArtifactLoad, name, err)
	}
	return data, nil
}

// ReadManifest decodes the generation's manifest.
func (g *Generation) ReadManifest() (model.Manifest, error) {
	data, err := g.Load(manifestName)
	if err != nil {
		return model.Manifest{}, err
	}
	var m model.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return model.Manifest{}, fmt.Errorf("%w: manifest: %v", model.ErrArtifactLoad, err)
	}
	return m, nil
}

// ManifestFile encodes a manifest for SaveAll.
func ManifestFile(m model.Manifest) (File, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return File{}, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return File{Name: manifestName, Data: data}, nil
}

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\.`) {
		return fmt.Errorf("%w: invalid artifact name %q", model.ErrInvalidInput, name)
	}
	return nil
}
