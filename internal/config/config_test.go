package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Path != nil || cfg.Train.Seed != nil {
		t.Fatalf("expected empty config, got %+v", cfg)
	}
}

func TestLoadConfigSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[store]
path = "/tmp/k.db"

[preprocess]
z-threshold = 2.5
write-policy = "append"

[train]
seed = 7
retrain-every = 3
min-profiles = 4

[log]
level = "debug"
format = "json"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Path == nil || *cfg.Store.Path != "/tmp/k.db" {
		t.Fatalf("store path not decoded: %+v", cfg.Store)
	}
	if cfg.Preprocess.ZThreshold == nil || *cfg.Preprocess.ZThreshold != 2.5 {
		t.Fatalf("z-threshold not decoded")
	}
	if cfg.Preprocess.WritePolicy == nil || *cfg.Preprocess.WritePolicy != "append" {
		t.Fatalf("write-policy not decoded")
	}
	if cfg.Train.Seed == nil || *cfg.Train.Seed != 7 || *cfg.Train.RetrainEvery != 3 || *cfg.Train.MinProfiles != 4 {
		t.Fatalf("train section not decoded: %+v", cfg.Train)
	}
	if cfg.Train.Trees != nil {
		t.Fatalf("unset key should stay nil")
	}
	if *cfg.Log.Level != "debug" || *cfg.Log.Format != "json" {
		t.Fatalf("log section not decoded")
	}
}

func TestLoadConfigUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[train]\nsede = 1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected an error for a misspelled key")
	}
}

func TestDefaultPathsUseXDG(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	t.Setenv("XDG_CONFIG_HOME", "/conf")
	if got := DefaultDBPath(); got != filepath.Join("/data", "keyprint", "keyprint.db") {
		t.Fatalf("db path = %s", got)
	}
	if got := DefaultArtifactDir(); got != filepath.Join("/data", "keyprint", "models") {
		t.Fatalf("artifact dir = %s", got)
	}
	if got := DefaultConfigPath(); got != filepath.Join("/conf", "keyprint", "config.toml") {
		t.Fatalf("config path = %s", got)
	}
}
