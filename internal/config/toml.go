// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Store      StoreConfig      `toml:"store"`
	Artifacts  ArtifactsConfig  `toml:"artifacts"`
	Preprocess PreprocessConfig `toml:"preprocess"`
	Train      TrainConfig      `toml:"train"`
	Log        LogConfig        `toml:"log"`
}

// StoreConfig maps profile store settings.
type StoreConfig struct {
	Path *string `toml:"path"`
}

// ArtifactsConfig maps model artifact settings.
type ArtifactsConfig struct {
	Dir *string `toml:"dir"`
}

// PreprocessConfig maps corpus preprocessing settings.
type PreprocessConfig struct {
	ZThreshold  *float64 `toml:"z-threshold"`
	WritePolicy *string  `toml:"write-policy"`
}

// TrainConfig maps ensemble training and retrain trigger settings.
type TrainConfig struct {
	TestFraction *float64 `toml:"test-fraction"`
	Seed         *int     `toml:"seed"`
	RetrainEvery *int     `toml:"retrain-every"`
	MinProfiles  *int     `toml:"min-profiles"`
	Trees        *int     `toml:"trees"`
	Rounds       *int     `toml:"rounds"`
	Hidden       *int     `toml:"hidden"`
	Epochs       *int     `toml:"epochs"`
}

// LogConfig maps logging settings.
type LogConfig struct {
	Level  *string `toml:"level"`
	Format *string `toml:"format"`
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return FileConfig{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	return cfg, nil
}
