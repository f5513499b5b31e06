package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"
)

// DefaultFile is read when Load is given no explicit path and the file exists.
const DefaultFile = "rover.yaml"

// EnvPrefix prefixes every environment override, e.g. ROVER_REMOTE_BASE_URL.
const EnvPrefix = "ROVER_"

// Load merges Baseline() + optional YAML file + ROVER_* env overrides, then validates.
// An explicit path must exist; the default file is optional.
func Load(path string) (*Config, error) {
	cfg := Baseline()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	} else if _, err := os.Stat(DefaultFile); err == nil {
		if err := loadFromFile(cfg, DefaultFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", DefaultFile, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays a YAML file onto cfg. Keys absent from the file keep their current values.
func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("config file is empty")
	}

	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides applies ROVER_* environment variables. Unset variables leave fields untouched.
func applyEnvOverrides(cfg *Config) error {
	return env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix})
}
