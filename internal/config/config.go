// Package config loads the small YAML configuration file the three CLI
// wrappers share (cluster contexts, registry host and credentials, default
// age, history database and keep-rules paths), with flag/env overrides
// layered on top the way teacher's main.go layers its flags over defaults.
// The output directory is not configured here; internal/report resolves it
// from $REPORTDIR.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk shape of the optional config file.
type Config struct {
	RegistryHost     string   `yaml:"registry_host"`
	RegistryUsername string   `yaml:"registry_username"`
	RegistryPassword string   `yaml:"registry_password"`
	RegistryInsecure bool     `yaml:"registry_insecure"`
	Contexts         []string `yaml:"contexts"`
	KubeconfigPath   string   `yaml:"kubeconfig_path"`
	MaxAgeDays       float64  `yaml:"max_age_days"`
	HistoryDBPath    string   `yaml:"history_db_path"`
	KeepRulesPath    string   `yaml:"keep_rules_path"`
}

// Default returns a Config with spec.md's documented defaults (31-day
// cutoff, history db under ./data).
func Default() Config {
	return Config{
		MaxAgeDays:    31,
		HistoryDBPath: "data/registry-gc-history.db",
		KeepRulesPath: "images-keep.json",
	}
}

// Load reads path if it exists, overlaying its fields onto Default(). A
// missing file is not an error: the caller gets pure defaults, the same
// "absent config is fine" posture images-keep.json and images.json have
// elsewhere in this system.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv layers REGISTRY_HOST / REGISTRY_USERNAME / REGISTRY_PASSWORD
// environment overrides onto cfg, for the common case of keeping
// credentials out of the config file entirely.
func (c Config) ApplyEnv() Config {
	if v := os.Getenv("REGISTRY_HOST"); v != "" {
		c.RegistryHost = v
	}
	if v := os.Getenv("REGISTRY_USERNAME"); v != "" {
		c.RegistryUsername = v
	}
	if v := os.Getenv("REGISTRY_PASSWORD"); v != "" {
		c.RegistryPassword = v
	}
	return c
}
