// Package config loads the single process-wide configuration: pool
// sizing, memory budget, per-provider concurrency caps, and provider
// credential file paths, from YAML, with environment-variable overrides
// for secrets.
/*
 * Copyright (c) 2024, Mokuro Reader Project.
 */
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ProviderConfig holds the per-provider concurrency hints and credential
// file location.
type ProviderConfig struct {
	Name                      string `yaml:"name"`
	UploadConcurrencyLimit    int    `yaml:"upload_concurrency_limit"`
	DownloadConcurrencyLimit  int    `yaml:"download_concurrency_limit"`
	CredentialsPath           string `yaml:"credentials_path"`
}

// Config is the single process-wide configuration.
type Config struct {
	Pool struct {
		MaxConcurrentWorkers int   `yaml:"max_concurrent_workers"`
		MemoryBudgetBytes    int64 `yaml:"memory_budget_bytes"`
	} `yaml:"pool"`

	Export struct {
		// Export's concurrency defaults to max(1, poolMax - reserve).
		ConcurrencyReserve int `yaml:"concurrency_reserve"`
	} `yaml:"export"`

	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`

	Providers []ProviderConfig `yaml:"providers"`

	// CredentialsEncryptionKeyEnv names the environment variable holding the
	// at-rest encryption key for provider credentials and library passwords
	//; never stored in the file
	// itself.
	CredentialsEncryptionKeyEnv string `yaml:"credentials_encryption_key_env"`
}

// Default returns sane defaults matching pool.DefaultConfig's derivation.
func Default(numCPU int) *Config {
	var c Config
	w := numCPU
	if w < 2 {
		w = 2
	}
	if w > 8 {
		w = 8
	}
	c.Pool.MaxConcurrentWorkers = w
	c.Pool.MemoryBudgetBytes = 512 << 20
	c.Export.ConcurrencyReserve = 2
	c.Storage.DBPath = "mokuro.db"
	c.CredentialsEncryptionKeyEnv = "MOKURO_CRED_KEY"
	return &c
}

// Load reads path, falling back to Default(numCPU) if the file does not
// exist, and in both cases applies the environment-variable overrides of
// applyEnvOverrides.
func Load(path string, numCPU int) (*Config, error) {
	c := Default(numCPU)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		c.applyEnvOverrides()
		return c, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "config: read")
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "config: parse")
	}
	c.applyEnvOverrides()
	return c, nil
}

// Save writes c to path, creating parent directories as needed.
func Save(c *Config, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "config: marshal")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "config: mkdir")
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(err, "config: write")
	}
	return nil
}

// applyEnvOverrides lets MOKURO_DB_PATH and MOKURO_MAX_WORKERS override
// the file, keeping machine-local knobs out of YAML on disk.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MOKURO_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("MOKURO_MAX_WORKERS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			c.Pool.MaxConcurrentWorkers = n
		}
	}
}

// EncryptionKey reads the at-rest credential key from the configured
// environment variable; empty if unset (store/crypt.go then no-ops).
func (c *Config) EncryptionKey() []byte {
	v := os.Getenv(c.CredentialsEncryptionKeyEnv)
	if v == "" {
		return nil
	}
	return []byte(v)
}

// ProviderByName returns the configured provider entry, or a zero-value
// ProviderConfig with the given name if unconfigured.
func (c *Config) ProviderByName(name string) ProviderConfig {
	for _, p := range c.Providers {
		if p.Name == name {
			return p
		}
	}
	return ProviderConfig{Name: name}
}
