// SPDX-License-Identifier: Apache-2.0

// Package config loads the daemon's storage configuration from an XDG-style
// YAML file, following the same gopkg.in/yaml.v3 strict-decode-then-validate
// shape used elsewhere in the example pack's config loaders.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tks-project/secretsd/internal/tkserr"
)

// Storage kinds recognized by cmd/secretsd's openBackend.
const (
	KindDiskGCM = "tks_gcm"
	KindFscrypt = "fscrypt"
	KindForeign = "foreign"
)

// Config is the daemon's top-level configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
}

// StorageConfig selects and locates the storage backend.
type StorageConfig struct {
	Path string `yaml:"path"`
	Kind string `yaml:"kind"`
}

// defaultKind is used when neither the config file nor TKS_STORAGE_KIND
// names a backend.
const defaultKind = KindDiskGCM

// Load reads and validates the config file at path, then applies
// TKS_STORAGE_PATH / TKS_STORAGE_KIND environment overrides.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, tkserr.Configuration("read config file "+path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, tkserr.Configuration("parse config yaml "+path, err)
	}

	cfg.resolvePath(path)
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultPath returns $XDG_CONFIG_HOME/tks/service.yaml, falling back to
// $HOME/.config/tks/service.yaml when XDG_CONFIG_HOME is unset.
func DefaultPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); strings.TrimSpace(dir) != "" {
		return filepath.Join(dir, "tks", "service.yaml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", tkserr.Configuration("resolve home directory", err)
	}
	return filepath.Join(home, ".config", "tks", "service.yaml"), nil
}

// Validate checks that the config names a recognized storage kind and a
// non-empty path.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.Path) == "" {
		return tkserr.Configuration("storage.path is required", nil)
	}
	switch c.Storage.Kind {
	case KindDiskGCM, KindFscrypt, KindForeign:
	default:
		return tkserr.Configuration(fmt.Sprintf("storage.kind %q is not a recognized backend", c.Storage.Kind), nil)
	}
	return nil
}

// resolvePath makes a relative storage.path absolute, relative to the
// config file's own directory, and fills in the default kind if unset.
func (c *Config) resolvePath(configPath string) {
	if strings.TrimSpace(c.Storage.Path) != "" && !filepath.IsAbs(c.Storage.Path) {
		c.Storage.Path = filepath.Clean(filepath.Join(filepath.Dir(configPath), c.Storage.Path))
	}
	if strings.TrimSpace(c.Storage.Kind) == "" {
		c.Storage.Kind = defaultKind
	}
}

// applyEnvOverrides lets TKS_STORAGE_PATH / TKS_STORAGE_KIND win over
// whatever the config file specified, matching the teacher's precedent of
// environment variables overriding file-based settings at startup.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TKS_STORAGE_PATH"); strings.TrimSpace(v) != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("TKS_STORAGE_KIND"); strings.TrimSpace(v) != "" {
		c.Storage.Kind = v
	}
}
