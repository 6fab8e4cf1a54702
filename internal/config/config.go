// Package config resolves where the broker keeps its state and carries the
// runtime settings shared by every CLI command.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/systmms/lockbox/internal/logging"
)

// Config holds the runtime configuration.
type Config struct {
	Path   string // optional config file
	Logger *logging.Logger

	StoreDir      string
	RegistryPath  string
	EnableMetrics bool
}

// fileConfig is the optional lockbox.yaml structure.
type fileConfig struct {
	StoreDir     string `yaml:"storeDir,omitempty"`
	RegistryPath string `yaml:"registryPath,omitempty"`
	Metrics      bool   `yaml:"metrics,omitempty"`
}

// Load reads the config file if present and fills unset fields with
// defaults. A missing file is not an error; explicit flags win over the
// file, the file wins over defaults.
func (c *Config) Load() error {
	if c.Path != "" {
		data, err := os.ReadFile(c.Path)
		switch {
		case err == nil:
			var fc fileConfig
			if err := yaml.Unmarshal(data, &fc); err != nil {
				return fmt.Errorf("failed to parse config %s: %w", c.Path, err)
			}
			if c.StoreDir == "" {
				c.StoreDir = fc.StoreDir
			}
			if c.RegistryPath == "" {
				c.RegistryPath = fc.RegistryPath
			}
			if fc.Metrics {
				c.EnableMetrics = true
			}
		case !os.IsNotExist(err):
			return fmt.Errorf("failed to read config %s: %w", c.Path, err)
		}
	}

	if c.StoreDir == "" {
		c.StoreDir = DefaultStoreDir()
	}
	if c.RegistryPath == "" {
		c.RegistryPath = DefaultRegistryPath()
	}
	return nil
}

// DefaultStoreDir returns the default local store directory.
func DefaultStoreDir() string {
	if dir := os.Getenv("LOCKBOX_STORE_DIR"); dir != "" {
		return dir
	}
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "lockbox", "store")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "lockbox", "store")
	}
	return filepath.Join(os.TempDir(), "lockbox", "store")
}

// DefaultRegistryPath returns the default vault registry file.
func DefaultRegistryPath() string {
	if path := os.Getenv("LOCKBOX_REGISTRY"); path != "" {
		return path
	}
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "lockbox", "registry.json")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "lockbox", "registry.json")
	}
	return filepath.Join(os.TempDir(), "lockbox", "registry.json")
}
