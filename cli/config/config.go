// Package config provides configuration management for the funcpack CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Version is the config file format version
const Version = "1"

// Config represents the CLI configuration file
type Config struct {
	// Version of the config file format
	Version string `yaml:"version"`

	// Defaults for all commands
	Defaults Defaults `yaml:"defaults,omitempty"`
}

// Defaults contains default settings for commands. Command-line flags and
// FUNCPACK_* environment variables override these.
type Defaults struct {
	// Region is the target region for uploads and function updates
	Region string `yaml:"region,omitempty"`

	// Bucket is the artifact bucket for uploads
	Bucket string `yaml:"bucket,omitempty"`

	// Prefix is prepended to content-addressed keys
	Prefix string `yaml:"prefix,omitempty"`

	// Endpoint overrides the storage/function endpoint (for test stacks)
	Endpoint string `yaml:"endpoint,omitempty"`

	// TSConfig is the tsconfig.json used for TypeScript entries
	TSConfig string `yaml:"tsconfig,omitempty"`

	// Output format: table, json, yaml
	Output string `yaml:"output,omitempty"`
}

// DefaultConfigDir returns the default config directory path
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".funcpack"
	}
	return filepath.Join(home, ".funcpack")
}

// DefaultConfigPath returns the default config file path
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load reads the config file at path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	if cfg.Version == "" {
		cfg.Version = Version
	}

	return &cfg, nil
}

// LoadOrCreate reads the config file at path, returning an empty config
// when the file does not exist yet.
func LoadOrCreate(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{Version: Version}, nil
		}
		return nil, err
	}
	return cfg, nil
}

// Save writes the config file to path, creating the directory if needed
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
