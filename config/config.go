package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config contains runtime configuration values for the datastore filesystem.
type Config struct {
	LogLvl int // Log verbosity; see internal/util log levels (Default info)

	BlockSize    int  // Block size for newly created files in bytes (Default 128KB)
	WriteThrough bool // Flush inside a datastore transaction (Default false)

	StoreDir  string // Root directory for the disk-backed store; empty selects the in-memory store
	LocalRoot string // Local directory shadowed into the namespace; empty disables the overlay

	MountOptions MountOptions
}

// ConfigOverride uses pointer fields to distinguish between unset and zero
// values when loading partial configuration. See [Config] for field descriptions.
type ConfigOverride struct {
	LogLvl       *int    `yaml:"log_level,omitempty" json:"log_level,omitempty"`
	BlockSize    *int    `yaml:"block_size,omitempty" json:"block_size,omitempty"`
	WriteThrough *bool   `yaml:"write_through,omitempty" json:"write_through,omitempty"`
	StoreDir     *string `yaml:"store_dir,omitempty" json:"store_dir,omitempty"`
	LocalRoot    *string `yaml:"local_root,omitempty" json:"local_root,omitempty"`
}

// NewDefaultConfig creates a new Config with all default values.
func NewDefaultConfig() *Config {
	return &Config{
		LogLvl:       2, // info
		BlockSize:    DefaultBlockSize,
		WriteThrough: DefaultWriteThrough,
	}
}

// NewConfig creates a Config from defaults with the override applied.
func NewConfig(override *ConfigOverride) *Config {
	cfg := NewDefaultConfig()
	if override != nil {
		cfg.Merge(override)
	}
	return cfg
}

// Merge applies non-nil values from override onto this Config.
// This allows partial configuration updates while preserving existing values.
func (c *Config) Merge(override *ConfigOverride) {
	if override.LogLvl != nil {
		c.LogLvl = *override.LogLvl
	}
	if override.BlockSize != nil {
		c.BlockSize = *override.BlockSize
	}
	if override.WriteThrough != nil {
		c.WriteThrough = *override.WriteThrough
	}
	if override.StoreDir != nil {
		c.StoreDir = *override.StoreDir
	}
	if override.LocalRoot != nil {
		c.LocalRoot = *override.LocalRoot
	}
}

// CheckBlockSize validates a per-file block size against the permitted
// range and returns it unchanged on success.
func CheckBlockSize(size int) (int, error) {
	if size < MinBlockSize || size > MaxBlockSize {
		return 0, fmt.Errorf("block size %d outside permitted range [%d, %d]",
			size, MinBlockSize, MaxBlockSize)
	}
	return size, nil
}

// LoadConfigOverrideFile loads configuration overrides from a file without merging.
// Supports both YAML (.yaml, .yml) and JSON (.json) formats.
func LoadConfigOverrideFile(path string) (*ConfigOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var override ConfigOverride

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config file extension: %s", path)
	}

	return &override, nil
}

// NewConfigFromFile creates a new Config by merging file overrides with defaults.
func NewConfigFromFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	override, err := LoadConfigOverrideFile(path)
	if err != nil {
		return nil, err
	}
	cfg.Merge(override)
	return cfg, nil
}
