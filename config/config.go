// Package config provides configuration loading and management for Tenet.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tenetgraph/tenet/export"
)

// Config represents the complete Tenet configuration
type Config struct {
	Storage     StorageConfig     `yaml:"storage"`
	NATS        NATSConfig        `yaml:"nats"`
	Propagation PropagationConfig `yaml:"propagation"`
	Staleness   StalenessConfig   `yaml:"staleness"`
	Export      ExportConfig      `yaml:"export"`
}

// StorageConfig configures the record store backend
type StorageConfig struct {
	// Backend selects the key-value backend: "badger" or "nats"
	Backend string `yaml:"backend"`
	// Path is the Badger data directory (ignored for the nats backend)
	Path string `yaml:"path"`
	// InMemory runs Badger without persistence (testing only)
	InMemory bool `yaml:"in_memory"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server)
	URL string `yaml:"url"`
	// Embedded indicates whether to use embedded NATS
	Embedded bool `yaml:"embedded"`
}

// PropagationConfig configures change propagation
type PropagationConfig struct {
	// MaxHops bounds how far a change cascades through the reference graph
	MaxHops int `yaml:"max_hops"`
	// Partitions is the number of serial change-processing partitions
	Partitions int `yaml:"partitions"`
	// DrainTimeout bounds how long shutdown waits for in-flight cascades
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// StalenessConfig configures the staleness detector
type StalenessConfig struct {
	// RulesPath points to a YAML field-sensitivity rules file
	// (empty = built-in defaults)
	RulesPath string `yaml:"rules_path"`
	// Watch reloads the rules file on change
	Watch bool `yaml:"watch"`
}

// ExportConfig configures snapshot export defaults
type ExportConfig struct {
	// Format is the default output format: "json" or "table"
	Format string `yaml:"format"`
	// Profile is the default condensation profile: "full" or "compact"
	Profile string `yaml:"profile"`
}

// Backend names for StorageConfig.
const (
	BackendBadger = "badger"
	BackendNATS   = "nats"
)

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: BackendBadger,
			Path:    "data/tenet",
		},
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
		Propagation: PropagationConfig{
			MaxHops:      5,
			Partitions:   4,
			DrainTimeout: 30 * time.Second,
		},
		Staleness: StalenessConfig{
			RulesPath: "",
			Watch:     false,
		},
		Export: ExportConfig{
			Format:  string(export.FormatJSON),
			Profile: string(export.ProfileCompact),
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendBadger:
		if c.Storage.Path == "" && !c.Storage.InMemory {
			return fmt.Errorf("storage.path is required for the badger backend")
		}
	case BackendNATS:
		// Bucket storage rides the NATS connection; nothing local to check.
	default:
		return fmt.Errorf("storage.backend must be %q or %q", BackendBadger, BackendNATS)
	}
	if c.Propagation.MaxHops < 1 {
		return fmt.Errorf("propagation.max_hops must be at least 1")
	}
	if c.Propagation.Partitions < 1 {
		return fmt.Errorf("propagation.partitions must be at least 1")
	}
	if !export.ValidFormat(export.Format(c.Export.Format)) {
		return fmt.Errorf("export.format %q is not recognized", c.Export.Format)
	}
	if !export.ValidProfile(export.Profile(c.Export.Profile)) {
		return fmt.Errorf("export.profile %q is not recognized", c.Export.Profile)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Storage
	if other.Storage.Backend != "" {
		c.Storage.Backend = other.Storage.Backend
	}
	if other.Storage.Path != "" {
		c.Storage.Path = other.Storage.Path
	}
	if other.Storage.InMemory {
		c.Storage.InMemory = true
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}

	// Propagation
	if other.Propagation.MaxHops != 0 {
		c.Propagation.MaxHops = other.Propagation.MaxHops
	}
	if other.Propagation.Partitions != 0 {
		c.Propagation.Partitions = other.Propagation.Partitions
	}
	if other.Propagation.DrainTimeout != 0 {
		c.Propagation.DrainTimeout = other.Propagation.DrainTimeout
	}

	// Staleness
	if other.Staleness.RulesPath != "" {
		c.Staleness.RulesPath = other.Staleness.RulesPath
	}
	if other.Staleness.Watch {
		c.Staleness.Watch = true
	}

	// Export
	if other.Export.Format != "" {
		c.Export.Format = other.Export.Format
	}
	if other.Export.Profile != "" {
		c.Export.Profile = other.Export.Profile
	}
}
