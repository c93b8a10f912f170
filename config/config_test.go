package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Storage.Backend != BackendBadger {
		t.Errorf("expected default backend badger, got %s", cfg.Storage.Backend)
	}
	if cfg.Propagation.MaxHops != 5 {
		t.Errorf("expected default max hops 5, got %d", cfg.Propagation.MaxHops)
	}
	if cfg.Propagation.Partitions != 4 {
		t.Errorf("expected default partitions 4, got %d", cfg.Propagation.Partitions)
	}
	if !cfg.NATS.Embedded {
		t.Error("expected embedded NATS by default")
	}
	if cfg.Export.Profile != "compact" {
		t.Errorf("expected default export profile compact, got %s", cfg.Export.Profile)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "unknown backend",
			modify:  func(c *Config) { c.Storage.Backend = "redis" },
			wantErr: true,
		},
		{
			name: "badger without path",
			modify: func(c *Config) {
				c.Storage.Path = ""
				c.Storage.InMemory = false
			},
			wantErr: true,
		},
		{
			name: "badger in-memory without path",
			modify: func(c *Config) {
				c.Storage.Path = ""
				c.Storage.InMemory = true
			},
			wantErr: false,
		},
		{
			name:    "nats backend needs no path",
			modify:  func(c *Config) { c.Storage.Backend = BackendNATS; c.Storage.Path = "" },
			wantErr: false,
		},
		{
			name:    "zero max hops",
			modify:  func(c *Config) { c.Propagation.MaxHops = 0 },
			wantErr: true,
		},
		{
			name:    "zero partitions",
			modify:  func(c *Config) { c.Propagation.Partitions = 0 },
			wantErr: true,
		},
		{
			name:    "unknown export format",
			modify:  func(c *Config) { c.Export.Format = "xml" },
			wantErr: true,
		},
		{
			name:    "unknown export profile",
			modify:  func(c *Config) { c.Export.Profile = "tiny" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	// Create temp file with config
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
storage:
  backend: "nats"
nats:
  url: "nats://test:4222"
propagation:
  max_hops: 3
  partitions: 8
  drain_timeout: 1m
staleness:
  rules_path: "/etc/tenet/rules.yaml"
  watch: true
export:
  format: "table"
  profile: "full"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Storage.Backend != BackendNATS {
		t.Errorf("expected backend nats, got %s", cfg.Storage.Backend)
	}
	if cfg.NATS.URL != "nats://test:4222" {
		t.Errorf("expected NATS URL nats://test:4222, got %s", cfg.NATS.URL)
	}
	if cfg.Propagation.MaxHops != 3 {
		t.Errorf("expected max hops 3, got %d", cfg.Propagation.MaxHops)
	}
	if cfg.Propagation.Partitions != 8 {
		t.Errorf("expected partitions 8, got %d", cfg.Propagation.Partitions)
	}
	if cfg.Propagation.DrainTimeout != time.Minute {
		t.Errorf("expected drain timeout 1m, got %v", cfg.Propagation.DrainTimeout)
	}
	if cfg.Staleness.RulesPath != "/etc/tenet/rules.yaml" {
		t.Errorf("expected rules path /etc/tenet/rules.yaml, got %s", cfg.Staleness.RulesPath)
	}
	if !cfg.Staleness.Watch {
		t.Error("expected staleness watch enabled")
	}
	if cfg.Export.Format != "table" {
		t.Errorf("expected export format table, got %s", cfg.Export.Format)
	}
	if cfg.Export.Profile != "full" {
		t.Errorf("expected export profile full, got %s", cfg.Export.Profile)
	}
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		NATS: NATSConfig{
			URL: "nats://override:4222",
		},
		Propagation: PropagationConfig{
			MaxHops: 2,
		},
	}

	base.Merge(override)

	if base.NATS.URL != "nats://override:4222" {
		t.Errorf("expected NATS URL nats://override:4222, got %s", base.NATS.URL)
	}
	if base.NATS.Embedded {
		t.Error("expected embedded NATS disabled when URL is set")
	}
	if base.Propagation.MaxHops != 2 {
		t.Errorf("expected max hops 2, got %d", base.Propagation.MaxHops)
	}
	// Partitions should remain from base since override didn't set it
	if base.Propagation.Partitions != 4 {
		t.Errorf("expected partitions to remain default, got %d", base.Propagation.Partitions)
	}
}

func TestConfigSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.Propagation.MaxHops = 7

	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	// Verify file was created
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	// Load and verify
	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.Propagation.MaxHops != 7 {
		t.Errorf("expected max hops 7, got %d", loaded.Propagation.MaxHops)
	}
}
