package changeworker

import "testing"

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing stream",
			modify:  func(c *Config) { c.StreamName = "" },
			wantErr: true,
		},
		{
			name:    "missing consumer prefix",
			modify:  func(c *Config) { c.ConsumerPrefix = "" },
			wantErr: true,
		},
		{
			name:    "zero partitions",
			modify:  func(c *Config) { c.Partitions = 0 },
			wantErr: true,
		},
		{
			name:    "zero max hops",
			modify:  func(c *Config) { c.MaxHops = 0 },
			wantErr: true,
		},
		{
			name:    "watch without rules path",
			modify:  func(c *Config) { c.WatchRules = true },
			wantErr: true,
		},
		{
			name: "watch with rules path",
			modify: func(c *Config) {
				c.WatchRules = true
				c.RulesPath = "/etc/tenet/rules.yaml"
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
