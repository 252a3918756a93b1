package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Expected default config file to be written: %v", err)
	}
	if cfg.Sync.ResyncThreshold != 0.5 || cfg.Sync.SeekThreshold != 1.0 {
		t.Errorf("Unexpected sync thresholds: resync=%v seek=%v", cfg.Sync.ResyncThreshold, cfg.Sync.SeekThreshold)
	}

	// A second load must read the written file back unchanged
	again, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Reloading config failed: %v", err)
	}
	if again.GetAddress() != cfg.GetAddress() {
		t.Errorf("Expected address %s, got %s", cfg.GetAddress(), again.GetAddress())
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
port = "9090"
host = "127.0.0.1"

[logging]
level = "debug"
format = "json"

[sync]
resync_threshold_seconds = 0.25
seek_threshold_seconds = 0.75
display_stale_after_ms = 20000
display_max_drift_seconds = 2.5
default_latency_ms = 80
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	t.Setenv("UNISON_LIBRARY_PATH", "/srv/music")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.GetAddress() != "127.0.0.1:9090" {
		t.Errorf("Expected 127.0.0.1:9090, got %s", cfg.GetAddress())
	}
	if cfg.Sync.ResyncThreshold != 0.25 || cfg.Sync.SeekThreshold != 0.75 {
		t.Errorf("Sync overrides not applied: %+v", cfg.Sync)
	}
	if cfg.Sync.DisplayStaleAfterMs != 20000 || cfg.Sync.DisplayMaxDrift != 2.5 || cfg.Sync.DefaultLatencyMs != 80 {
		t.Errorf("Display policy overrides not applied: %+v", cfg.Sync)
	}
	// Untouched keys keep their defaults
	if cfg.Sync.DebounceMs != 100 {
		t.Errorf("Expected default debounce 100ms, got %d", cfg.Sync.DebounceMs)
	}
	if cfg.Library.Path != "/srv/music" {
		t.Errorf("Expected env override for library path, got %s", cfg.Library.Path)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"empty port", func(c *Config) { c.Server.Port = "" }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"resync above seek", func(c *Config) { c.Sync.ResyncThreshold = 2 }, true},
		{"gross desync below seek", func(c *Config) { c.Sync.GrossDesync = 0.5 }, true},
		{"zero debounce", func(c *Config) { c.Sync.DebounceMs = 0 }, true},
		{"zero display staleness", func(c *Config) { c.Sync.DisplayStaleAfterMs = 0 }, true},
		{"zero display drift", func(c *Config) { c.Sync.DisplayMaxDrift = 0 }, true},
		{"negative latency", func(c *Config) { c.Sync.DefaultLatencyMs = -1 }, true},
		{"zero latency", func(c *Config) { c.Sync.DefaultLatencyMs = 0 }, false},
		{"no formats", func(c *Config) { c.Library.SupportedFormats = nil }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("Expected validation error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected validation error: %v", err)
			}
		})
	}
}
