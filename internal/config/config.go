package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Library  LibraryConfig  `toml:"library"`
	Logging  LoggingConfig  `toml:"logging"`
	Sync     SyncConfig     `toml:"sync"`
	Client   ClientConfig   `toml:"client"`
	Ngrok    NgrokConfig    `toml:"ngrok"`
}

// ServerConfig contains room server configuration
type ServerConfig struct {
	Port            string `toml:"port"`
	Host            string `toml:"host"`
	EnableCORS      bool   `toml:"enable_cors"`
	ReadTimeout     int    `toml:"read_timeout_seconds"`
	PublicURL       string `toml:"public_url"`
	SessionTimeout  int    `toml:"session_timeout_seconds"`
	WebsocketBuffer int    `toml:"websocket_buffer"`
}

// DatabaseConfig contains database-related configuration
type DatabaseConfig struct {
	Path           string `toml:"path"`
	MaxConnections int    `toml:"max_connections"`
}

// LibraryConfig describes the local song catalog served to rooms
type LibraryConfig struct {
	Path             string   `toml:"path"`
	SupportedFormats []string `toml:"supported_formats"`
	WatchForChanges  bool     `toml:"watch_for_changes"`
	ScanOnStartup    bool     `toml:"scan_on_startup"`
	SearchCacheTTL   int      `toml:"search_cache_ttl_seconds"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level          string `toml:"level"`
	Format         string `toml:"format"`
	File           string `toml:"file"`
	RequestLogging bool   `toml:"request_logging"`
}

// SyncConfig holds the playback synchronization policy. Durations are in
// milliseconds, positions in seconds.
type SyncConfig struct {
	EchoWindowMs          int     `toml:"echo_window_ms"`
	ResyncThreshold       float64 `toml:"resync_threshold_seconds"`
	SeekThreshold         float64 `toml:"seek_threshold_seconds"`
	GrossDesync           float64 `toml:"gross_desync_seconds"`
	StaleStateAgeMs       int     `toml:"stale_state_age_ms"`
	DebounceMs            int     `toml:"debounce_ms"`
	SourceReadyTimeoutMs  int     `toml:"source_ready_timeout_ms"`
	RefreshReadyTimeoutMs int     `toml:"refresh_ready_timeout_ms"`
	PlayVerifyMs          int     `toml:"play_verify_ms"`
	AbortRetryMs          int     `toml:"abort_retry_ms"`
	RefreshAfterErrorMs   int     `toml:"refresh_after_error_ms"`
	StuckRecheckMs        int     `toml:"stuck_recheck_ms"`
	CorrectionIntervalMs  int     `toml:"correction_interval_ms"`
	HealthCheckIntervalMs int     `toml:"health_check_interval_ms"`
	StaleAfterMs          int     `toml:"stale_after_ms"`
	ReconnectDelayMs      int     `toml:"reconnect_delay_ms"`
	ProjectorIntervalMs   int     `toml:"projector_interval_ms"`
	DisplayStaleAfterMs   int     `toml:"display_stale_after_ms"`
	DisplayMaxDrift       float64 `toml:"display_max_drift_seconds"`
	DefaultLatencyMs      int     `toml:"default_latency_ms"`
}

// ClientConfig configures the headless listen-along client
type ClientConfig struct {
	ServerURL     string `toml:"server_url"`
	UserID        string `toml:"user_id"`
	AllowAutoplay bool   `toml:"allow_autoplay"`
	LoadDelayMs   int    `toml:"load_delay_ms"`
}

// NgrokConfig contains ngrok tunnel configuration
type NgrokConfig struct {
	Enabled   bool   `toml:"enabled"`
	AuthToken string `toml:"auth_token"`
	Domain    string `toml:"domain"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Host:            "0.0.0.0",
			EnableCORS:      true,
			ReadTimeout:     30,
			SessionTimeout:  120,
			WebsocketBuffer: 16,
		},
		Database: DatabaseConfig{
			Path:           "./unison.db",
			MaxConnections: 5,
		},
		Library: LibraryConfig{
			Path:             "./music",
			SupportedFormats: []string{".flac", ".mp3", ".wav", ".m4a"},
			WatchForChanges:  true,
			ScanOnStartup:    true,
			SearchCacheTTL:   300,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			RequestLogging: true,
		},
		Sync:   DefaultSyncConfig(),
		Client: ClientConfig{
			ServerURL:     "http://localhost:8080",
			AllowAutoplay: true,
			LoadDelayMs:   200,
		},
		Ngrok: NgrokConfig{
			Enabled: false,
		},
	}
}

// DefaultSyncConfig returns the tuned production synchronization policy
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		EchoWindowMs:          500,
		ResyncThreshold:       0.5,
		SeekThreshold:         1.0,
		GrossDesync:           10,
		StaleStateAgeMs:       10000,
		DebounceMs:            100,
		SourceReadyTimeoutMs:  1000,
		RefreshReadyTimeoutMs: 3000,
		PlayVerifyMs:          100,
		AbortRetryMs:          500,
		RefreshAfterErrorMs:   1000,
		StuckRecheckMs:        1000,
		CorrectionIntervalMs:  2000,
		HealthCheckIntervalMs: 10000,
		StaleAfterMs:          30000,
		ReconnectDelayMs:      5000,
		ProjectorIntervalMs:   1000,
		DisplayStaleAfterMs:   15000,
		DisplayMaxDrift:       5,
		DefaultLatencyMs:      50,
	}
}

// LoadConfig loads configuration from a TOML file, then applies environment
// overrides (including a .env file in the working directory if present)
func LoadConfig(configPath string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
	} else if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyEnv(".env"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides selected keys from UNISON_* environment variables
func (c *Config) applyEnv(envFile string) error {
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if v := os.Getenv("UNISON_PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("UNISON_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("UNISON_LIBRARY_PATH"); v != "" {
		c.Library.Path = v
	}
	if v := os.Getenv("UNISON_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("UNISON_SERVER_URL"); v != "" {
		c.Client.ServerURL = v
	}
	if v := os.Getenv("UNISON_ALLOW_AUTOPLAY"); v != "" {
		allow, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid UNISON_ALLOW_AUTOPLAY: %w", err)
		}
		c.Client.AllowAutoplay = allow
	}
	if c.Ngrok.AuthToken == "" {
		c.Ngrok.AuthToken = os.Getenv("NGROK_AUTHTOKEN")
	}
	return nil
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	header := `# Unison Room Server Configuration
# Shared by roomd (room state server) and unison (listen-along client).
# The [sync] section tunes playback synchronization; the defaults are the
# production thresholds and rarely need changing.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database max connections must be at least 1")
	}

	if len(c.Library.SupportedFormats) == 0 {
		return fmt.Errorf("at least one supported audio format must be specified")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return c.Sync.Validate()
}

// Validate checks the synchronization thresholds for consistency
func (s *SyncConfig) Validate() error {
	if s.ResyncThreshold <= 0 || s.SeekThreshold <= 0 {
		return fmt.Errorf("sync thresholds must be positive")
	}
	// The resync trigger must be at least as sensitive as the seek correction,
	// otherwise corrections would never be triggered by time drift alone.
	if s.ResyncThreshold > s.SeekThreshold {
		return fmt.Errorf("resync threshold (%.2fs) must not exceed seek threshold (%.2fs)", s.ResyncThreshold, s.SeekThreshold)
	}
	if s.GrossDesync < s.SeekThreshold {
		return fmt.Errorf("gross desync (%.2fs) must not be below seek threshold (%.2fs)", s.GrossDesync, s.SeekThreshold)
	}

	intervals := map[string]int{
		"echo_window_ms":           s.EchoWindowMs,
		"debounce_ms":              s.DebounceMs,
		"source_ready_timeout_ms":  s.SourceReadyTimeoutMs,
		"refresh_ready_timeout_ms": s.RefreshReadyTimeoutMs,
		"correction_interval_ms":   s.CorrectionIntervalMs,
		"health_check_interval_ms": s.HealthCheckIntervalMs,
		"stale_after_ms":           s.StaleAfterMs,
		"reconnect_delay_ms":       s.ReconnectDelayMs,
		"projector_interval_ms":    s.ProjectorIntervalMs,
		"display_stale_after_ms":   s.DisplayStaleAfterMs,
	}
	for name, v := range intervals {
		if v <= 0 {
			return fmt.Errorf("sync %s must be positive", name)
		}
	}
	if s.DisplayMaxDrift <= 0 {
		return fmt.Errorf("sync display_max_drift_seconds must be positive")
	}
	if s.DefaultLatencyMs < 0 {
		return fmt.Errorf("sync default_latency_ms must not be negative")
	}

	return nil
}

// GetAddress returns the full server address
func (c *Config) GetAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

// IsFormatSupported checks if an audio format is supported
func (c *Config) IsFormatSupported(format string) bool {
	for _, supported := range c.Library.SupportedFormats {
		if supported == format {
			return true
		}
	}
	return false
}
