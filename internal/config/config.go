// Package config handles YAML configuration loading and validation for the
// grid trading engine process.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete process configuration.
type Config struct {
	App       AppConfig                 `yaml:"app"`
	Venues    map[string]VenueConfig    `yaml:"venues"`
	Defaults  TradingDefaultsConfig     `yaml:"trading_defaults"`
	System    SystemConfig              `yaml:"system"`
	Timing    TimingConfig              `yaml:"timing"`
	Proxy     ProxyConfig               `yaml:"proxy"`
	Telemetry TelemetryConfig           `yaml:"telemetry"`
}

// AppConfig contains process-level settings.
type AppConfig struct {
	CurrentVenue string `yaml:"current_venue" validate:"required"`
	DatabasePath string `yaml:"database_path" validate:"required"`
}

// VenueConfig is per-venue credentials and endpoints.
type VenueConfig struct {
	APIKey    string `yaml:"api_key" validate:"required"`
	APISecret string `yaml:"api_secret" validate:"required"`
	RESTBaseURL string `yaml:"rest_base_url" validate:"required"`
	WSBaseURL   string `yaml:"ws_base_url" validate:"required"`
	TestMode    bool   `yaml:"test_mode"`
}

// TradingDefaultsConfig is the Parameter Oracle's deterministic fallback
// (§4.8) plus the Bot Controller's safety fee. Validate checks only that
// FallbackGridLevels is at least 2 and FallbackProfitPct is positive; the
// `validate` tags are not enforced by any code in this module.
type TradingDefaultsConfig struct {
	FallbackBandPercent float64 `yaml:"fallback_band_percent" validate:"min=0.1,max=90"`
	FallbackGridLevels  int     `yaml:"fallback_grid_levels" validate:"min=2,max=100"`
	FallbackProfitPct   float64 `yaml:"fallback_profit_pct" validate:"min=0.01,max=50"`
	SafetyFeePercent    float64 `yaml:"safety_fee_percent" validate:"min=0,max=5"`
}

// SystemConfig contains system-wide knobs.
type SystemConfig struct {
	LogLevel       string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
	ShutdownGraceSeconds int `yaml:"shutdown_grace_seconds" validate:"min=1,max=300"`
}

// TimingConfig contains interval settings (§6 configuration).
type TimingConfig struct {
	ClockSyncIntervalSeconds        int `yaml:"clock_sync_interval_seconds" validate:"min=1,max=3600"`
	ReconcileTickSeconds             int `yaml:"reconcile_tick_seconds" validate:"min=1,max=3600"`
	ListenKeyRefreshMinutes          int `yaml:"listen_key_refresh_minutes" validate:"min=1,max=120"`
	VenueCallTimeoutSeconds          int `yaml:"venue_call_timeout_seconds" validate:"min=1,max=120"`
	WebsocketPingIntervalSeconds     int `yaml:"websocket_ping_interval_seconds" validate:"min=1,max=300"`
}

// ProxyConfig configures the process-wide Proxy Pool (§4.7).
type ProxyConfig struct {
	Endpoints            []string `yaml:"endpoints"`
	CooldownBaseSeconds  int      `yaml:"cooldown_base_seconds" validate:"min=1,max=300"`
	CooldownMaxSeconds   int      `yaml:"cooldown_max_seconds" validate:"min=1,max=3600"`
}

// TelemetryConfig contains metrics server settings.
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ValidationError represents one configuration field failure.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// Load reads, expands, parses, and validates a YAML config file.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate collects and joins every field-level error.
func (c *Config) Validate() error {
	var errs []string

	if err := c.validateApp(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateVenues(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateDefaults(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateSystem(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (c *Config) validateApp() error {
	if c.App.CurrentVenue == "" {
		return ValidationError{Field: "app.current_venue", Message: "a venue must be selected"}
	}
	if _, ok := c.Venues[c.App.CurrentVenue]; !ok {
		return ValidationError{Field: "app.current_venue", Value: c.App.CurrentVenue, Message: "venue configuration not found in venues section"}
	}
	if c.App.DatabasePath == "" {
		return ValidationError{Field: "app.database_path", Message: "a persistence store path is required"}
	}
	return nil
}

func (c *Config) validateVenues() error {
	if len(c.Venues) == 0 {
		return ValidationError{Field: "venues", Message: "at least one venue must be configured"}
	}
	for name, v := range c.Venues {
		if v.APIKey == "" {
			return ValidationError{Field: fmt.Sprintf("venues.%s.api_key", name), Message: "API key is required"}
		}
		if v.APISecret == "" {
			return ValidationError{Field: fmt.Sprintf("venues.%s.api_secret", name), Message: "API secret is required"}
		}
		if v.RESTBaseURL == "" {
			return ValidationError{Field: fmt.Sprintf("venues.%s.rest_base_url", name), Message: "REST base URL is required"}
		}
	}
	return nil
}

func (c *Config) validateDefaults() error {
	if c.Defaults.FallbackGridLevels < 2 {
		return ValidationError{Field: "trading_defaults.fallback_grid_levels", Value: c.Defaults.FallbackGridLevels, Message: "must be at least 2"}
	}
	if c.Defaults.FallbackProfitPct <= 0 {
		return ValidationError{Field: "trading_defaults.fallback_profit_pct", Value: c.Defaults.FallbackProfitPct, Message: "must be positive"}
	}
	return nil
}

func (c *Config) validateSystem() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{Field: "system.log_level", Value: c.System.LogLevel, Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", "))}
	}
	return nil
}

// CurrentVenueConfig returns the VenueConfig for App.CurrentVenue.
func (c *Config) CurrentVenueConfig() (VenueConfig, error) {
	v, ok := c.Venues[c.App.CurrentVenue]
	if !ok {
		return VenueConfig{}, fmt.Errorf("venue configuration not found for: %s", c.App.CurrentVenue)
	}
	return v, nil
}

// String renders the configuration with credentials masked, safe for logs.
func (c *Config) String() string {
	cp := *c
	cp.Venues = make(map[string]VenueConfig, len(c.Venues))
	for name, v := range c.Venues {
		v.APIKey = maskString(v.APIKey)
		v.APISecret = maskString(v.APISecret)
		cp.Venues[name] = v
	}
	data, _ := yaml.Marshal(cp)
	return string(data)
}

func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// Default returns a configuration suitable for local/test use.
func Default() *Config {
	return &Config{
		App: AppConfig{
			CurrentVenue: "binance",
			DatabasePath: "./gridbot.db",
		},
		Venues: map[string]VenueConfig{
			"binance": {
				APIKey:      "test_api_key",
				APISecret:   "test_api_secret",
				RESTBaseURL: "https://testnet.binance.vision",
				WSBaseURL:   "wss://testnet.binance.vision/ws",
				TestMode:    true,
			},
		},
		Defaults: TradingDefaultsConfig{
			FallbackBandPercent: 5,
			FallbackGridLevels:  10,
			FallbackProfitPct:   1,
			SafetyFeePercent:    0.1,
		},
		System: SystemConfig{
			LogLevel:             "INFO",
			ShutdownGraceSeconds: 30,
		},
		Timing: TimingConfig{
			ClockSyncIntervalSeconds:    300,
			ReconcileTickSeconds:        60,
			ListenKeyRefreshMinutes:     30,
			VenueCallTimeoutSeconds:     10,
			WebsocketPingIntervalSeconds: 180,
		},
		Proxy: ProxyConfig{
			CooldownBaseSeconds: 30,
			CooldownMaxSeconds:  300,
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
	}
}
