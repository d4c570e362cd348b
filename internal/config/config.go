// Package config loads and validates the bridge runtime configuration from a
// YAML file and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/favloyalty/widgetbridge/model"
)

// Config is the root runtime configuration for the bridge daemon.
type Config struct {
	Widget        WidgetConfig        `yaml:"widget"`
	Backend       BackendConfig       `yaml:"backend"`
	Session       SessionConfig       `yaml:"session"`
	Protocol      ProtocolConfig      `yaml:"protocol"`
	Harness       HarnessConfig       `yaml:"harness"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// WidgetConfig carries the loader's built-in defaults: the lowest-priority
// source in configuration resolution.
type WidgetConfig struct {
	WidgetURL string `yaml:"widget_url"`
	APIURL    string `yaml:"api_url"`
	Position  string `yaml:"position"`
}

// BackendConfig describes the loyalty backend REST collaborator.
type BackendConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig describes circuit breaker thresholds for backend calls.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

// SessionConfig describes the session-scoped cache.
type SessionConfig struct {
	// Driver is "memory" or "redis".
	Driver  string        `yaml:"driver"`
	AddrEnv string        `yaml:"addr_env"`
	DB      int           `yaml:"db"`
	TTL     time.Duration `yaml:"ttl"`
}

// ProtocolConfig describes cross-frame protocol timings.
type ProtocolConfig struct {
	// SignOutCheckInterval is the period of the host-side identity re-check
	// while the widget is open.
	SignOutCheckInterval time.Duration `yaml:"sign_out_check_interval"`
	// RoundTripTimeout bounds host-mediated round-trips (newsletter, coupon).
	RoundTripTimeout time.Duration `yaml:"round_trip_timeout"`
}

// HarnessConfig describes the headless harness HTTP server.
type HarnessConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Widget: WidgetConfig{
			Position: string(model.DefaultPlacement),
		},
		Backend: BackendConfig{
			Timeout: 10 * time.Second,
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				OpenTimeout:      30 * time.Second,
			},
		},
		Session: SessionConfig{
			Driver: "memory",
			TTL:    30 * time.Minute,
		},
		Protocol: ProtocolConfig{
			SignOutCheckInterval: 10 * time.Second,
			RoundTripTimeout:     15 * time.Second,
		},
		Harness: HarnessConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides, and
// validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid. A missing
// widget URL is the one fatal configuration error; missing store or API
// fields only degrade the widget to anonymous mode at runtime.
func (c *Config) Validate() error {
	var errs []string

	if c.Widget.WidgetURL == "" {
		errs = append(errs, "widget.widget_url is required")
	}
	if c.Harness.Port < 1 || c.Harness.Port > 65535 {
		errs = append(errs, "harness.port must be between 1 and 65535")
	}
	switch c.Session.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("session.driver %q is not supported", c.Session.Driver))
	}
	if c.Protocol.SignOutCheckInterval <= 0 {
		errs = append(errs, "protocol.sign_out_check_interval must be positive")
	}
	if c.Protocol.RoundTripTimeout <= 0 {
		errs = append(errs, "protocol.round_trip_timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads FAVBRIDGE_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FAVBRIDGE_WIDGET_URL"); v != "" {
		cfg.Widget.WidgetURL = v
	}
	if v := os.Getenv("FAVBRIDGE_API_URL"); v != "" {
		cfg.Widget.APIURL = v
	}
	if v := os.Getenv("FAVBRIDGE_HARNESS_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Harness.Port = port
		}
	}
	if v := os.Getenv("FAVBRIDGE_SESSION_DRIVER"); v != "" {
		cfg.Session.Driver = v
	}
	if v := os.Getenv("FAVBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
