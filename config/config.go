// Package config provides unified configuration loading for consentflow:
// defaults, then a YAML file, then CONSENTFLOW_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/consentflow/browser"
	"github.com/BaSui01/consentflow/consent"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "CONSENTFLOW"

// Config is the full consentflow configuration.
type Config struct {
	Store     consent.StoreConfig `yaml:"store"`
	Browser   browser.Config      `yaml:"browser"`
	Consent   consent.Options     `yaml:"consent"`
	Log       LogConfig           `yaml:"log"`
	Telemetry TelemetryConfig     `yaml:"telemetry"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format: json or console.
	Format string `yaml:"format"`
}

// TelemetryConfig configures the OpenTelemetry trace exporter.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"service_name"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
}

// Default returns the full default configuration.
func Default() Config {
	return Config{
		Store:   consent.DefaultStoreConfig(),
		Browser: browser.DefaultConfig(),
		Consent: consent.DefaultOptions(),
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "consentflow",
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
	}
}

// Load builds the configuration: defaults, overlaid by the YAML file at path
// (skipped when path is empty), overlaid by environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overlays CONSENTFLOW_* variables onto the config. Unparsable
// values are ignored; env overrides are a convenience, not a schema.
func applyEnv(cfg *Config) {
	envString(&cfg.Store.Path, "STORE_PATH")
	envInt(&cfg.Store.MaxPatternsPerDomain, "STORE_MAX_PATTERNS_PER_DOMAIN")

	envBool(&cfg.Browser.Headless, "BROWSER_HEADLESS")
	envInt(&cfg.Browser.ViewportWidth, "BROWSER_VIEWPORT_WIDTH")
	envInt(&cfg.Browser.ViewportHeight, "BROWSER_VIEWPORT_HEIGHT")
	envDuration(&cfg.Browser.Timeout, "BROWSER_TIMEOUT")
	envString(&cfg.Browser.UserAgent, "BROWSER_USER_AGENT")
	envString(&cfg.Browser.ProxyURL, "BROWSER_PROXY_URL")

	envFloat(&cfg.Consent.MinScore, "CONSENT_MIN_SCORE")
	envDuration(&cfg.Consent.LearnedTimeout, "CONSENT_LEARNED_TIMEOUT")
	envDuration(&cfg.Consent.FallbackTimeout, "CONSENT_FALLBACK_TIMEOUT")
	envDuration(&cfg.Consent.OverallTimeout, "CONSENT_OVERALL_TIMEOUT")

	envString(&cfg.Log.Level, "LOG_LEVEL")
	envString(&cfg.Log.Format, "LOG_FORMAT")

	envBool(&cfg.Telemetry.Enabled, "TELEMETRY_ENABLED")
	envString(&cfg.Telemetry.ServiceName, "TELEMETRY_SERVICE_NAME")
	envString(&cfg.Telemetry.OTLPEndpoint, "TELEMETRY_OTLP_ENDPOINT")
	envFloat(&cfg.Telemetry.SampleRate, "TELEMETRY_SAMPLE_RATE")
}

func lookup(key string) (string, bool) {
	return os.LookupEnv(EnvPrefix + "_" + key)
}

func envString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v, ok := lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(dst *bool, key string) {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(dst *time.Duration, key string) {
	if v, ok := lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
