// Package config provides configuration loading for doorvox.
//
// Configuration is read from a YAML file and overridden by environment
// variables with sensible defaults for everything.
package config

import (
	"fmt"
	"time"
)

// Config holds the complete doorvox configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Backend    BackendConfig    `koanf:"backend"`
	Extraction ExtractionConfig `koanf:"extraction"`
	Upload     UploadConfig     `koanf:"upload"`
	Capture    CaptureConfig    `koanf:"capture"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ServerConfig holds the local HTTP API configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// BackendConfig holds the estimate backend sync settings.
type BackendConfig struct {
	// BaseURL is the estimate store the canonical door lists sync to.
	BaseURL string `koanf:"base_url"`

	// MaxRetries is the number of extra sync attempts after the first.
	MaxRetries int `koanf:"max_retries"`

	// DegradedHosts lists endpoints known to be unstable; syncs against
	// them run with longer timeouts and backoff.
	DegradedHosts []string `koanf:"degraded_hosts"`
}

// ExtractionConfig holds the speech service settings.
type ExtractionConfig struct {
	BaseURL string        `koanf:"base_url"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout"`
}

// UploadConfig holds the storage gateway settings.
type UploadConfig struct {
	BaseURL string `koanf:"base_url"`
}

// CaptureConfig holds local recording settings.
type CaptureConfig struct {
	// Device is the capture device node. Empty or missing falls back to
	// manual file attachment.
	Device string `koanf:"device"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8321
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Backend.MaxRetries == 0 {
		cfg.Backend.MaxRetries = 5
	}
	if cfg.Extraction.Timeout == 0 {
		cfg.Extraction.Timeout = 60 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Extraction.BaseURL == "" {
		return fmt.Errorf("extraction.base_url is required")
	}
	if c.Upload.BaseURL == "" {
		return fmt.Errorf("upload.base_url is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
