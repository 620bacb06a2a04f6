package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when the config file leaves them unset.
const (
	DefaultAddress         = "0.0.0.0"
	DefaultHTTPPort        = 5244
	DefaultUnixFilePerm    = "777"
	DefaultShutdownTimeout = 5 * time.Second
	DefaultGracePeriod     = 2500 * time.Millisecond
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values (0, "", false) are replaced with defaults; explicit values
// are preserved. Note the listener ports use -1 as the "disabled" sentinel,
// so 0 means "unset" and gets the default, while -1 survives untouched.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applySchemeDefaults(&cfg.Scheme)

	// DataDir has no default: the bridge injects the host's directory
	// when neither the file nor the environment set one.
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Integrity.GracePeriod == 0 {
		cfg.Integrity.GracePeriod = DefaultGracePeriod
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applySchemeDefaults sets listener defaults.
func applySchemeDefaults(cfg *SchemeConfig) {
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = DefaultHTTPPort
	}
	if cfg.HTTPSPort == 0 {
		cfg.HTTPSPort = -1
	}
	if cfg.UnixFilePerm == "" {
		cfg.UnixFilePerm = DefaultUnixFilePerm
	}
}

// GetDefaultConfig returns a fully defaulted configuration.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// WriteDefault renders the default configuration as YAML to the given path.
// It refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	data, err := yaml.Marshal(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to render default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
