package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config is the static configuration of the embedded server.
//
// The embedding host typically ships a config file inside its data
// directory; every option can also be overridden through environment
// variables (FILEBRIDGE_* with underscores for nested keys, e.g.
// FILEBRIDGE_SCHEME_HTTP_PORT=8080).
//
// Configuration sources (in order of precedence):
//  1. Environment variables (FILEBRIDGE_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Scheme configures the network listeners (HTTP, HTTPS, unix socket).
	Scheme SchemeConfig `mapstructure:"scheme" yaml:"scheme"`

	// DataDir is the directory holding the persistent store and its
	// journal companions. Embedding hosts usually leave this empty and
	// let the bridge inject their app-private directory.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	// DelayedStart postpones listener startup after Start() is invoked.
	// Some hosts need a grace window before binding ports (e.g. waiting
	// for a VPN interface). Zero disables the delay.
	DelayedStart time.Duration `mapstructure:"delayed_start" yaml:"delayed_start"`

	// Server contains lifecycle tuning knobs.
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Integrity configures the post-shutdown journal verification.
	Integrity IntegrityConfig `mapstructure:"integrity" yaml:"integrity"`

	// Metrics contains Prometheus metrics configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR.
	// Default: INFO
	Level string `mapstructure:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is the log output format: text or json.
	// Default: text
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json" yaml:"format"`

	// Output is "stdout", "stderr", or a file path.
	// Default: stdout
	Output string `mapstructure:"output" yaml:"output"`
}

// SchemeConfig configures the network listeners sharing one router.
//
// A port of -1 disables the corresponding TCP listener; an empty
// UnixFile disables the unix-domain socket listener. All three may be
// disabled at once, in which case Start binds nothing.
type SchemeConfig struct {
	// Address is the bind address for the TCP listeners.
	// Default: 0.0.0.0
	Address string `mapstructure:"address" yaml:"address"`

	// HTTPPort is the plain HTTP port. -1 disables HTTP.
	// Default: 5244
	HTTPPort int `mapstructure:"http_port" validate:"min=-1,max=65535" yaml:"http_port"`

	// HTTPSPort is the TLS port. -1 disables HTTPS.
	// Default: -1
	HTTPSPort int `mapstructure:"https_port" validate:"min=-1,max=65535" yaml:"https_port"`

	// CertFile and KeyFile are the TLS certificate and key paths.
	// Required when HTTPSPort is enabled.
	CertFile string `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile  string `mapstructure:"key_file" yaml:"key_file"`

	// UnixFile is the unix-domain socket path. Empty disables it.
	UnixFile string `mapstructure:"unix_file" yaml:"unix_file"`

	// UnixFilePerm is the octal permission string applied to the socket
	// file after bind (e.g. "777").
	// Default: 777
	UnixFilePerm string `mapstructure:"unix_file_perm" yaml:"unix_file_perm"`
}

// HTTPEnabled reports whether the HTTP listener is configured.
func (s *SchemeConfig) HTTPEnabled() bool { return s.HTTPPort != -1 }

// HTTPSEnabled reports whether the HTTPS listener is configured.
func (s *SchemeConfig) HTTPSEnabled() bool { return s.HTTPSPort != -1 }

// UnixEnabled reports whether the unix socket listener is configured.
func (s *SchemeConfig) UnixEnabled() bool { return s.UnixFile != "" }

// SocketMode parses UnixFilePerm as an octal file mode.
func (s *SchemeConfig) SocketMode() (os.FileMode, error) {
	mode, err := strconv.ParseUint(s.UnixFilePerm, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid socket permission %q: %w", s.UnixFilePerm, err)
	}
	return os.FileMode(mode), nil
}

// ServerConfig contains lifecycle tuning knobs.
type ServerConfig struct {
	// ShutdownTimeout is the absolute deadline for graceful listener
	// teardown. In-flight requests past the deadline are dropped.
	// Default: 5s
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// IntegrityConfig configures the post-shutdown journal verification.
type IntegrityConfig struct {
	// GracePeriod is how long the verifier waits for the journal to
	// merge into the primary file before remediating.
	// Default: 2500ms
	GracePeriod time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled exposes lifecycle metrics on the shared router at /metrics.
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// DatabaseFile returns the path of the primary store file inside DataDir.
func (c *Config) DatabaseFile() string {
	return filepath.Join(c.DataDir, "data.db")
}

// Load reads configuration from the given file path, applying environment
// overrides and defaults. A missing file is not an error: defaults are
// returned so a host can start without shipping a config file.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures environment overrides and the config file location.
func setupViper(v *viper.Viper, configPath string) {
	// FILEBRIDGE_SCHEME_HTTP_PORT=8080 overrides scheme.http_port
	v.SetEnvPrefix("FILEBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
}

// readConfigFile reads the config file, reporting whether one was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns the decode hooks used when unmarshalling.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

// Validate checks the configuration for static errors.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	if cfg.Scheme.UnixFilePerm != "" {
		if _, err := cfg.Scheme.SocketMode(); err != nil {
			return err
		}
	}

	if cfg.Scheme.HTTPSEnabled() {
		if cfg.Scheme.CertFile == "" || cfg.Scheme.KeyFile == "" {
			return fmt.Errorf("https is enabled but cert_file/key_file are not set")
		}
	}

	if cfg.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %v", cfg.Server.ShutdownTimeout)
	}

	return nil
}
