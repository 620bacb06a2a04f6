package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return configPath
}

func TestLoad_DefaultsApplied(t *testing.T) {
	configPath := writeConfig(t, `
logging:
  level: "INFO"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.Scheme.Address != "0.0.0.0" {
		t.Errorf("Expected default address 0.0.0.0, got %q", cfg.Scheme.Address)
	}
	if cfg.Scheme.HTTPPort != 5244 {
		t.Errorf("Expected default http port 5244, got %d", cfg.Scheme.HTTPPort)
	}
	if cfg.Scheme.HTTPSPort != -1 {
		t.Errorf("Expected https disabled by default, got %d", cfg.Scheme.HTTPSPort)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected default shutdown_timeout 5s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Integrity.GracePeriod != 2500*time.Millisecond {
		t.Errorf("Expected default grace_period 2.5s, got %v", cfg.Integrity.GracePeriod)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Loading with no config file returns a valid default config so a
	// host can start without shipping one.
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected default config to be returned")
	}
	if cfg.Scheme.HTTPPort != DefaultHTTPPort {
		t.Errorf("Expected default http port %d, got %d", DefaultHTTPPort, cfg.Scheme.HTTPPort)
	}
}

func TestLoad_DisabledListeners(t *testing.T) {
	configPath := writeConfig(t, `
scheme:
  http_port: -1
  https_port: -1
  unix_file: ""
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Scheme.HTTPEnabled() {
		t.Error("Expected HTTP disabled with port -1")
	}
	if cfg.Scheme.HTTPSEnabled() {
		t.Error("Expected HTTPS disabled with port -1")
	}
	if cfg.Scheme.UnixEnabled() {
		t.Error("Expected unix listener disabled with empty path")
	}
}

func TestLoad_DurationParsing(t *testing.T) {
	configPath := writeConfig(t, `
delayed_start: 2s
server:
  shutdown_timeout: 10s
integrity:
  grace_period: 3s
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.DelayedStart != 2*time.Second {
		t.Errorf("Expected delayed_start 2s, got %v", cfg.DelayedStart)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("Expected shutdown_timeout 10s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Integrity.GracePeriod != 3*time.Second {
		t.Errorf("Expected grace_period 3s, got %v", cfg.Integrity.GracePeriod)
	}
}

func TestLoad_HTTPSRequiresCert(t *testing.T) {
	configPath := writeConfig(t, `
scheme:
  https_port: 5245
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error when https enabled without cert/key")
	}
}

func TestLoad_InvalidSocketPerm(t *testing.T) {
	configPath := writeConfig(t, `
scheme:
  unix_file: "/tmp/test.sock"
  unix_file_perm: "99x"
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for non-octal socket permission")
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	configPath := writeConfig(t, `
scheme:
  http_port: 70000
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for out-of-range port")
	}
}

func TestSocketMode(t *testing.T) {
	s := SchemeConfig{UnixFilePerm: "777"}
	mode, err := s.SocketMode()
	if err != nil {
		t.Fatalf("SocketMode() error = %v", err)
	}
	if mode != os.FileMode(0777) {
		t.Errorf("Expected mode 0777, got %v", mode)
	}
}

func TestDatabaseFile(t *testing.T) {
	cfg := &Config{DataDir: "/var/lib/app"}
	want := filepath.Join("/var/lib/app", "data.db")
	if got := cfg.DatabaseFile(); got != want {
		t.Errorf("DatabaseFile() = %q, want %q", got, want)
	}
}

func TestWriteDefault(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	// Round-trip: the rendered sample must load cleanly
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load rendered default config: %v", err)
	}
	if cfg.Scheme.HTTPPort != DefaultHTTPPort {
		t.Errorf("Expected http port %d, got %d", DefaultHTTPPort, cfg.Scheme.HTTPPort)
	}

	// Refuses to overwrite
	if err := WriteDefault(path); err == nil {
		t.Fatal("Expected error when overwriting existing config")
	}
}

func TestEnvOverride(t *testing.T) {
	configPath := writeConfig(t, `
scheme:
  http_port: 5244
`)

	t.Setenv("FILEBRIDGE_SCHEME_HTTP_PORT", "8080")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Scheme.HTTPPort != 8080 {
		t.Errorf("Expected env override port 8080, got %d", cfg.Scheme.HTTPPort)
	}
}
