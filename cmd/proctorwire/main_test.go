package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

// FUNCTIONAL VALIDATION TEST: Defaults apply when no flags are given
func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("PROCTORWIRE_CONFIG_FILE", "")
	cfg, err := loadConfig(nil)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.HTTP.Port)
	}
}

// FUNCTIONAL VALIDATION TEST: Explicit flags override file and environment
func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	content := "http:\n  port: 7070\n  host: 127.0.0.1\nrelay:\n  rate_limit: 20\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	t.Setenv("PROCTORWIRE_HTTP_PORT", "9090")

	cfg, err := loadConfig([]string{"--config", path, "--port", "6060", "--db", "/tmp/x.db", "--stats-interval", "5s"})
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.HTTP.Port != 6060 {
		t.Errorf("Flag should win: port=%d", cfg.HTTP.Port)
	}
	if cfg.HTTP.Host != "127.0.0.1" || cfg.Relay.RateLimit != 20 {
		t.Errorf("File values should apply where no flag is set: host=%s rate=%d", cfg.HTTP.Host, cfg.Relay.RateLimit)
	}
	if cfg.Database.Path != "/tmp/x.db" || cfg.Relay.StatsInterval != 5*time.Second {
		t.Errorf("Unexpected flag values: db=%s stats=%v", cfg.Database.Path, cfg.Relay.StatsInterval)
	}
}

// FUNCTIONAL VALIDATION TEST: Bad flags and values fail before startup
func TestLoadConfig_Errors(t *testing.T) {
	t.Setenv("PROCTORWIRE_CONFIG_FILE", "")
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown flag", []string{"--nope"}, "unknown flag"},
		{"extra argument", []string{"serve"}, "unexpected argument"},
		{"invalid port", []string{"--port", "70000"}, "port"},
		{"missing file", []string{"--config", "/nonexistent/relay.json"}, "config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(tt.args)
			if err == nil || !strings.Contains(strings.ToLower(err.Error()), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

// FUNCTIONAL VALIDATION TEST: --help is reported as pflag.ErrHelp
func TestLoadConfig_Help(t *testing.T) {
	_, err := loadConfig([]string{"--help"})
	if !errors.Is(err, pflag.ErrHelp) {
		t.Errorf("Expected ErrHelp, got %v", err)
	}
}
