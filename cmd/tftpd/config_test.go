package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tftpd.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg != DefaultConfig() {
		t.Errorf("empty path should yield defaults, got %+v", cfg)
	}
	if cfg.Timeout() != 5*time.Second {
		t.Errorf("default timeout = %v", cfg.Timeout())
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
listen = "127.0.0.1:6969"
data_dir = "/srv/tftp"
timeout_seconds = 2
retries = 8
max_sessions = 32
metrics_addr = "127.0.0.1:9090"
log_level = "debug"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != "127.0.0.1:6969" || cfg.DataDir != "/srv/tftp" {
		t.Errorf("addresses not applied: %+v", cfg)
	}
	if cfg.Timeout() != 2*time.Second || cfg.Retries != 8 || cfg.MaxSessions != 32 {
		t.Errorf("transfer settings not applied: %+v", cfg)
	}
	if cfg.MetricsAddr != "127.0.0.1:9090" || cfg.LogLevel != "debug" {
		t.Errorf("ambient settings not applied: %+v", cfg)
	}
}

func TestLoadConfigPartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `listen = "127.0.0.1:6969"`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Retries != DefaultConfig().Retries {
		t.Errorf("unset key lost its default: %+v", cfg)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero timeout", `timeout_seconds = 0`},
		{"negative retries", `retries = -1`},
		{"negative cap", `max_sessions = -2`},
		{"empty listen", `listen = ""`},
		{"empty data dir", `data_dir = ""`},
		{"bad toml", `listen = `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tt.body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected error")
	}
}
