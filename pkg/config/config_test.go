package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "0.0.0.0:9090"
database:
  path: "/tmp/test.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.ListenAddress != "0.0.0.0:9090" {
		t.Errorf("ListenAddress = %q", cfg.Server.ListenAddress)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("Database.Driver = %q, want default sqlite3", cfg.Database.Driver)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want default 10s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Maintenance.ResetKeyTTL != 24*time.Hour {
		t.Errorf("ResetKeyTTL = %v, want default 24h", cfg.Maintenance.ResetKeyTTL)
	}
	if cfg.Telemetry.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want default info", cfg.Telemetry.Logging.Level)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ATRIUM_SERVER_LISTEN_ADDRESS", "127.0.0.1:7000")
	t.Setenv("ATRIUM_DATABASE_DRIVER", "sqlite")
	t.Setenv("ATRIUM_AUTH_BCRYPT_COST", "4")

	path := writeConfig(t, `
server:
  listen_address: "0.0.0.0:9090"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.ListenAddress != "127.0.0.1:7000" {
		t.Errorf("ListenAddress = %q, want env override", cfg.Server.ListenAddress)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want env override", cfg.Database.Driver)
	}
	if cfg.Auth.BcryptCost != 4 {
		t.Errorf("BcryptCost = %d, want env override 4", cfg.Auth.BcryptCost)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown driver", "database:\n  driver: postgres\n"},
		{"tls without cert", "server:\n  tls:\n    enabled: true\n"},
		{"bad cron", "maintenance:\n  prune_schedule: \"not a schedule\"\n"},
		{"bad bcrypt cost", "auth:\n  bcrypt_cost: 99\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Errorf("Load() accepted invalid config:\n%s", tt.content)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load() of missing file succeeded")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Errorf("default configuration invalid: %v", err)
	}
}
