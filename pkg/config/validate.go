package config

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"golang.org/x/crypto/bcrypt"
)

// Validate checks the configuration for inconsistencies. It expects
// defaults to have been applied already.
func Validate(cfg *Config) error {
	if cfg.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address must not be empty")
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}
	if cfg.Server.TLS.Enabled {
		if cfg.Server.TLS.CertFile == "" {
			return fmt.Errorf("server.tls.cert_file must be set when TLS is enabled")
		}
		if cfg.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.key_file must be set when TLS is enabled")
		}
	}

	if cfg.Database.Driver != "sqlite3" && cfg.Database.Driver != "sqlite" {
		return fmt.Errorf("database.driver must be %q or %q, got %q", "sqlite3", "sqlite", cfg.Database.Driver)
	}
	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}

	if cfg.Auth.BcryptCost < bcrypt.MinCost || cfg.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("auth.bcrypt_cost must be between %d and %d, got %d",
			bcrypt.MinCost, bcrypt.MaxCost, cfg.Auth.BcryptCost)
	}

	if cfg.Maintenance.PruneSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Maintenance.PruneSchedule); err != nil {
			return fmt.Errorf("invalid maintenance.prune_schedule %q: %w",
				cfg.Maintenance.PruneSchedule, err)
		}
	}
	if cfg.Maintenance.ResetKeyTTL < 0 {
		return fmt.Errorf("maintenance.reset_key_ttl must not be negative")
	}

	return nil
}
