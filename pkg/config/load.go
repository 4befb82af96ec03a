package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a YAML file, applies defaults and
// environment variable overrides, and validates the result. Environment
// variables follow the naming convention ATRIUM_SECTION_FIELD (e.g.
// ATRIUM_SERVER_LISTEN_ADDRESS) and always take precedence over the
// file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg
}

// applyEnvOverrides applies environment variable overrides to the
// configuration.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	if val := os.Getenv("ATRIUM_SERVER_LISTEN_ADDRESS"); val != "" {
		cfg.Server.ListenAddress = val
	}
	if val := os.Getenv("ATRIUM_SERVER_READ_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if val := os.Getenv("ATRIUM_SERVER_WRITE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}
	if val := os.Getenv("ATRIUM_SERVER_MAX_BODY_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Server.MaxBodyBytes = n
		}
	}
	if val := os.Getenv("ATRIUM_SERVER_TLS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Server.TLS.Enabled = b
		}
	}
	if val := os.Getenv("ATRIUM_SERVER_TLS_CERT_FILE"); val != "" {
		cfg.Server.TLS.CertFile = val
	}
	if val := os.Getenv("ATRIUM_SERVER_TLS_KEY_FILE"); val != "" {
		cfg.Server.TLS.KeyFile = val
	}

	// Database overrides
	if val := os.Getenv("ATRIUM_DATABASE_PATH"); val != "" {
		cfg.Database.Path = val
	}
	if val := os.Getenv("ATRIUM_DATABASE_DRIVER"); val != "" {
		cfg.Database.Driver = val
	}
	if val := os.Getenv("ATRIUM_DATABASE_BUSY_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Database.BusyTimeout = d
		}
	}
	if val := os.Getenv("ATRIUM_DATABASE_WAL_MODE"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Database.WALMode = b
		}
	}

	// SMTP overrides
	if val := os.Getenv("ATRIUM_SMTP_HOST"); val != "" {
		cfg.SMTP.Host = val
	}
	if val := os.Getenv("ATRIUM_SMTP_PORT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.SMTP.Port = n
		}
	}
	if val := os.Getenv("ATRIUM_SMTP_USERNAME"); val != "" {
		cfg.SMTP.Username = val
	}
	if val := os.Getenv("ATRIUM_SMTP_PASSWORD"); val != "" {
		cfg.SMTP.Password = val
	}
	if val := os.Getenv("ATRIUM_SMTP_FROM"); val != "" {
		cfg.SMTP.From = val
	}

	// Auth overrides
	if val := os.Getenv("ATRIUM_AUTH_BCRYPT_COST"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Auth.BcryptCost = n
		}
	}

	// Maintenance overrides
	if val := os.Getenv("ATRIUM_MAINTENANCE_RESET_KEY_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Maintenance.ResetKeyTTL = d
		}
	}
	if val := os.Getenv("ATRIUM_MAINTENANCE_PRUNE_SCHEDULE"); val != "" {
		cfg.Maintenance.PruneSchedule = val
	}

	// Telemetry overrides
	if val := os.Getenv("ATRIUM_TELEMETRY_LOGGING_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("ATRIUM_TELEMETRY_LOGGING_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
	if val := os.Getenv("ATRIUM_TELEMETRY_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Metrics.Enabled = b
		}
	}
	if val := os.Getenv("ATRIUM_TELEMETRY_METRICS_PATH"); val != "" {
		cfg.Telemetry.Metrics.Path = val
	}
}
