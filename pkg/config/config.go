package config

import (
	"time"

	"atrium-hq/atrium/pkg/mail"
	"atrium-hq/atrium/pkg/telemetry/logging"
	"atrium-hq/atrium/pkg/telemetry/metrics"
)

// Config is the root configuration for the service.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	SMTP        mail.SMTPConfig   `yaml:"smtp"`
	Auth        AuthConfig        `yaml:"auth"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the host:port the server binds to.
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing a response.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle connection timeout.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxBodyBytes bounds the size of a JSON request body.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig contains TLS settings for the HTTP server.
type TLSConfig struct {
	// Enabled turns TLS on. Cert and key files are watched and reloaded
	// when they change on disk.
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DatabaseConfig contains configuration for the SQLite datastore.
type DatabaseConfig struct {
	// Path is the database file path.
	Path string `yaml:"path"`

	// Driver selects the SQLite driver: "sqlite3" (cgo) or "sqlite"
	// (pure Go).
	Driver string `yaml:"driver"`

	// BusyTimeout is the duration to wait when the database is locked.
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// WALMode enables write-ahead logging.
	WALMode bool `yaml:"wal_mode"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	// BcryptCost is the cost parameter for password and reset-key
	// hashes.
	BcryptCost int `yaml:"bcrypt_cost"`
}

// MaintenanceConfig contains settings for scheduled maintenance jobs.
type MaintenanceConfig struct {
	// ResetKeyTTL is how long an issued password reset key stays usable.
	ResetKeyTTL time.Duration `yaml:"reset_key_ttl"`

	// PruneSchedule is a cron expression for clearing expired reset
	// keys. Empty disables the job.
	PruneSchedule string `yaml:"prune_schedule"`
}

// TelemetryConfig contains observability settings.
type TelemetryConfig struct {
	Logging logging.Config `yaml:"logging"`
	Metrics metrics.Config `yaml:"metrics"`
}
