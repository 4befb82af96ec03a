package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3" // default driver, registered as "sqlite3"
	_ "modernc.org/sqlite"          // cgo-free driver, registered as "sqlite"
)

// Config contains configuration for the datastore.
type Config struct {
	// Path is the database file path. ":memory:" opens a private
	// in-memory database, which the tests rely on.
	Path string

	// Driver selects the SQLite driver: "sqlite3" (mattn, cgo) or
	// "sqlite" (modernc, pure Go).
	// Default: "sqlite3"
	Driver string

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// WALMode enables write-ahead logging for better read concurrency.
	// Default: true
	WALMode bool
}

// DefaultConfig returns the default datastore configuration.
func DefaultConfig() *Config {
	return &Config{
		Path:        "data/atrium.db",
		Driver:      "sqlite3",
		BusyTimeout: 5 * time.Second,
		WALMode:     true,
	}
}

// Store wraps the database handle and owns transaction scoping for the
// business-logic layer.
type Store struct {
	db     *sql.DB
	config *Config
	logger *slog.Logger
}

// Open opens the database, applies the connection pragmas, and returns a
// ready Store. The schema is not applied; call Migrate for that.
func Open(config *Config) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	driver := config.Driver
	if driver == "" {
		driver = "sqlite3"
	}
	if driver != "sqlite3" && driver != "sqlite" {
		return nil, fmt.Errorf("unknown sqlite driver %q", driver)
	}

	db, err := sql.Open(driver, config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %q: %w", config.Path, err)
	}

	// SQLite supports a single writer; serialising all access through one
	// connection also keeps in-memory databases coherent across queries.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:     db,
		config: config,
		logger: slog.Default().With("component", "store"),
	}

	if err := s.applyPragmas(); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("datastore opened",
		"path", config.Path,
		"driver", driver,
		"wal_mode", config.WALMode,
	)
	return s, nil
}

// applyPragmas configures journaling and lock-wait behaviour.
func (s *Store) applyPragmas() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	busy := s.config.BusyTimeout
	if busy == 0 {
		busy = 5 * time.Second
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", busy.Milliseconds())); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := s.db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return nil
}

// Migrate applies the embedded schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	s.logger.Debug("schema applied")
	return nil
}

// InTransaction runs fn inside a single database transaction. The
// transaction commits if fn returns nil and rolls back otherwise, so an
// error anywhere in an operation leaves no persisted side effects.
func (s *Store) InTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			s.logger.Error("transaction rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
