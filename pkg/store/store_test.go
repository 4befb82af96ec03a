package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	// The pure-Go driver keeps the tests independent of cgo.
	s, err := Open(&Config{Path: ":memory:", Driver: "sqlite", WALMode: false})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return s
}

func TestMigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestInTransactionCommit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.InTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (email_address) VALUES (?)`, "a@example.com")
		return err
	})
	if err != nil {
		t.Fatalf("InTransaction() error = %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT count(*) FROM users`).Scan(&count); err != nil {
		t.Fatalf("count query error = %v", err)
	}
	if count != 1 {
		t.Errorf("user count = %d, want 1", count)
	}
}

func TestInTransactionRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO users (email_address) VALUES (?)`, "a@example.com"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTransaction() = %v, want the callback error", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT count(*) FROM users`).Scan(&count); err != nil {
		t.Fatalf("count query error = %v", err)
	}
	if count != 0 {
		t.Errorf("user count after rollback = %d, want 0", count)
	}
}

func TestCaseInsensitiveUniqueIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email_address) VALUES ('a@example.com')`); err != nil {
		t.Fatalf("insert user error = %v", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO posts (id, title, body, author, posted_time, time_zone)
		 VALUES ('2020-01-01-test', 't', 'b', 1, '2020-01-01T00:00:00Z', 'UTC')`); err != nil {
		t.Fatalf("insert error = %v", err)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO posts (id, title, body, author, posted_time, time_zone)
		 VALUES ('2020-01-01-TEST', 't', 'b', 1, '2020-01-01T00:00:00Z', 'UTC')`)
	if err == nil {
		t.Error("insert of case-variant duplicate id succeeded, want constraint error")
	}
}
