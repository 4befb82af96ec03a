// Package dbtest provides datastore fixtures for package tests.
package dbtest

import (
	"context"
	"database/sql"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"atrium-hq/atrium/pkg/store"
)

// NewStore opens a migrated in-memory datastore on the pure-Go driver.
func NewStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(&store.Config{Path: ":memory:", Driver: "sqlite", WALMode: false})
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("store.Migrate() error = %v", err)
	}
	return st
}

// UserSpec describes a seeded user account.
type UserSpec struct {
	EmailAddress     string
	GivenName        string
	FamilyName       string
	Password         string
	Active           bool
	AuthorisedToBlog bool
	Admin            bool
}

// CreateUser inserts a user row directly and returns its id. The password
// is hashed with the minimum bcrypt cost to keep tests fast.
func CreateUser(t *testing.T, st *store.Store, spec UserSpec) int64 {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(spec.Password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt.GenerateFromPassword() error = %v", err)
	}
	var id int64
	err = st.InTransaction(context.Background(), func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO users (email_address, given_name, family_name, password_hash,
			                   active, authorised_to_blog, admin)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			spec.EmailAddress, nullable(spec.GivenName), nullable(spec.FamilyName),
			string(hash), spec.Active, spec.AuthorisedToBlog, spec.Admin)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		t.Fatalf("seeding user %q: %v", spec.EmailAddress, err)
	}
	return id
}

// CreatePost inserts a post row directly.
func CreatePost(t *testing.T, st *store.Store, id string, author int64, active bool) {
	t.Helper()
	err := st.InTransaction(context.Background(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO posts (id, title, body, preview, author, posted_time, time_zone, active)
			VALUES (?, 'A title', 'A body', 'A preview', ?, '2020-01-01T12:00:00Z', 'Europe/London', ?)`,
			id, author, active)
		return err
	})
	if err != nil {
		t.Fatalf("seeding post %q: %v", id, err)
	}
}

// CreatePage inserts a page row directly.
func CreatePage(t *testing.T, st *store.Store, id, title, body string) {
	t.Helper()
	err := st.InTransaction(context.Background(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO pages (id, title, body) VALUES (?, ?, ?)`, id, title, body)
		return err
	})
	if err != nil {
		t.Fatalf("seeding page %q: %v", id, err)
	}
}

// QueryString runs a single-value query and returns the result, which may
// be null.
func QueryString(t *testing.T, st *store.Store, query string, args ...any) sql.NullString {
	t.Helper()
	var out sql.NullString
	err := st.InTransaction(context.Background(), func(tx *sql.Tx) error {
		return tx.QueryRow(query, args...).Scan(&out)
	})
	if err != nil {
		t.Fatalf("query %q: %v", query, err)
	}
	return out
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
