package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"atrium-hq/atrium/pkg/store"
)

// Callback is the body of a business operation, executed inside one
// transaction with the resolved principal (nil for anonymous callers).
type Callback func(ctx context.Context, tx *sql.Tx, principal *Principal) error

// Transactor opens authenticated transactions against the datastore.
type Transactor struct {
	store  *store.Store
	logger *slog.Logger
}

// NewTransactor creates a Transactor backed by the given store.
func NewTransactor(st *store.Store) *Transactor {
	return &Transactor{
		store:  st,
		logger: slog.Default().With("component", "auth"),
	}
}

// Run opens a transaction, resolves the principal from creds, and invokes
// fn. The transaction commits only if both authentication and fn succeed;
// validation failures, authorization failures, and fatal errors inside fn
// all roll back, so no operation ever partially commits.
func (t *Transactor) Run(ctx context.Context, creds *Credentials, fn Callback) error {
	return t.store.InTransaction(ctx, func(tx *sql.Tx) error {
		principal, err := t.resolve(ctx, tx, creds)
		if err != nil {
			return err
		}
		return fn(ctx, tx, principal)
	})
}

// resolve matches creds against the users table. The email address is
// compared case-insensitively; the password is verified against the
// stored bcrypt hash.
func (t *Transactor) resolve(ctx context.Context, tx *sql.Tx, creds *Credentials) (*Principal, error) {
	if creds == nil {
		return nil, nil
	}

	row := tx.QueryRowContext(ctx, `
		SELECT id, email_address, given_name, family_name, password_hash,
		       active, authorised_to_blog, admin
		FROM users
		WHERE email_address LIKE ? ESCAPE '\'`,
		store.EscapeLike(creds.EmailAddress))

	var (
		p                     Principal
		givenName, familyName sql.NullString
		passwordHash          string
	)
	err := row.Scan(&p.ID, &p.EmailAddress, &givenName, &familyName,
		&passwordHash, &p.Active, &p.AuthorisedToBlog, &p.Admin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &AuthenticationError{Message: "There is no user with the given email address."}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user %q: %w", creds.EmailAddress, err)
	}
	p.GivenName = givenName.String
	p.FamilyName = familyName.String

	if bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(creds.Password)) != nil {
		t.logger.Debug("password mismatch", "user_id", p.ID)
		return nil, &AuthenticationError{Message: "The password is incorrect."}
	}
	return &p, nil
}
