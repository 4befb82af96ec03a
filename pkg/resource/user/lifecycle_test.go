package user_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"atrium-hq/atrium/internal/dbtest"
	"atrium-hq/atrium/pkg/auth"
	"atrium-hq/atrium/pkg/resource"
	"atrium-hq/atrium/pkg/validate"
)

func TestAnonymousResetKeyRequest(t *testing.T) {
	m, st, mailer := newModule(t)
	id := dbtest.CreateUser(t, st, dbtest.UserSpec{
		EmailAddress: "alice@example.com", GivenName: "Alice", FamilyName: "Smith",
		Password: "oldpassword", Active: true,
	})
	oldPasswordHash := dbtest.QueryString(t, st,
		`SELECT password_hash FROM users WHERE id = ?`, id)

	rec, err := m.Update(context.Background(), &resource.Request{
		Body: map[string]any{
			"emailAddress":     "alice@example.com",
			"passwordResetKey": nil,
		},
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if rec != nil {
		t.Errorf("record = %v, want none for a reset-key request", rec)
	}

	sent := mailer.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d mails, want exactly 1", len(sent))
	}
	key := keyPattern.FindString(sent[0].Body)
	if len(key) != 30 {
		t.Fatalf("mail body %q contains no 30-character key", sent[0].Body)
	}

	keyHash := dbtest.QueryString(t, st,
		`SELECT password_reset_key_hash FROM users WHERE id = ?`, id)
	if !keyHash.Valid {
		t.Fatal("no reset key hash stored")
	}
	if bcrypt.CompareHashAndPassword([]byte(keyHash.String), []byte(key)) != nil {
		t.Error("stored hash does not match the emailed key")
	}

	newPasswordHash := dbtest.QueryString(t, st,
		`SELECT password_hash FROM users WHERE id = ?`, id)
	if newPasswordHash.String != oldPasswordHash.String {
		t.Error("password hash changed by a reset-key request")
	}
}

func TestResetKeyRequestUnknownAddress(t *testing.T) {
	m, _, mailer := newModule(t)

	_, err := m.Update(context.Background(), &resource.Request{
		Body: map[string]any{
			"emailAddress":     "nobody@example.com",
			"passwordResetKey": nil,
		},
	})
	var nsr *resource.NoSuchResourceError
	if !errors.As(err, &nsr) {
		t.Fatalf("Update() = %v, want NoSuchResourceError", err)
	}
	if len(mailer.Sent()) != 0 {
		t.Error("mail sent for unknown address")
	}
}

func TestCompleteReset(t *testing.T) {
	m, st, mailer := newModule(t)
	id := dbtest.CreateUser(t, st, dbtest.UserSpec{
		EmailAddress: "alice@example.com", GivenName: "Alice", FamilyName: "Smith",
		Password: "oldpassword", Active: true,
	})

	if _, err := m.Update(context.Background(), &resource.Request{
		Body: map[string]any{"emailAddress": "alice@example.com", "passwordResetKey": nil},
	}); err != nil {
		t.Fatalf("reset-key request error = %v", err)
	}
	key := keyPattern.FindString(mailer.Sent()[0].Body)

	if _, err := m.Update(context.Background(), &resource.Request{
		Body: map[string]any{
			"emailAddress":     "alice@example.com",
			"passwordResetKey": key,
			"password":         "brand new password",
		},
	}); err != nil {
		t.Fatalf("reset completion error = %v", err)
	}

	// The new password authenticates, and the key is single-use.
	txn := auth.NewTransactor(st)
	err := txn.Run(context.Background(),
		&auth.Credentials{EmailAddress: "alice@example.com", Password: "brand new password"},
		func(context.Context, *sql.Tx, *auth.Principal) error { return nil })
	if err != nil {
		t.Fatalf("authentication with new password failed: %v", err)
	}

	keyHash := dbtest.QueryString(t, st,
		`SELECT password_reset_key_hash FROM users WHERE id = ?`, id)
	if keyHash.Valid {
		t.Error("reset key hash still stored after use")
	}
}

func TestCompleteResetWrongKey(t *testing.T) {
	m, st, _ := newModule(t)
	dbtest.CreateUser(t, st, dbtest.UserSpec{
		EmailAddress: "alice@example.com", GivenName: "Alice", FamilyName: "Smith",
		Password: "oldpassword", Active: true,
	})
	if _, err := m.Update(context.Background(), &resource.Request{
		Body: map[string]any{"emailAddress": "alice@example.com", "passwordResetKey": nil},
	}); err != nil {
		t.Fatalf("reset-key request error = %v", err)
	}

	_, err := m.Update(context.Background(), &resource.Request{
		Body: map[string]any{
			"emailAddress":     "alice@example.com",
			"passwordResetKey": "WrongWrongWrongWrongWrongWrong",
			"password":         "brand new password",
		},
	})
	var authErr *auth.AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("Update(wrong key) = %v, want AuthenticationError", err)
	}
}

func TestPasswordLifecycleClosedSchema(t *testing.T) {
	m, _, _ := newModule(t)

	// Requesting a key while also submitting a password is rejected: the
	// request mode's rule set has no password attribute.
	_, err := m.Update(context.Background(), &resource.Request{
		Body: map[string]any{
			"emailAddress":     "alice@example.com",
			"passwordResetKey": nil,
			"password":         "sneaky",
		},
	})
	var verr *validate.Error
	if !errors.As(err, &verr) {
		t.Fatalf("Update() = %v, want validation error", err)
	}
	if _, ok := verr.Messages["password"]; !ok {
		t.Errorf("messages = %v, want password rejected as unexpected", verr.Messages)
	}
}
