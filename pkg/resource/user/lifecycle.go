package user

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"golang.org/x/crypto/bcrypt"

	"atrium-hq/atrium/pkg/auth"
	"atrium-hq/atrium/pkg/resource"
	"atrium-hq/atrium/pkg/validate"
)

const (
	resetKeyLength   = 30
	resetKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	welcomeSubject  = "Welcome to Atrium"
	resetKeySubject = "Your password reset key"
)

var resetKeyPattern = regexp.MustCompile(`^[A-Za-z0-9]{30}$`)

func welcomeBody(key string) string {
	return "Your account has been created.\n\n" +
		"To choose a password, use this password reset key:\n\n" +
		key + "\n\n" +
		"The key can be used once."
}

func resetKeyBody(key string) string {
	return "A password reset was requested for your account.\n\n" +
		"Your password reset key is:\n\n" +
		key + "\n\n" +
		"If you did not request this, you can ignore this message; " +
		"your password has not been changed."
}

// updatePassword handles the id-less update path: the anonymous password
// lifecycle. A null passwordResetKey requests a new key by email; a
// concrete key, together with a new password, completes the reset.
func (m *Module) updatePassword(ctx context.Context, req *resource.Request) error {
	if len(req.Query) > 0 {
		return resource.NewMalformedRequestError(
			"A password update cannot be combined with query filters.")
	}
	body := req.BodyMap()
	if key, ok := body["passwordResetKey"]; !ok || key == nil {
		return m.requestResetKey(ctx, req)
	}
	return m.completeReset(ctx, req)
}

// requestResetKey generates a fresh reset key for the account with the
// submitted email address, stores only its hash, and emails the key. The
// stored password hash is untouched.
func (m *Module) requestResetKey(ctx context.Context, req *resource.Request) error {
	return m.txn.Run(ctx, req.Auth, func(ctx context.Context, tx *sql.Tx, _ *auth.Principal) error {
		body := req.BodyMap()
		rules := validate.RuleSet{
			"emailAddress": append([]validate.Validator{
				validate.Required("The email address is required."),
			}, emailAddressRules()...),
			"passwordResetKey": {
				validate.Null("The password reset key must be null when requesting a new one."),
			},
		}
		if err := validate.Validate(ctx, body, rules); err != nil {
			return err
		}

		target, err := fetchByEmail(ctx, tx, body["emailAddress"].(string))
		if err != nil {
			return err
		}
		if target == nil {
			return resource.NewNoSuchResourceError("There is no user with that email address.")
		}

		key, err := m.issueResetKey(ctx, tx, target.id)
		if err != nil {
			return err
		}
		if err := m.mailer.Send(ctx, target.emailAddress, resetKeySubject, resetKeyBody(key)); err != nil {
			return err
		}
		m.logger.Info("password reset key issued", "user_id", target.id)
		return nil
	})
}

// completeReset verifies a previously emailed reset key and replaces the
// account's password hash. The key is single-use: its hash is cleared on
// success.
func (m *Module) completeReset(ctx context.Context, req *resource.Request) error {
	return m.txn.Run(ctx, req.Auth, func(ctx context.Context, tx *sql.Tx, _ *auth.Principal) error {
		body := req.BodyMap()
		rules := validate.RuleSet{
			"emailAddress": append([]validate.Validator{
				validate.Required("The email address is required."),
			}, emailAddressRules()...),
			"passwordResetKey": {
				validate.Required("The password reset key is required."),
				validate.NotNull("The password reset key must not be null."),
				validate.String("The password reset key must be a string."),
				validate.MatchesRegexp(
					"The password reset key must be 30 letters and digits.", resetKeyPattern),
			},
			"password": append([]validate.Validator{
				validate.Required("The password is required."),
			}, passwordRules()...),
		}
		if err := validate.Validate(ctx, body, rules); err != nil {
			return err
		}

		target, err := fetchByEmail(ctx, tx, body["emailAddress"].(string))
		if err != nil {
			return err
		}
		if target == nil {
			return resource.NewNoSuchResourceError("There is no user with that email address.")
		}

		var keyHash sql.NullString
		err = tx.QueryRowContext(ctx,
			`SELECT password_reset_key_hash FROM users WHERE id = ?`, target.id).Scan(&keyHash)
		if err != nil {
			return fmt.Errorf("failed to fetch reset key hash: %w", err)
		}
		key := body["passwordResetKey"].(string)
		if !keyHash.Valid ||
			bcrypt.CompareHashAndPassword([]byte(keyHash.String), []byte(key)) != nil {
			return &auth.AuthenticationError{Message: "The password reset key is incorrect."}
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(body["password"].(string)), m.bcryptCost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE users
			SET password_hash = ?, password_reset_key_hash = NULL, password_reset_key_time = NULL
			WHERE id = ?`, string(hash), target.id)
		if err != nil {
			return fmt.Errorf("failed to set password: %w", err)
		}
		m.logger.Info("password set via reset key", "user_id", target.id)
		return nil
	})
}

// issueResetKey generates a key, stores its hash and issue time on the
// user row, and returns the plain key for emailing. The plain key is
// never persisted.
func (m *Module) issueResetKey(ctx context.Context, tx *sql.Tx, id int64) (string, error) {
	key, err := newResetKey()
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), m.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash reset key: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE users
		SET password_reset_key_hash = ?, password_reset_key_time = ?
		WHERE id = ?`, string(hash), time.Now().Unix(), id)
	if err != nil {
		return "", fmt.Errorf("failed to store reset key hash: %w", err)
	}
	return key, nil
}

// newResetKey returns a cryptographically random 30-character
// alphanumeric key.
func newResetKey() (string, error) {
	buf := make([]byte, resetKeyLength)
	max := big.NewInt(int64(len(resetKeyAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate reset key: %w", err)
		}
		buf[i] = resetKeyAlphabet[n.Int64()]
	}
	return string(buf), nil
}
