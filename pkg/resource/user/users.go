// Package user implements the business logic of user accounts: CRUD,
// search, and the email-verification-driven password lifecycle.
package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"atrium-hq/atrium/pkg/auth"
	"atrium-hq/atrium/pkg/mail"
	"atrium-hq/atrium/pkg/resource"
	"atrium-hq/atrium/pkg/store"
	"atrium-hq/atrium/pkg/validate"
	"atrium-hq/atrium/pkg/view"
)

// Module implements the user resource operations.
type Module struct {
	txn        *auth.Transactor
	mailer     mail.Sender
	bcryptCost int
	logger     *slog.Logger
}

// Option configures a Module.
type Option func(*Module)

// WithBcryptCost overrides the bcrypt cost used for password and reset-key
// hashes. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(m *Module) { m.bcryptCost = cost }
}

// New creates the user module.
func New(txn *auth.Transactor, mailer mail.Sender, opts ...Option) *Module {
	m := &Module{
		txn:        txn,
		mailer:     mailer,
		bcryptCost: bcrypt.DefaultCost,
		logger:     slog.Default().With("component", "resource.user"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// viewPolicy masks user records. Third parties see identity and permission
// flags only, and only for accounts with a complete display name; the
// email address is visible to the account itself, and the admin flag to
// administrators alone. Hashes are outside every set.
var viewPolicy = view.Policy{
	Public: []string{"id", "givenName", "familyName", "active", "authorisedToBlog"},
	Self:   []string{"id", "givenName", "familyName", "active", "authorisedToBlog", "emailAddress"},
	Admin:  []string{"id", "givenName", "familyName", "active", "authorisedToBlog", "emailAddress", "admin"},
	SubjectID: func(rec view.Record) int64 {
		id, _ := rec["id"].(int64)
		return id
	},
	Complete: func(rec view.Record) bool {
		given, _ := rec["givenName"].(string)
		family, _ := rec["familyName"].(string)
		return given != "" && family != ""
	},
}

const selectColumns = `id, email_address, given_name, family_name, active, authorised_to_blog, admin`

type row struct {
	id                     int64
	emailAddress           string
	givenName, familyName  sql.NullString
	active                 bool
	authorisedToBlog       bool
	admin                  bool
}

func scanRow(s interface{ Scan(...any) error }) (*row, error) {
	var r row
	err := s.Scan(&r.id, &r.emailAddress, &r.givenName, &r.familyName,
		&r.active, &r.authorisedToBlog, &r.admin)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *row) record() view.Record {
	rec := view.Record{
		"id":               r.id,
		"emailAddress":     r.emailAddress,
		"active":           r.active,
		"authorisedToBlog": r.authorisedToBlog,
		"admin":            r.admin,
	}
	if r.givenName.Valid {
		rec["givenName"] = r.givenName.String
	}
	if r.familyName.Valid {
		rec["familyName"] = r.familyName.String
	}
	return rec
}

func fetchByID(ctx context.Context, tx *sql.Tx, id int64) (*row, error) {
	r, err := scanRow(tx.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user %d: %w", id, err)
	}
	return r, nil
}

func fetchByEmail(ctx context.Context, tx *sql.Tx, emailAddress string) (*row, error) {
	r, err := scanRow(tx.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM users WHERE email_address LIKE ? ESCAPE '\'`,
		store.EscapeLike(emailAddress)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user %q: %w", emailAddress, err)
	}
	return r, nil
}

// emailAddressRules are the format rules applied wherever an email address
// is submitted.
func emailAddressRules() []validate.Validator {
	return []validate.Validator{
		validate.NotNull("The email address must not be null."),
		validate.String("The email address must be a string."),
		validate.MaxLength("The email address must be at most 254 characters long.", 254),
		validate.EmailAddress("The email address must contain an @ symbol with text on both sides."),
	}
}

func nameRules(label string) []validate.Validator {
	return []validate.Validator{
		validate.NotNull("The " + label + " must not be null."),
		validate.String("The " + label + " must be a string."),
		validate.NotEmpty("The " + label + " must not be empty."),
		validate.MaxLength("The "+label+" must be at most 100 characters long.", 100),
	}
}

func passwordRules() []validate.Validator {
	return []validate.Validator{
		validate.NotNull("The password must not be null."),
		validate.String("The password must be a string."),
		validate.MinLength("The password must be at least 8 characters long.", 8),
		// bcrypt ignores everything past 72 bytes.
		validate.MaxLength("The password must be at most 72 characters long.", 72),
	}
}

// emailAddressAvailable checks, inside the operation's transaction, that
// no other account holds the address. A taken address surfaces as a
// ConflictingEditError, which aborts validation as a fatal and propagates
// as the operation's failure.
func emailAddressAvailable(tx *sql.Tx, excludeID int64) validate.Validator {
	return validate.Func(func(ctx context.Context, value any) error {
		s, ok := value.(string)
		if !ok {
			return nil
		}
		var n int
		err := tx.QueryRowContext(ctx, `
			SELECT count(*) FROM users
			WHERE email_address LIKE ? ESCAPE '\' AND id <> ?`,
			store.EscapeLike(s), excludeID).Scan(&n)
		if err != nil {
			return fmt.Errorf("failed to check email address availability: %w", err)
		}
		if n > 0 {
			return resource.NewConflictingEditError("That email address belongs to another account.")
		}
		return nil
	})
}

// adminOnly rejects a present value unless the principal is an
// administrator. It encodes per-field authorization as validation, so the
// caller learns about every offending field at once.
func adminOnly(principal *auth.Principal, message string) validate.Validator {
	return validate.Func(func(_ context.Context, value any) error {
		if !validate.Defined(value) {
			return nil
		}
		if principal != nil && principal.Admin {
			return nil
		}
		return validate.NewError(message)
	})
}

// Create registers a new account. Anonymous callers may create accounts
// for themselves. The account starts without a password; a reset key is
// generated and emailed so the owner can set one, and a failed send rolls
// the whole creation back.
func (m *Module) Create(ctx context.Context, req *resource.Request) (view.Record, error) {
	var out view.Record
	err := m.txn.Run(ctx, req.Auth, func(ctx context.Context, tx *sql.Tx, principal *auth.Principal) error {
		body := req.BodyMap()
		rules := validate.RuleSet{
			"emailAddress": append([]validate.Validator{
				validate.Required("The email address is required."),
			}, append(emailAddressRules(), emailAddressAvailable(tx, 0))...),
			"givenName":  nameRules("given name"),
			"familyName": nameRules("family name"),
		}
		if err := validate.Validate(ctx, body, rules); err != nil {
			return err
		}

		emailAddress := body["emailAddress"].(string)
		res, err := tx.ExecContext(ctx, `
			INSERT INTO users (email_address, given_name, family_name, password_hash)
			VALUES (?, ?, ?, '')`,
			emailAddress, optional(body, "givenName"), optional(body, "familyName"))
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read new user id: %w", err)
		}

		key, err := m.issueResetKey(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := m.mailer.Send(ctx, emailAddress, welcomeSubject, welcomeBody(key)); err != nil {
			return err
		}

		r, err := fetchByID(ctx, tx, id)
		if err != nil {
			return err
		}
		// An anonymous creator is the subject of the account it just made.
		viewer := principal
		if viewer == nil {
			viewer = &auth.Principal{ID: id}
		}
		out = view.Project([]view.Record{r.record()}, viewer, time.Now(), viewPolicy)[0]
		m.logger.Info("user created", "user_id", id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Read returns a single user addressed by id.
func (m *Module) Read(ctx context.Context, req *resource.Request) (view.Record, error) {
	if len(req.Query) > 0 {
		return nil, resource.NewMalformedRequestError(
			"A user cannot be addressed by id and filtered at the same time.")
	}
	id, err := resource.NaturalParam(ctx, req, "userId", "The user id must be a natural number.")
	if err != nil {
		return nil, err
	}

	var out view.Record
	err = m.txn.Run(ctx, req.Auth, func(ctx context.Context, tx *sql.Tx, principal *auth.Principal) error {
		r, err := fetchByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if r == nil {
			return resource.NewNoSuchResourceError("There is no user with that id.")
		}
		projected := view.Project([]view.Record{r.record()}, principal, time.Now(), viewPolicy)
		if len(projected) == 0 {
			// Incomplete accounts are hidden from third parties entirely.
			return resource.NewNoSuchResourceError("There is no user with that id.")
		}
		out = projected[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update edits a user. With a userId path parameter it is an authenticated
// profile edit; without one it is the anonymous password lifecycle,
// dispatched on the passwordResetKey attribute (see lifecycle.go).
func (m *Module) Update(ctx context.Context, req *resource.Request) (view.Record, error) {
	if req.Param("userId") == "" {
		return nil, m.updatePassword(ctx, req)
	}
	if len(req.Query) > 0 {
		return nil, resource.NewMalformedRequestError(
			"A user cannot be addressed by id and filtered at the same time.")
	}
	id, err := resource.NaturalParam(ctx, req, "userId", "The user id must be a natural number.")
	if err != nil {
		return nil, err
	}

	var out view.Record
	err = m.txn.Run(ctx, req.Auth, func(ctx context.Context, tx *sql.Tx, principal *auth.Principal) error {
		if principal == nil {
			return resource.NewAuthorisationError("You must authenticate to edit a user.")
		}
		target, err := fetchByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if target == nil {
			return resource.NewNoSuchResourceError("There is no user with that id.")
		}
		if !principal.Admin && principal.ID != target.id {
			return resource.NewAuthorisationError("You may only edit your own account.")
		}

		body := req.BodyMap()
		rules := validate.RuleSet{
			"emailAddress":     append(emailAddressRules(), emailAddressAvailable(tx, target.id)),
			"givenName":        nameRules("given name"),
			"familyName":       nameRules("family name"),
			"password":         passwordRules(),
			"active":           flagRules("active", principal),
			"authorisedToBlog": flagRules("authorisedToBlog", principal),
			"admin":            flagRules("admin", principal),
		}
		if err := validate.Validate(ctx, body, rules); err != nil {
			return err
		}

		if err := m.applyUpdate(ctx, tx, target.id, body); err != nil {
			return err
		}
		updated, err := fetchByID(ctx, tx, target.id)
		if err != nil {
			return err
		}
		out = view.Project([]view.Record{updated.record()}, principal, time.Now(), viewPolicy)[0]
		m.logger.Info("user updated", "user_id", target.id, "by", principal.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func flagRules(name string, principal *auth.Principal) []validate.Validator {
	return []validate.Validator{
		validate.NotNull("The " + name + " flag must not be null."),
		validate.Boolean("The " + name + " flag must be a boolean."),
		adminOnly(principal, "Only administrators may set the "+name+" flag."),
	}
}

// applyUpdate writes the present attributes of body onto the user row.
func (m *Module) applyUpdate(ctx context.Context, tx *sql.Tx, id int64, body map[string]any) error {
	columns := []struct {
		attr, column string
	}{
		{"emailAddress", "email_address"},
		{"givenName", "given_name"},
		{"familyName", "family_name"},
		{"active", "active"},
		{"authorisedToBlog", "authorised_to_blog"},
		{"admin", "admin"},
	}
	var sets []string
	var args []any
	for _, c := range columns {
		if value, ok := body[c.attr]; ok {
			sets = append(sets, c.column+" = ?")
			args = append(args, value)
		}
	}
	if password, ok := body["password"]; ok {
		hash, err := bcrypt.GenerateFromPassword([]byte(password.(string)), m.bcryptCost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		sets = append(sets, "password_hash = ?")
		args = append(args, string(hash))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	_, err := tx.ExecContext(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update user %d: %w", id, err)
	}
	return nil
}

// Delete removes a user account. Only the account itself or an
// administrator may delete it.
func (m *Module) Delete(ctx context.Context, req *resource.Request) error {
	id, err := resource.NaturalParam(ctx, req, "userId", "The user id must be a natural number.")
	if err != nil {
		return err
	}
	return m.txn.Run(ctx, req.Auth, func(ctx context.Context, tx *sql.Tx, principal *auth.Principal) error {
		if principal == nil {
			return resource.NewAuthorisationError("You must authenticate to delete a user.")
		}
		target, err := fetchByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if target == nil {
			return resource.NewNoSuchResourceError("There is no user with that id.")
		}
		if !principal.Admin && principal.ID != target.id {
			return resource.NewAuthorisationError("You may only delete your own account.")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, target.id); err != nil {
			return fmt.Errorf("failed to delete user %d: %w", target.id, err)
		}
		m.logger.Info("user deleted", "user_id", target.id, "by", principal.ID)
		return nil
	})
}

// sortColumns maps sortable attributes to their columns. The email address
// is admin-only, enforced by validation rather than silent omission.
var sortColumns = map[string]string{
	"givenName":    "given_name",
	"familyName":   "family_name",
	"emailAddress": "email_address",
}

// List searches users with offset pagination, one sortable column, and
// conjunction filters.
func (m *Module) List(ctx context.Context, req *resource.Request) ([]view.Record, error) {
	var out []view.Record
	err := m.txn.Run(ctx, req.Auth, func(ctx context.Context, tx *sql.Tx, principal *auth.Principal) error {
		query := req.QueryMap()
		rules := validate.RuleSet{
			"page": {validate.NaturalNumber("The page must be a natural number.")},
			"sortBy": {
				validate.OneOf("Users can be sorted by givenName, familyName or emailAddress.",
					"givenName", "familyName", "emailAddress"),
				adminOnlyValue(principal, "emailAddress",
					"Only administrators may sort users by email address."),
			},
			"sortOrder": {validate.OneOf("The sort order must be ascending or descending.",
				"ascending", "descending")},
			"givenName":  nameRules("given name"),
			"familyName": nameRules("family name"),
			"emailAddress": append(emailAddressRules(),
				adminOnly(principal, "Only administrators may filter users by email address.")),
		}
		if err := validate.Validate(ctx, query, rules); err != nil {
			return err
		}

		where := []string{"1 = 1"}
		var args []any
		for _, f := range []struct{ attr, column string }{
			{"givenName", "given_name"},
			{"familyName", "family_name"},
			{"emailAddress", "email_address"},
		} {
			if value, ok := query[f.attr].(string); ok {
				where = append(where, f.column+` LIKE ? ESCAPE '\'`)
				args = append(args, store.EscapeLike(value))
			}
		}

		column := "family_name"
		if sortBy, ok := query["sortBy"].(string); ok {
			column = sortColumns[sortBy]
		}
		direction := "ASC"
		if query["sortOrder"] == "descending" {
			direction = "DESC"
		}
		args = append(args, resource.PageSize, resource.PageOffset(query))

		rows, err := tx.QueryContext(ctx, `
			SELECT `+selectColumns+` FROM users
			WHERE `+strings.Join(where, " AND ")+`
			ORDER BY `+column+` `+direction+`
			LIMIT ? OFFSET ?`, args...)
		if err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}
		defer rows.Close()

		var records []view.Record
		for rows.Next() {
			r, err := scanRow(rows)
			if err != nil {
				return fmt.Errorf("failed to scan user row: %w", err)
			}
			records = append(records, r.record())
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to iterate user rows: %w", err)
		}
		out = view.Project(records, principal, time.Now(), viewPolicy)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// adminOnlyValue rejects one specific string value unless the principal is
// an administrator; other values pass through to the allow-list rule.
func adminOnlyValue(principal *auth.Principal, restricted, message string) validate.Validator {
	return validate.Func(func(_ context.Context, value any) error {
		if value != restricted {
			return nil
		}
		if principal != nil && principal.Admin {
			return nil
		}
		return validate.NewError(message)
	})
}

func optional(body map[string]any, name string) any {
	if value, ok := body[name]; ok {
		return value
	}
	return nil
}
