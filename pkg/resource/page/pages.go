// Package page implements the business logic of static info pages. Pages
// are world-readable and editable by administrators only.
package page

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"atrium-hq/atrium/pkg/auth"
	"atrium-hq/atrium/pkg/resource"
	"atrium-hq/atrium/pkg/store"
	"atrium-hq/atrium/pkg/validate"
	"atrium-hq/atrium/pkg/view"
)

// Module implements the info page resource operations.
type Module struct {
	txn    *auth.Transactor
	logger *slog.Logger
}

// New creates the page module.
func New(txn *auth.Transactor) *Module {
	return &Module{
		txn:    txn,
		logger: slog.Default().With("component", "resource.page"),
	}
}

var pageAttributes = []string{"id", "title", "body"}

var viewPolicy = view.Policy{
	Public: pageAttributes,
	Self:   pageAttributes,
	Admin:  pageAttributes,
}

type row struct {
	id, title, body string
}

func (r *row) record() view.Record {
	return view.Record{"id": r.id, "title": r.title, "body": r.body}
}

func fetchByID(ctx context.Context, tx *sql.Tx, id string) (*row, error) {
	var r row
	err := tx.QueryRowContext(ctx, `
		SELECT id, title, body FROM pages
		WHERE id LIKE ? ESCAPE '\'`, store.EscapeLike(id)).
		Scan(&r.id, &r.title, &r.body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page %q: %w", id, err)
	}
	return &r, nil
}

var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

const idMessage = "The page id must be made of lowercase letters, numbers and dashes."

func wellFormedID(message string) validate.Validator {
	return validate.Func(func(_ context.Context, value any) error {
		s, ok := value.(string)
		if !ok {
			return nil
		}
		if len(s) > 100 || !slugPattern.MatchString(s) {
			return validate.NewError(message)
		}
		return nil
	})
}

func idAvailable(tx *sql.Tx, exclude string) validate.Validator {
	return validate.Func(func(ctx context.Context, value any) error {
		s, ok := value.(string)
		if !ok {
			return nil
		}
		var n int
		err := tx.QueryRowContext(ctx, `
			SELECT count(*) FROM pages
			WHERE id LIKE ? ESCAPE '\' AND NOT (id LIKE ? ESCAPE '\')`,
			store.EscapeLike(s), store.EscapeLike(exclude)).Scan(&n)
		if err != nil {
			return fmt.Errorf("failed to check page id availability: %w", err)
		}
		if n > 0 {
			return resource.NewConflictingEditError("That page id is already taken.")
		}
		return nil
	})
}

func titleRules() []validate.Validator {
	return []validate.Validator{
		validate.NotNull("The title must not be null."),
		validate.String("The title must be a string."),
		validate.NotEmpty("The title must not be empty."),
		validate.MaxLength("The title must be at most 200 characters long.", 200),
	}
}

func bodyRules() []validate.Validator {
	return []validate.Validator{
		validate.NotNull("The body must not be null."),
		validate.String("The body must be a string."),
		validate.NotEmpty("The body must not be empty."),
	}
}

func adminOnly(principal *auth.Principal, action string) error {
	if principal == nil {
		return resource.NewAuthorisationError("You must authenticate to " + action + " a page.")
	}
	if !principal.Admin {
		return resource.NewAuthorisationError("Only administrators may " + action + " a page.")
	}
	return nil
}

// Create publishes a new page under the id given in the path.
func (m *Module) Create(ctx context.Context, req *resource.Request) (view.Record, error) {
	var out view.Record
	err := m.txn.Run(ctx, req.Auth, func(ctx context.Context, tx *sql.Tx, principal *auth.Principal) error {
		if err := adminOnly(principal, "create"); err != nil {
			return err
		}

		idRules := validate.RuleSet{
			"pageId": {
				validate.Required("The page id is required."),
				wellFormedID(idMessage),
				idAvailable(tx, ""),
			},
		}
		if err := validate.Validate(ctx, req.ParamMap(), idRules); err != nil {
			return err
		}

		body := req.BodyMap()
		rules := validate.RuleSet{
			"title": append([]validate.Validator{
				validate.Required("The title is required."),
			}, titleRules()...),
			"body": append([]validate.Validator{
				validate.Required("The body is required."),
			}, bodyRules()...),
		}
		if err := validate.Validate(ctx, body, rules); err != nil {
			return err
		}

		id := req.Param("pageId")
		_, err := tx.ExecContext(ctx,
			`INSERT INTO pages (id, title, body) VALUES (?, ?, ?)`,
			id, body["title"], body["body"])
		if err != nil {
			return fmt.Errorf("failed to insert page: %w", err)
		}

		r, err := fetchByID(ctx, tx, id)
		if err != nil {
			return err
		}
		out = view.Project([]view.Record{r.record()}, principal, time.Now(), viewPolicy)[0]
		m.logger.Info("page created", "page_id", id, "by", principal.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Read returns a single page. Pages are public.
func (m *Module) Read(ctx context.Context, req *resource.Request) (view.Record, error) {
	if len(req.Query) > 0 {
		return nil, resource.NewMalformedRequestError(
			"A page cannot be addressed by id and filtered at the same time.")
	}
	id := req.Param("pageId")
	if id == "" {
		return nil, resource.NewMalformedRequestError("The page id is required.")
	}

	var out view.Record
	err := m.txn.Run(ctx, req.Auth, func(ctx context.Context, tx *sql.Tx, principal *auth.Principal) error {
		r, err := fetchByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if r == nil {
			return resource.NewNoSuchResourceError("There is no page with that id.")
		}
		out = view.Project([]view.Record{r.record()}, principal, time.Now(), viewPolicy)[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update edits a page's title or body; the id may be changed too.
func (m *Module) Update(ctx context.Context, req *resource.Request) (view.Record, error) {
	if len(req.Query) > 0 {
		return nil, resource.NewMalformedRequestError(
			"A page cannot be addressed by id and filtered at the same time.")
	}
	id := req.Param("pageId")
	if id == "" {
		return nil, resource.NewMalformedRequestError("The page id is required.")
	}

	var out view.Record
	err := m.txn.Run(ctx, req.Auth, func(ctx context.Context, tx *sql.Tx, principal *auth.Principal) error {
		if err := adminOnly(principal, "edit"); err != nil {
			return err
		}
		target, err := fetchByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if target == nil {
			return resource.NewNoSuchResourceError("There is no page with that id.")
		}

		body := req.BodyMap()
		rules := validate.RuleSet{
			"id": {
				validate.NotNull("The page id must not be null."),
				validate.String("The page id must be a string."),
				wellFormedID(idMessage),
				idAvailable(tx, target.id),
			},
			"title": titleRules(),
			"body":  bodyRules(),
		}
		if err := validate.Validate(ctx, body, rules); err != nil {
			return err
		}

		var sets []string
		var args []any
		for _, c := range []struct{ attr, column string }{
			{"id", "id"}, {"title", "title"}, {"body", "body"},
		} {
			if value, ok := body[c.attr]; ok {
				sets = append(sets, c.column+" = ?")
				args = append(args, value)
			}
		}
		if len(sets) > 0 {
			args = append(args, store.EscapeLike(target.id))
			_, err = tx.ExecContext(ctx, `
				UPDATE pages SET `+strings.Join(sets, ", ")+`
				WHERE id LIKE ? ESCAPE '\'`, args...)
			if err != nil {
				return fmt.Errorf("failed to update page %q: %w", target.id, err)
			}
		}

		newID := target.id
		if renamed, ok := body["id"].(string); ok {
			newID = renamed
		}
		updated, err := fetchByID(ctx, tx, newID)
		if err != nil {
			return err
		}
		out = view.Project([]view.Record{updated.record()}, principal, time.Now(), viewPolicy)[0]
		m.logger.Info("page updated", "page_id", newID, "by", principal.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a page.
func (m *Module) Delete(ctx context.Context, req *resource.Request) error {
	id := req.Param("pageId")
	if id == "" {
		return resource.NewMalformedRequestError("The page id is required.")
	}
	return m.txn.Run(ctx, req.Auth, func(ctx context.Context, tx *sql.Tx, principal *auth.Principal) error {
		if err := adminOnly(principal, "delete"); err != nil {
			return err
		}
		target, err := fetchByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if target == nil {
			return resource.NewNoSuchResourceError("There is no page with that id.")
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM pages WHERE id LIKE ? ESCAPE '\'`,
			store.EscapeLike(target.id))
		if err != nil {
			return fmt.Errorf("failed to delete page %q: %w", target.id, err)
		}
		m.logger.Info("page deleted", "page_id", target.id, "by", principal.ID)
		return nil
	})
}

// List returns all pages in id order. The page set is small and fixed
// enough that pagination still applies but rarely matters.
func (m *Module) List(ctx context.Context, req *resource.Request) ([]view.Record, error) {
	var out []view.Record
	err := m.txn.Run(ctx, req.Auth, func(ctx context.Context, tx *sql.Tx, principal *auth.Principal) error {
		query := req.QueryMap()
		rules := validate.RuleSet{
			"page": {validate.NaturalNumber("The page must be a natural number.")},
			"sortBy": {validate.OneOf("Pages can be sorted by id or title.",
				"id", "title")},
			"sortOrder": {validate.OneOf("The sort order must be ascending or descending.",
				"ascending", "descending")},
		}
		if err := validate.Validate(ctx, query, rules); err != nil {
			return err
		}

		column := "id"
		if sortBy, ok := query["sortBy"].(string); ok {
			column = sortBy // both allowed values are their own column
		}
		direction := "ASC"
		if query["sortOrder"] == "descending" {
			direction = "DESC"
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT id, title, body FROM pages
			ORDER BY `+column+` `+direction+`
			LIMIT ? OFFSET ?`, resource.PageSize, resource.PageOffset(query))
		if err != nil {
			return fmt.Errorf("failed to list pages: %w", err)
		}
		defer rows.Close()

		var records []view.Record
		for rows.Next() {
			var r row
			if err := rows.Scan(&r.id, &r.title, &r.body); err != nil {
				return fmt.Errorf("failed to scan page row: %w", err)
			}
			records = append(records, r.record())
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to iterate page rows: %w", err)
		}
		out = view.Project(records, principal, time.Now(), viewPolicy)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
