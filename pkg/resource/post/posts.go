// Package post implements the business logic of blog posts: CRUD and
// search with ownership-aware visibility. Posts are addressed by a
// human-readable string id that must begin with an ISO calendar date.
package post

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

// Module implements the blog post resource operations.
type Module struct {
	txn    *auth.Transactor
	logger *slog.Logger
}

// New creates the post module.
func New(txn *auth.Transactor) *Module {
	return &Module{
		txn:    txn,
		logger: slog.Default().With("component", "resource.post"),
	}
}

// Every attribute of a post is world-readable once the post is active;
// visibility of unpublished content is handled by maskInactive before
// projection, so the three attribute sets coincide.
var postAttributes = []string{
	"id", "title", "body", "preview", "author", "postedTime", "timeZone", "active",
}

var viewPolicy = view.Policy{
	Public: postAttributes,
	Self:   postAttributes,
	Admin:  postAttributes,
	SubjectID: func(rec view.Record) int64 {
		author, _ := rec["author"].(view.Record)
		id, _ := author["id"].(int64)
		return id
	},
}

const selectColumns = `
	p.id, p.title, p.body, p.preview, p.posted_time, p.time_zone, p.active,
	u.id, u.given_name, u.family_name`

type row struct {
	id, title, body          string
	preview                  sql.NullString
	postedTime, timeZone     string
	active                   bool
	authorID                 int64
	authorGiven, authorFamily sql.NullString
}

func scanRow(s interface{ Scan(...any) error }) (*row, error) {
	var r row
	err := s.Scan(&r.id, &r.title, &r.body, &r.preview, &r.postedTime,
		&r.timeZone, &r.active, &r.authorID, &r.authorGiven, &r.authorFamily)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *row) record() view.Record {
	author := view.Record{"id": r.authorID}
	if r.authorGiven.Valid {
		author["givenName"] = r.authorGiven.String
	}
	if r.authorFamily.Valid {
		author["familyName"] = r.authorFamily.String
	}
	rec := view.Record{
		"id":         r.id,
		"title":      r.title,
		"body":       r.body,
		"author":     author,
		"postedTime": r.postedTime,
		"timeZone":   r.timeZone,
		"active":     r.active,
	}
	if r.preview.Valid {
		rec["preview"] = r.preview.String
	}
	return rec
}

// fetchByID matches the id case-insensitively, the same comparison the
// uniqueness index uses.
func fetchByID(ctx context.Context, tx *sql.Tx, id string) (*row, error) {
	r, err := scanRow(tx.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM posts p JOIN users u ON u.id = p.author
		WHERE p.id LIKE ? ESCAPE '\'`, store.EscapeLike(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch post %q: %w", id, err)
	}
	return r, nil
}

// maskInactive hides the content of unpublished posts from everyone but
// their author and administrators. The post's existence stays visible:
// id, active flag, and author id survive, the content does not.
func maskInactive(records []view.Record, principal *auth.Principal) []view.Record {
	admin := principal != nil && principal.Admin
	out := make([]view.Record, 0, len(records))
	for _, rec := range records {
		active, _ := rec["active"].(bool)
		author, _ := rec["author"].(view.Record)
		authorID, _ := author["id"].(int64)
		owner := principal != nil && principal.ID == authorID
		if active || admin || owner {
			out = append(out, rec)
			continue
		}
		out = append(out, view.Record{
			"id":     rec["id"],
			"active": active,
			"author": view.Record{"id": authorID},
		})
	}
	return out
}

var idCharacters = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// wellFormedID checks the whole id shape as one rule with one message: an
// allowed character class, a length bound, and a leading ISO calendar date
// that actually exists. Splitting these into separate rules would report a
// malformed id several times over.
func wellFormedID(message string) validate.Validator {
	return validate.Func(func(_ context.Context, value any) error {
		s, ok := value.(string)
		if !ok {
			return nil
		}
		if len(s) < len("2006-01-02") || len(s) > 200 || !idCharacters.MatchString(s) {
			return validate.NewError(message)
		}
		if _, err := time.Parse("2006-01-02", s[:len("2006-01-02")]); err != nil {
			return validate.NewError(message)
		}
		return nil
	})
}

// idAvailable checks case-insensitively that no other post holds the id.
// The record being renamed excludes its own current id, so an update that
// merely changes the id's case is not a conflict with itself.
func idAvailable(tx *sql.Tx, exclude string) validate.Validator {
	return validate.Func(func(ctx context.Context, value any) error {
		s, ok := value.(string)
		if !ok {
			return nil
		}
		var n int
		err := tx.QueryRowContext(ctx, `
			SELECT count(*) FROM posts
			WHERE id LIKE ? ESCAPE '\' AND NOT (id LIKE ? ESCAPE '\')`,
			store.EscapeLike(s), store.EscapeLike(exclude)).Scan(&n)
		if err != nil {
			return fmt.Errorf("failed to check post id availability: %w", err)
		}
		if n > 0 {
			return resource.NewConflictingEditError("That post id is already taken.")
		}
		return nil
	})
}

// asID extracts a user id from a validation value. JSON numbers arrive as
// float64.
func asID(value any) (int64, bool) {
	switch v := value.(type) {
	case float64:
		if v < 0 || v != float64(int64(v)) {
			return 0, false
		}
		return int64(v), true
	case int64:
		return v, v >= 0
	case int:
		return int64(v), v >= 0
	}
	return 0, false
}

// authorRules validate the author sub-object uniformly on create and
// update: it must name an existing user, and it must name the acting
// principal unless the principal is an administrator.
func authorRules(tx *sql.Tx, principal *auth.Principal) []validate.Validator {
	return []validate.Validator{
		validate.NotNull("The author must not be null."),
		validate.Object("The author must be an object carrying the author's user id.", validate.RuleSet{
			"id": {
				validate.Required("The author id is required."),
				validate.NotNull("The author id must not be null."),
				validate.Func(func(ctx context.Context, value any) error {
					if !validate.Present(value) {
						return nil
					}
					id, ok := asID(value)
					if !ok {
						return validate.NewError("The author id must be a whole number.")
					}
					var n int
					err := tx.QueryRowContext(ctx,
						`SELECT count(*) FROM users WHERE id = ?`, id).Scan(&n)
					if err != nil {
						return fmt.Errorf("failed to check author existence: %w", err)
					}
					if n == 0 {
						return validate.NewError("There is no user with that id.")
					}
					return nil
				}),
				validate.Func(func(_ context.Context, value any) error {
					id, ok := asID(value)
					if !ok {
						return nil
					}
					if principal.Admin || principal.ID == id {
						return nil
					}
					return validate.NewError("You may only write posts as yourself.")
				}),
			},
		}),
	}
}

func validTimeZone(message string) validate.Validator {
	return validate.Func(func(_ context.Context, value any) error {
		s, ok := value.(string)
		if !ok {
			return nil
		}
		// LoadLocation accepts "" and "Local", neither of which is a
		// portable zone name.
		if s == "" || s == "Local" {
			return validate.NewError(message)
		}
		if _, err := time.LoadLocation(s); err != nil {
			return validate.NewError(message)
		}
		return nil
	})
}

func validTimestamp(message string) validate.Validator {
	return validate.Func(func(_ context.Context, value any) error {
		s, ok := value.(string)
		if !ok {
			return nil
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return validate.NewError(message)
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

func previewRules() []validate.Validator {
	// A null preview is allowed and clears the column; readers fall back
	// to the body.
	return []validate.Validator{
		validate.String("The preview must be a string."),
		validate.MaxLength("The preview must be at most 1000 characters long.", 1000),
	}
}

func postedTimeRules() []validate.Validator {
	return []validate.Validator{
		validate.NotNull("The posted time must not be null."),
		validate.String("The posted time must be a string."),
		validTimestamp("The posted time must be an ISO-8601 timestamp."),
	}
}

func timeZoneRules() []validate.Validator {
	return []validate.Validator{
		validate.NotNull("The time zone must not be null."),
		validate.String("The time zone must be a string."),
		validTimeZone("The time zone must be a recognised IANA time zone name."),
	}
}

const idMessage = "The post id must be made of letters, numbers and dashes, " +
	"at most 200 characters, starting with the calendar date of the post."

// mayBlog is the coarse authorization gate for writing posts.
func mayBlog(principal *auth.Principal) error {
	if principal == nil {
		return resource.NewAuthorisationError("You must authenticate to write a post.")
	}
	if !principal.AuthorisedToBlog && !principal.Admin {
		return resource.NewAuthorisationError("You are not authorised to blog.")
	}
	return nil
}

// Create publishes a new post under the id given in the path.
func (m *Module) Create(ctx context.Context, req *resource.Request) (view.Record, error) {
	var out view.Record
	err := m.txn.Run(ctx, req.Auth, func(ctx context.Context, tx *sql.Tx, principal *auth.Principal) error {
		if err := mayBlog(principal); err != nil {
			return err
		}

		idRules := validate.RuleSet{
			"postId": {
				validate.Required("The post id is required."),
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
			"preview": previewRules(),
			"author": append([]validate.Validator{
				validate.Required("The author is required."),
			}, authorRules(tx, principal)...),
			"postedTime": append([]validate.Validator{
				validate.Required("The posted time is required."),
			}, postedTimeRules()...),
			"timeZone": append([]validate.Validator{
				validate.Required("The time zone is required."),
			}, timeZoneRules()...),
			"active": {
				validate.NotNull("The active flag must not be null."),
				validate.Boolean("The active flag must be a boolean."),
			},
		}
		if err := validate.Validate(ctx, body, rules); err != nil {
			return err
		}

		id := req.Param("postId")
		authorID, _ := asID(body["author"].(map[string]any)["id"])
		active, _ := body["active"].(bool)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO posts (id, title, body, preview, author, posted_time, time_zone, active)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, body["title"], body["body"], optional(body, "preview"),
			authorID, body["postedTime"], body["timeZone"], active)
		if err != nil {
			return fmt.Errorf("failed to insert post: %w", err)
		}

		r, err := fetchByID(ctx, tx, id)
		if err != nil {
			return err
		}
		masked := maskInactive([]view.Record{r.record()}, principal)
		out = view.Project(masked, principal, time.Now(), viewPolicy)[0]
		m.logger.Info("post created", "post_id", id, "by", principal.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Read returns a single post. Unpublished posts are returned with their
// content stripped rather than hidden outright; the id namespace is
// public, the content is not.
func (m *Module) Read(ctx context.Context, req *resource.Request) (view.Record, error) {
	if len(req.Query) > 0 {
		return nil, resource.NewMalformedRequestError(
			"A post cannot be addressed by id and filtered at the same time.")
	}
	id := req.Param("postId")
	if id == "" {
		return nil, resource.NewMalformedRequestError("The post id is required.")
	}

	var out view.Record
	err := m.txn.Run(ctx, req.Auth, func(ctx context.Context, tx *sql.Tx, principal *auth.Principal) error {
		r, err := fetchByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if r == nil {
			return resource.NewNoSuchResourceError("There is no post with that id.")
		}
		masked := maskInactive([]view.Record{r.record()}, principal)
		out = view.Project(masked, principal, time.Now(), viewPolicy)[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update edits a post. Only the post's author or an administrator may
// edit it; the id itself may be changed through the body.
func (m *Module) Update(ctx context.Context, req *resource.Request) (view.Record, error) {
	if len(req.Query) > 0 {
		return nil, resource.NewMalformedRequestError(
			"A post cannot be addressed by id and filtered at the same time.")
	}
	id := req.Param("postId")
	if id == "" {
		return nil, resource.NewMalformedRequestError("The post id is required.")
	}

	var out view.Record
	err := m.txn.Run(ctx, req.Auth, func(ctx context.Context, tx *sql.Tx, principal *auth.Principal) error {
		if err := mayBlog(principal); err != nil {
			return err
		}
		target, err := fetchByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if target == nil {
			return resource.NewNoSuchResourceError("There is no post with that id.")
		}
		if !principal.Admin && principal.ID != target.authorID {
			return resource.NewAuthorisationError("You may only edit your own posts.")
		}

		body := req.BodyMap()
		rules := validate.RuleSet{
			"id": {
				validate.NotNull("The post id must not be null."),
				validate.String("The post id must be a string."),
				wellFormedID(idMessage),
				idAvailable(tx, target.id),
			},
			"title":      titleRules(),
			"body":       bodyRules(),
			"preview":    previewRules(),
			"author":     authorRules(tx, principal),
			"postedTime": postedTimeRules(),
			"timeZone":   timeZoneRules(),
			"active": {
				validate.NotNull("The active flag must not be null."),
				validate.Boolean("The active flag must be a boolean."),
			},
		}
		if err := validate.Validate(ctx, body, rules); err != nil {
			return err
		}

		if err := applyUpdate(ctx, tx, target.id, body); err != nil {
			return err
		}
		newID := target.id
		if renamed, ok := body["id"].(string); ok {
			newID = renamed
		}
		updated, err := fetchByID(ctx, tx, newID)
		if err != nil {
			return err
		}
		masked := maskInactive([]view.Record{updated.record()}, principal)
		out = view.Project(masked, principal, time.Now(), viewPolicy)[0]
		m.logger.Info("post updated", "post_id", newID, "by", principal.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// applyUpdate writes the present attributes of body onto the post row.
func applyUpdate(ctx context.Context, tx *sql.Tx, id string, body map[string]any) error {
	columns := []struct {
		attr, column string
	}{
		{"id", "id"},
		{"title", "title"},
		{"body", "body"},
		{"preview", "preview"},
		{"postedTime", "posted_time"},
		{"timeZone", "time_zone"},
		{"active", "active"},
	}
	var sets []string
	var args []any
	for _, c := range columns {
		if value, ok := body[c.attr]; ok {
			sets = append(sets, c.column+" = ?")
			args = append(args, value)
		}
	}
	if author, ok := body["author"].(map[string]any); ok {
		authorID, _ := asID(author["id"])
		sets = append(sets, "author = ?")
		args = append(args, authorID)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, store.EscapeLike(id))
	_, err := tx.ExecContext(ctx, `
		UPDATE posts SET `+strings.Join(sets, ", ")+`
		WHERE id LIKE ? ESCAPE '\'`, args...)
	if err != nil {
		return fmt.Errorf("failed to update post %q: %w", id, err)
	}
	return nil
}

// Delete removes a post. Only the post's author or an administrator may
// delete it.
func (m *Module) Delete(ctx context.Context, req *resource.Request) error {
	id := req.Param("postId")
	if id == "" {
		return resource.NewMalformedRequestError("The post id is required.")
	}
	return m.txn.Run(ctx, req.Auth, func(ctx context.Context, tx *sql.Tx, principal *auth.Principal) error {
		if err := mayBlog(principal); err != nil {
			return err
		}
		target, err := fetchByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if target == nil {
			return resource.NewNoSuchResourceError("There is no post with that id.")
		}
		if !principal.Admin && principal.ID != target.authorID {
			return resource.NewAuthorisationError("You may only delete your own posts.")
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM posts WHERE id LIKE ? ESCAPE '\'`,
			store.EscapeLike(target.id))
		if err != nil {
			return fmt.Errorf("failed to delete post %q: %w", target.id, err)
		}
		m.logger.Info("post deleted", "post_id", target.id, "by", principal.ID)
		return nil
	})
}

var sortColumns = map[string]string{
	"postedTime": "p.posted_time",
	"title":      "p.title",
	"id":         "p.id",
}

// List searches posts, newest first by default. Unpublished posts appear
// with their content stripped, the same masking Read applies.
func (m *Module) List(ctx context.Context, req *resource.Request) ([]view.Record, error) {
	var out []view.Record
	err := m.txn.Run(ctx, req.Auth, func(ctx context.Context, tx *sql.Tx, principal *auth.Principal) error {
		query := req.QueryMap()
		rules := validate.RuleSet{
			"page": {validate.NaturalNumber("The page must be a natural number.")},
			"sortBy": {validate.OneOf("Posts can be sorted by postedTime, title or id.",
				"postedTime", "title", "id")},
			"sortOrder": {validate.OneOf("The sort order must be ascending or descending.",
				"ascending", "descending")},
			"author": {validate.NaturalNumber("The author filter must be a user id.")},
			"active": {validate.OneOf("The active filter must be true or false.",
				"true", "false")},
		}
		if err := validate.Validate(ctx, query, rules); err != nil {
			return err
		}

		where := []string{"1 = 1"}
		var args []any
		if author, ok := query["author"].(string); ok {
			where = append(where, "p.author = ?")
			args = append(args, author)
		}
		if active, ok := query["active"].(string); ok {
			where = append(where, "p.active = ?")
			args = append(args, active == "true")
		}

		column := "p.posted_time"
		if sortBy, ok := query["sortBy"].(string); ok {
			column = sortColumns[sortBy]
		}
		// A blog reads newest first unless asked otherwise.
		direction := "DESC"
		if query["sortOrder"] == "ascending" {
			direction = "ASC"
		}
		args = append(args, resource.PageSize, resource.PageOffset(query))

		rows, err := tx.QueryContext(ctx, `
			SELECT `+selectColumns+`
			FROM posts p JOIN users u ON u.id = p.author
			WHERE `+strings.Join(where, " AND ")+`
			ORDER BY `+column+` `+direction+`
			LIMIT ? OFFSET ?`, args...)
		if err != nil {
			return fmt.Errorf("failed to list posts: %w", err)
		}
		defer rows.Close()

		var records []view.Record
		for rows.Next() {
			r, err := scanRow(rows)
			if err != nil {
				return fmt.Errorf("failed to scan post row: %w", err)
			}
			records = append(records, r.record())
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to iterate post rows: %w", err)
		}
		out = view.Project(maskInactive(records, principal), principal, time.Now(), viewPolicy)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func optional(body map[string]any, name string) any {
	if value, ok := body[name]; ok {
		return value
	}
	return nil
}
