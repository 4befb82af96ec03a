package page_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"atrium-hq/atrium/internal/dbtest"
	"atrium-hq/atrium/pkg/auth"
	"atrium-hq/atrium/pkg/resource"
	"atrium-hq/atrium/pkg/resource/page"
	"atrium-hq/atrium/pkg/store"
	"atrium-hq/atrium/pkg/validate"
	"atrium-hq/atrium/pkg/view"
)

func newModule(t *testing.T) (*page.Module, *store.Store) {
	t.Helper()
	st := dbtest.NewStore(t)
	return page.New(auth.NewTransactor(st)), st
}

func seedAdmin(t *testing.T, st *store.Store) *auth.Credentials {
	t.Helper()
	dbtest.CreateUser(t, st, dbtest.UserSpec{
		EmailAddress: "root@example.com", GivenName: "Root", FamilyName: "Admin",
		Password: "password1", Active: true, Admin: true,
	})
	return &auth.Credentials{EmailAddress: "root@example.com", Password: "password1"}
}

func TestCreate(t *testing.T) {
	m, st := newModule(t)
	admin := seedAdmin(t, st)

	rec, err := m.Create(context.Background(), &resource.Request{
		Auth:   admin,
		Params: map[string]string{"pageId": "about"},
		Body:   map[string]any{"title": "About", "body": "All about us."},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	want := view.Record{"id": "about", "title": "About", "body": "All about us."}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("created page mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateAuthorisation(t *testing.T) {
	m, st := newModule(t)
	dbtest.CreateUser(t, st, dbtest.UserSpec{
		EmailAddress: "bob@example.com", GivenName: "Bob", FamilyName: "Jones",
		Password: "password1", Active: true, AuthorisedToBlog: true,
	})

	tests := []struct {
		name string
		auth *auth.Credentials
	}{
		{"anonymous", nil},
		{"non-admin", &auth.Credentials{EmailAddress: "bob@example.com", Password: "password1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Create(context.Background(), &resource.Request{
				Auth:   tt.auth,
				Params: map[string]string{"pageId": "about"},
				Body:   map[string]any{"title": "About", "body": "All about us."},
			})
			var authz *resource.AuthorisationError
			if !errors.As(err, &authz) {
				t.Fatalf("Create() = %v, want AuthorisationError", err)
			}
		})
	}
}

func TestCreateRejectsBadSlug(t *testing.T) {
	m, st := newModule(t)
	admin := seedAdmin(t, st)

	_, err := m.Create(context.Background(), &resource.Request{
		Auth:   admin,
		Params: map[string]string{"pageId": "About Us!"},
		Body:   map[string]any{"title": "About", "body": "All about us."},
	})
	var verr *validate.Error
	if !errors.As(err, &verr) {
		t.Fatalf("Create(bad slug) = %v, want validation error", err)
	}
	if got := verr.Messages["pageId"].Messages; len(got) != 1 {
		t.Errorf("pageId messages = %v, want exactly one", got)
	}
}

func TestCreateDuplicateIDConflicts(t *testing.T) {
	m, st := newModule(t)
	admin := seedAdmin(t, st)
	dbtest.CreatePage(t, st, "about", "About", "All about us.")

	_, err := m.Create(context.Background(), &resource.Request{
		Auth:   admin,
		Params: map[string]string{"pageId": "about"},
		Body:   map[string]any{"title": "About", "body": "Again."},
	})
	var conflict *resource.ConflictingEditError
	if !errors.As(err, &conflict) {
		t.Fatalf("Create(duplicate id) = %v, want ConflictingEditError", err)
	}
}

func TestReadIsPublic(t *testing.T) {
	m, st := newModule(t)
	dbtest.CreatePage(t, st, "contact", "Contact", "Write to us.")

	rec, err := m.Read(context.Background(), &resource.Request{
		Params: map[string]string{"pageId": "contact"},
	})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if rec["body"] != "Write to us." {
		t.Errorf("page = %v", rec)
	}

	_, err = m.Read(context.Background(), &resource.Request{
		Params: map[string]string{"pageId": "missing"},
	})
	var nsr *resource.NoSuchResourceError
	if !errors.As(err, &nsr) {
		t.Fatalf("Read(missing) = %v, want NoSuchResourceError", err)
	}
}

func TestUpdate(t *testing.T) {
	m, st := newModule(t)
	admin := seedAdmin(t, st)
	dbtest.CreatePage(t, st, "about", "About", "Old text.")

	rec, err := m.Update(context.Background(), &resource.Request{
		Auth:   admin,
		Params: map[string]string{"pageId": "ABOUT"},
		Body:   map[string]any{"body": "New text."},
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if rec["body"] != "New text." || rec["title"] != "About" {
		t.Errorf("updated page = %v", rec)
	}
}

func TestDelete(t *testing.T) {
	m, st := newModule(t)
	admin := seedAdmin(t, st)
	dbtest.CreatePage(t, st, "about", "About", "Text.")

	if err := m.Delete(context.Background(), &resource.Request{
		Auth:   admin,
		Params: map[string]string{"pageId": "about"},
	}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	_, err := m.Read(context.Background(), &resource.Request{
		Params: map[string]string{"pageId": "about"},
	})
	var nsr *resource.NoSuchResourceError
	if !errors.As(err, &nsr) {
		t.Fatalf("Read(deleted) = %v, want NoSuchResourceError", err)
	}
}

func TestList(t *testing.T) {
	m, st := newModule(t)
	dbtest.CreatePage(t, st, "about", "About", "A.")
	dbtest.CreatePage(t, st, "contact", "Contact", "C.")

	records, err := m.List(context.Background(), &resource.Request{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	var ids []string
	for _, rec := range records {
		ids = append(ids, rec["id"].(string))
	}
	if diff := cmp.Diff([]string{"about", "contact"}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
}
