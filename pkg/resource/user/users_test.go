package user_test

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"atrium-hq/atrium/internal/dbtest"
	"atrium-hq/atrium/internal/mailtest"
	"atrium-hq/atrium/pkg/auth"
	"atrium-hq/atrium/pkg/resource"
	"atrium-hq/atrium/pkg/resource/user"
	"atrium-hq/atrium/pkg/store"
	"atrium-hq/atrium/pkg/validate"
)

func newModule(t *testing.T) (*user.Module, *store.Store, *mailtest.Sender) {
	t.Helper()
	st := dbtest.NewStore(t)
	mailer := &mailtest.Sender{}
	m := user.New(auth.NewTransactor(st), mailer, user.WithBcryptCost(bcrypt.MinCost))
	return m, st, mailer
}

var keyPattern = regexp.MustCompile(`[A-Za-z0-9]{30}`)

func TestCreateSendsWelcomeKey(t *testing.T) {
	m, st, mailer := newModule(t)

	rec, err := m.Create(context.Background(), &resource.Request{
		Body: map[string]any{
			"emailAddress": "alice@example.com",
			"givenName":    "Alice",
			"familyName":   "Smith",
		},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if rec["emailAddress"] != "alice@example.com" {
		t.Errorf("record emailAddress = %v, want the creator to see their own address", rec["emailAddress"])
	}
	if _, ok := rec["admin"]; ok {
		t.Error("admin flag visible to non-admin creator")
	}

	sent := mailer.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d mails, want 1", len(sent))
	}
	if sent[0].To != "alice@example.com" {
		t.Errorf("mail to %q, want alice@example.com", sent[0].To)
	}
	key := keyPattern.FindString(sent[0].Body)
	if key == "" {
		t.Fatalf("welcome mail body %q contains no 30-character key", sent[0].Body)
	}

	hash := dbtest.QueryString(t, st,
		`SELECT password_reset_key_hash FROM users WHERE email_address = 'alice@example.com'`)
	if !hash.Valid {
		t.Fatal("no reset key hash stored")
	}
	if bcrypt.CompareHashAndPassword([]byte(hash.String), []byte(key)) != nil {
		t.Error("stored reset key hash does not match the emailed key")
	}
}

func TestCreateDuplicateEmailConflicts(t *testing.T) {
	m, _, _ := newModule(t)
	body := map[string]any{"emailAddress": "alice@example.com"}
	if _, err := m.Create(context.Background(), &resource.Request{Body: body}); err != nil {
		t.Fatalf("first Create() error = %v", err)
	}

	_, err := m.Create(context.Background(), &resource.Request{
		Body: map[string]any{"emailAddress": "ALICE@example.com"},
	})
	var conflict *resource.ConflictingEditError
	if !errors.As(err, &conflict) {
		t.Fatalf("Create(case-variant duplicate) = %v, want ConflictingEditError", err)
	}
}

func TestCreateClosedSchema(t *testing.T) {
	m, _, mailer := newModule(t)

	_, err := m.Create(context.Background(), &resource.Request{
		Body: map[string]any{
			"emailAddress": "alice@example.com",
			"givenName":    "Alice",
			"familyName":   "Smith",
			"silly":        "x",
		},
	})
	var verr *validate.Error
	if !errors.As(err, &verr) {
		t.Fatalf("Create() = %v, want validation error", err)
	}
	if len(verr.Messages) != 1 {
		t.Fatalf("messages = %v, want exactly one offending attribute", verr.Messages)
	}
	if got := verr.Messages["silly"].Messages; len(got) != 1 {
		t.Errorf("silly messages = %v, want exactly one", got)
	}
	if len(mailer.Sent()) != 0 {
		t.Error("mail sent despite validation failure")
	}
}

func TestCreateRollsBackOnMailFailure(t *testing.T) {
	m, st, mailer := newModule(t)
	mailer.Err = errors.New("relay unreachable")

	_, err := m.Create(context.Background(), &resource.Request{
		Body: map[string]any{"emailAddress": "alice@example.com"},
	})
	if err == nil {
		t.Fatal("Create() succeeded despite mail failure")
	}

	count := dbtest.QueryString(t, st, `SELECT count(*) FROM users`)
	if count.String != "0" {
		t.Errorf("user count = %s, want 0 (creation rolled back)", count.String)
	}
}

func TestReadVisibility(t *testing.T) {
	m, st, _ := newModule(t)
	complete := dbtest.CreateUser(t, st, dbtest.UserSpec{
		EmailAddress: "alice@example.com", GivenName: "Alice", FamilyName: "Smith",
		Password: "pw12345678", Active: true,
	})
	incomplete := dbtest.CreateUser(t, st, dbtest.UserSpec{
		EmailAddress: "bob@example.com", Password: "pw12345678", Active: true,
	})
	dbtest.CreateUser(t, st, dbtest.UserSpec{
		EmailAddress: "root@example.com", GivenName: "Root", FamilyName: "Root",
		Password: "pw12345678", Active: true, Admin: true,
	})

	t.Run("anonymous reads complete user with public attributes", func(t *testing.T) {
		rec, err := m.Read(context.Background(), &resource.Request{
			Params: map[string]string{"userId": itoa(complete)},
		})
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if _, ok := rec["emailAddress"]; ok {
			t.Error("emailAddress visible to anonymous viewer")
		}
		if rec["givenName"] != "Alice" {
			t.Errorf("givenName = %v, want Alice", rec["givenName"])
		}
	})

	t.Run("anonymous cannot see incomplete user", func(t *testing.T) {
		_, err := m.Read(context.Background(), &resource.Request{
			Params: map[string]string{"userId": itoa(incomplete)},
		})
		var nsr *resource.NoSuchResourceError
		if !errors.As(err, &nsr) {
			t.Fatalf("Read(incomplete) = %v, want NoSuchResourceError", err)
		}
	})

	t.Run("subject sees own incomplete account", func(t *testing.T) {
		rec, err := m.Read(context.Background(), &resource.Request{
			Auth:   &auth.Credentials{EmailAddress: "bob@example.com", Password: "pw12345678"},
			Params: map[string]string{"userId": itoa(incomplete)},
		})
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if rec["emailAddress"] != "bob@example.com" {
			t.Errorf("emailAddress = %v, want visible to subject", rec["emailAddress"])
		}
	})

	t.Run("admin sees admin attributes", func(t *testing.T) {
		rec, err := m.Read(context.Background(), &resource.Request{
			Auth:   &auth.Credentials{EmailAddress: "root@example.com", Password: "pw12345678"},
			Params: map[string]string{"userId": itoa(complete)},
		})
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if _, ok := rec["admin"]; !ok {
			t.Error("admin flag missing from admin's view")
		}
	})

	t.Run("id with query filters is malformed", func(t *testing.T) {
		_, err := m.Read(context.Background(), &resource.Request{
			Params: map[string]string{"userId": itoa(complete)},
			Query:  map[string]string{"givenName": "Alice"},
		})
		var malformed *resource.MalformedRequestError
		if !errors.As(err, &malformed) {
			t.Fatalf("Read(id+filter) = %v, want MalformedRequestError", err)
		}
	})
}

func TestUpdateAuthorisation(t *testing.T) {
	m, st, _ := newModule(t)
	alice := dbtest.CreateUser(t, st, dbtest.UserSpec{
		EmailAddress: "alice@example.com", GivenName: "Alice", FamilyName: "Smith",
		Password: "pw12345678", Active: true,
	})
	dbtest.CreateUser(t, st, dbtest.UserSpec{
		EmailAddress: "eve@example.com", GivenName: "Eve", FamilyName: "Jones",
		Password: "pw12345678", Active: true,
	})

	t.Run("anonymous cannot edit", func(t *testing.T) {
		_, err := m.Update(context.Background(), &resource.Request{
			Params: map[string]string{"userId": itoa(alice)},
			Body:   map[string]any{"givenName": "Alicia"},
		})
		var authz *resource.AuthorisationError
		if !errors.As(err, &authz) {
			t.Fatalf("Update() = %v, want AuthorisationError", err)
		}
	})

	t.Run("third party cannot edit", func(t *testing.T) {
		_, err := m.Update(context.Background(), &resource.Request{
			Auth:   &auth.Credentials{EmailAddress: "eve@example.com", Password: "pw12345678"},
			Params: map[string]string{"userId": itoa(alice)},
			Body:   map[string]any{"givenName": "Hacked"},
		})
		var authz *resource.AuthorisationError
		if !errors.As(err, &authz) {
			t.Fatalf("Update() = %v, want AuthorisationError", err)
		}
	})

	t.Run("non-admin cannot grant flags", func(t *testing.T) {
		_, err := m.Update(context.Background(), &resource.Request{
			Auth:   &auth.Credentials{EmailAddress: "alice@example.com", Password: "pw12345678"},
			Params: map[string]string{"userId": itoa(alice)},
			Body:   map[string]any{"admin": true, "authorisedToBlog": true},
		})
		var verr *validate.Error
		if !errors.As(err, &verr) {
			t.Fatalf("Update() = %v, want validation error", err)
		}
		if len(verr.Messages) != 2 {
			t.Errorf("messages = %v, want both flags rejected together", verr.Messages)
		}
	})

	t.Run("self edit applies", func(t *testing.T) {
		rec, err := m.Update(context.Background(), &resource.Request{
			Auth:   &auth.Credentials{EmailAddress: "alice@example.com", Password: "pw12345678"},
			Params: map[string]string{"userId": itoa(alice)},
			Body:   map[string]any{"givenName": "Alicia"},
		})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if rec["givenName"] != "Alicia" {
			t.Errorf("givenName = %v, want Alicia", rec["givenName"])
		}
	})
}

func TestUpdateAtomicity(t *testing.T) {
	// A validation failure on one attribute, arriving after the email
	// uniqueness check has already read the table, must leave the row
	// untouched.
	m, st, _ := newModule(t)
	alice := dbtest.CreateUser(t, st, dbtest.UserSpec{
		EmailAddress: "alice@example.com", GivenName: "Alice", FamilyName: "Smith",
		Password: "pw12345678", Active: true,
	})

	_, err := m.Update(context.Background(), &resource.Request{
		Auth:   &auth.Credentials{EmailAddress: "alice@example.com", Password: "pw12345678"},
		Params: map[string]string{"userId": itoa(alice)},
		Body: map[string]any{
			"emailAddress": "new@example.com",
			"givenName":    "",
		},
	})
	var verr *validate.Error
	if !errors.As(err, &verr) {
		t.Fatalf("Update() = %v, want validation error", err)
	}

	stored := dbtest.QueryString(t, st,
		`SELECT email_address FROM users WHERE id = ?`, alice)
	if stored.String != "alice@example.com" {
		t.Errorf("email_address = %q, want unchanged after failed validation", stored.String)
	}
}

func TestListSortAuthorisation(t *testing.T) {
	m, st, _ := newModule(t)
	dbtest.CreateUser(t, st, dbtest.UserSpec{
		EmailAddress: "alice@example.com", GivenName: "Alice", FamilyName: "Smith",
		Password: "pw12345678", Active: true,
	})
	dbtest.CreateUser(t, st, dbtest.UserSpec{
		EmailAddress: "root@example.com", GivenName: "Root", FamilyName: "Root",
		Password: "pw12345678", Active: true, Admin: true,
	})

	t.Run("anonymous cannot sort by email address", func(t *testing.T) {
		_, err := m.List(context.Background(), &resource.Request{
			Query: map[string]string{"sortBy": "emailAddress"},
		})
		var verr *validate.Error
		if !errors.As(err, &verr) {
			t.Fatalf("List() = %v, want validation error", err)
		}
		if _, ok := verr.Messages["sortBy"]; !ok {
			t.Errorf("messages = %v, want sortBy rejected", verr.Messages)
		}
	})

	t.Run("admin sorts by email address", func(t *testing.T) {
		recs, err := m.List(context.Background(), &resource.Request{
			Auth:  &auth.Credentials{EmailAddress: "root@example.com", Password: "pw12345678"},
			Query: map[string]string{"sortBy": "emailAddress"},
		})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(recs) != 2 {
			t.Errorf("listed %d users, want 2", len(recs))
		}
	})

	t.Run("unknown filter rejected by closed schema", func(t *testing.T) {
		_, err := m.List(context.Background(), &resource.Request{
			Query: map[string]string{"shoeSize": "45"},
		})
		var verr *validate.Error
		if !errors.As(err, &verr) {
			t.Fatalf("List() = %v, want validation error", err)
		}
	})
}

func TestDelete(t *testing.T) {
	m, st, _ := newModule(t)
	alice := dbtest.CreateUser(t, st, dbtest.UserSpec{
		EmailAddress: "alice@example.com", GivenName: "Alice", FamilyName: "Smith",
		Password: "pw12345678", Active: true,
	})

	err := m.Delete(context.Background(), &resource.Request{
		Auth:   &auth.Credentials{EmailAddress: "alice@example.com", Password: "pw12345678"},
		Params: map[string]string{"userId": itoa(alice)},
	})
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	count := dbtest.QueryString(t, st, `SELECT count(*) FROM users`)
	if count.String != "0" {
		t.Errorf("user count = %s, want 0", count.String)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
