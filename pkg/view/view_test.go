package view

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"atrium-hq/atrium/pkg/auth"
)

var testPolicy = Policy{
	Public: []string{"id", "givenName"},
	Self:   []string{"id", "givenName", "emailAddress"},
	Admin:  []string{"id", "givenName", "emailAddress", "admin"},
	SubjectID: func(rec Record) int64 {
		id, _ := rec["id"].(int64)
		return id
	},
	Complete: func(rec Record) bool {
		name, _ := rec["givenName"].(string)
		return name != ""
	},
}

func record() Record {
	return Record{
		"id":           int64(7),
		"givenName":    "Alice",
		"emailAddress": "alice@example.com",
		"admin":        false,
		"passwordHash": "$2a$04$secret",
	}
}

func TestProjectAttributeSets(t *testing.T) {
	tests := []struct {
		name      string
		principal *auth.Principal
		want      Record
	}{
		{
			name:      "anonymous viewer gets public set",
			principal: nil,
			want:      Record{"id": int64(7), "givenName": "Alice"},
		},
		{
			name:      "third party gets public set",
			principal: &auth.Principal{ID: 99},
			want:      Record{"id": int64(7), "givenName": "Alice"},
		},
		{
			name:      "subject gets self set",
			principal: &auth.Principal{ID: 7},
			want:      Record{"id": int64(7), "givenName": "Alice", "emailAddress": "alice@example.com"},
		},
		{
			name:      "admin gets admin set",
			principal: &auth.Principal{ID: 99, Admin: true},
			want: Record{
				"id": int64(7), "givenName": "Alice",
				"emailAddress": "alice@example.com", "admin": false,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Project([]Record{record()}, tt.principal, time.Now(), testPolicy)
			if len(got) != 1 {
				t.Fatalf("Project() returned %d records, want 1", len(got))
			}
			if diff := cmp.Diff(tt.want, got[0]); diff != "" {
				t.Errorf("projection mismatch (-want +got):\n%s", diff)
			}
			if _, leaked := got[0]["passwordHash"]; leaked {
				t.Error("passwordHash leaked into projected record")
			}
		})
	}
}

func TestProjectionSetsNest(t *testing.T) {
	// public ⊆ self ⊆ admin, checked on an actual projection rather than
	// on the policy declaration.
	rec := record()
	public := Project([]Record{rec}, nil, time.Now(), testPolicy)[0]
	self := Project([]Record{rec}, &auth.Principal{ID: 7}, time.Now(), testPolicy)[0]
	admin := Project([]Record{rec}, &auth.Principal{ID: 1, Admin: true}, time.Now(), testPolicy)[0]

	for name, value := range public {
		if got, ok := self[name]; !ok || got != value {
			t.Errorf("self projection missing public attribute %q", name)
		}
	}
	for name, value := range self {
		if got, ok := admin[name]; !ok || got != value {
			t.Errorf("admin projection missing self attribute %q", name)
		}
	}
}

func TestProjectCompletenessFilter(t *testing.T) {
	incomplete := record()
	delete(incomplete, "givenName")

	if got := Project([]Record{incomplete}, nil, time.Now(), testPolicy); len(got) != 0 {
		t.Errorf("anonymous view of incomplete record = %v, want dropped", got)
	}
	if got := Project([]Record{incomplete}, &auth.Principal{ID: 99}, time.Now(), testPolicy); len(got) != 0 {
		t.Errorf("third-party view of incomplete record = %v, want dropped", got)
	}
	if got := Project([]Record{incomplete}, &auth.Principal{ID: 7}, time.Now(), testPolicy); len(got) != 1 {
		t.Errorf("subject view of incomplete record dropped, want visible")
	}
	if got := Project([]Record{incomplete}, &auth.Principal{ID: 99, Admin: true}, time.Now(), testPolicy); len(got) != 1 {
		t.Errorf("admin view of incomplete record dropped, want visible")
	}
}
