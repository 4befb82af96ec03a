// Package view transforms raw datastore records into the shape a given
// principal is allowed to see.
//
// Two independent policies compose, in order: a completeness filter that
// drops whole records third parties may not see at all, then an attribute
// projection that reduces each surviving record to the public, self, or
// admin attribute set. Attributes outside all three sets (password hashes,
// reset keys) can never appear in output.
package view

import (
	"time"

	"atrium-hq/atrium/pkg/auth"
)

// Record is a resource record rendered as an attribute map, the shape the
// REST layer serialises directly to JSON.
type Record = map[string]any

// Policy describes how one resource type is masked for output.
type Policy struct {
	// Public, Self, and Admin are the attribute sets projected for third
	// parties, the record's own subject, and administrators respectively.
	// They are expected to nest: Public ⊆ Self ⊆ Admin.
	Public []string
	Self   []string
	Admin  []string

	// SubjectID returns the id of the principal a record is about, used
	// to decide whether the viewer is the record's subject.
	SubjectID func(rec Record) int64

	// Complete reports whether a record is fit to be shown to third
	// parties at all. Incomplete records are visible only to their own
	// subject and to administrators. A nil Complete treats every record
	// as complete.
	Complete func(rec Record) bool
}

// Project applies the completeness filter and attribute projection to
// records on behalf of principal (nil for anonymous viewers).
//
// The now parameter is reserved for time-bounded completeness rules and is
// not consulted by any current policy.
func Project(records []Record, principal *auth.Principal, now time.Time, policy Policy) []Record {
	_ = now

	out := make([]Record, 0, len(records))
	for _, rec := range records {
		admin := principal != nil && principal.Admin
		self := !admin && principal != nil &&
			policy.SubjectID != nil && policy.SubjectID(rec) == principal.ID

		if !admin && !self && policy.Complete != nil && !policy.Complete(rec) {
			continue
		}

		var attrs []string
		switch {
		case admin:
			attrs = policy.Admin
		case self:
			attrs = policy.Self
		default:
			attrs = policy.Public
		}

		projected := make(Record, len(attrs))
		for _, name := range attrs {
			if value, ok := rec[name]; ok {
				projected[name] = value
			}
		}
		out = append(out, projected)
	}
	return out
}
