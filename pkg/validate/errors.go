package validate

import (
	"encoding/json"
	"sort"
	"strings"
)

// Result holds the violations recorded against a single attribute.
// Exactly one of Messages or Nested is meaningful at a time: flat rules
// contribute message strings, while a failed Object rule replaces the
// attribute's whole result with the nested attribute map.
type Result struct {
	// Messages is the list of flat violation messages for the attribute.
	Messages []string

	// Nested is the violation map of an object-valued attribute.
	Nested Messages
}

// MarshalJSON renders a Result as either its message list or its nested map.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Nested != nil {
		return json.Marshal(r.Nested)
	}
	if r.Messages == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.Messages)
}

// Messages is the aggregate outcome of validating an object: every
// offending attribute mapped to its violations. Attributes with no
// violations are omitted.
type Messages map[string]Result

// Error is the failure reported by Validate and by individual rules.
// A rule reports a single flat Message; Validate reports an aggregate
// Messages map. Exactly one of the two fields is set.
type Error struct {
	// Message is the single violation message of one failed rule.
	Message string

	// Messages is the aggregate per-attribute violation map.
	Messages Messages
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	attrs := make([]string, 0, len(e.Messages))
	for name := range e.Messages {
		attrs = append(attrs, name)
	}
	sort.Strings(attrs)
	return "validation failed for attributes: " + strings.Join(attrs, ", ")
}

// NewError returns a flat single-message validation failure. Rules report
// expected failures exclusively through values of this type; any other
// error returned by a rule is treated as fatal and aborts validation.
func NewError(message string) *Error {
	return &Error{Message: message}
}
