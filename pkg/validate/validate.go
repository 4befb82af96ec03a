package validate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Validator is a single validation rule applied to one attribute's value.
// A rule either accepts the value (nil return), rejects it (an *Error
// return), or fails fatally (any other error, which aborts the whole
// validation and propagates unchanged).
type Validator interface {
	Validate(ctx context.Context, value any) error
}

// Func adapts a plain function to the Validator interface. Custom rules,
// including asynchronous ones that query the datastore, are written as
// Funcs.
type Func func(ctx context.Context, value any) error

// Validate implements the Validator interface.
func (f Func) Validate(ctx context.Context, value any) error {
	return f(ctx, value)
}

// RuleSet maps attribute names to the ordered list of rules applied to
// each attribute's value. Rule sets may nest through Object rules.
type RuleSet map[string][]Validator

type undefinedValue struct{}

// Undefined is the value handed to rules for attributes that are named in
// the rule set but missing from the input. It is distinct from an explicit
// null, which arrives as nil.
var Undefined any = undefinedValue{}

// Defined reports whether a value was actually present in the input.
func Defined(value any) bool {
	return value != Undefined
}

// Present reports whether a value is both defined and non-null. Most
// built-in rules pass trivially for non-present values, so that presence
// is only enforced by an explicit Required or NotNull rule.
func Present(value any) bool {
	return value != Undefined && value != nil
}

// Validate checks input against rules and returns nil if every attribute
// is acceptable, an *Error carrying the full per-attribute violation map
// if any rule rejected its value, or the fatal error of the first rule
// that failed unexpectedly.
//
// The attribute set checked is the union of the input's keys and the rule
// set's keys. Attributes with no entry in the rule set yield exactly one
// "not expected" violation. All rules run concurrently; within one
// attribute the recorded violations keep the rule list's order, and the
// first object-rule failure (in list order) supersedes that attribute's
// flat messages.
func Validate(ctx context.Context, input map[string]any, rules RuleSet) error {
	names := attributeNames(input, rules)

	// Fan out every rule of every attribute at once, then join. Slots are
	// preallocated so the goroutines never contend on a shared structure.
	outcomes := make(map[string][]error, len(names))
	var wg sync.WaitGroup
	for _, name := range names {
		list, known := rules[name]
		if !known {
			continue
		}
		value, ok := input[name]
		if !ok {
			value = Undefined
		}
		slots := make([]error, len(list))
		outcomes[name] = slots
		for i, rule := range list {
			wg.Add(1)
			go func(slot *error, rule Validator) {
				defer wg.Done()
				*slot = rule.Validate(ctx, value)
			}(&slots[i], rule)
		}
	}
	wg.Wait()

	aggregate := make(Messages)
	for _, name := range names {
		if _, known := rules[name]; !known {
			aggregate[name] = Result{
				Messages: []string{fmt.Sprintf("The attribute %q was not expected.", name)},
			}
			continue
		}
		var flat []string
		var nested Messages
		for _, outcome := range outcomes[name] {
			if outcome == nil {
				continue
			}
			var verr *Error
			if !errors.As(outcome, &verr) {
				return outcome
			}
			if verr.Messages != nil {
				if nested == nil {
					nested = verr.Messages
				}
				continue
			}
			flat = append(flat, verr.Message)
		}
		switch {
		case nested != nil:
			aggregate[name] = Result{Nested: nested}
		case len(flat) > 0:
			aggregate[name] = Result{Messages: flat}
		}
	}

	if len(aggregate) > 0 {
		return &Error{Messages: aggregate}
	}
	return nil
}

// attributeNames returns the sorted union of input and rule set keys.
// Sorting keeps fatal-error selection and test output deterministic.
func attributeNames(input map[string]any, rules RuleSet) []string {
	names := make([]string, 0, len(input)+len(rules))
	seen := make(map[string]bool, len(input)+len(rules))
	for name := range input {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for name := range rules {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
