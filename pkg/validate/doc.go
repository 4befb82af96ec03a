// Package validate implements asynchronous, fail-accumulating validation
// of attribute maps against rule sets.
//
// A RuleSet maps attribute names to ordered lists of rules. Validation is
// closed-schema: attributes present in the input but absent from the rule
// set are always rejected. All rules for all attributes run concurrently,
// and every failure is collected, so a caller receives the complete set of
// problems with a submission in a single Error rather than one at a time.
//
// Rules receive a context.Context and may perform their own I/O, which is
// how datastore-dependent checks (uniqueness, foreign-key existence) are
// expressed as ordinary validation rules running inside the caller's
// transaction.
package validate
