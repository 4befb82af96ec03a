// Package resource defines the contract shared by the business-logic
// modules: the operation input envelope and the error taxonomy every
// operation reports through.
//
// Each resource type (user, post, page) lives in its own subpackage and
// exposes create/read/update/delete/list operations over the same shape:
// open an authenticated transaction, check coarse authorization against
// the principal alone, validate the submitted attributes (business rules
// included), perform the write, and mask the result for the caller.
package resource
