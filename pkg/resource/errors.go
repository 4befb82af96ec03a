package resource

import (
	"atrium-hq/atrium/pkg/validate"
)

// AuthorisationError reports a resolved principal lacking permission for
// the requested action.
type AuthorisationError struct {
	Message string
}

// Error implements the error interface.
func (e *AuthorisationError) Error() string {
	return e.Message
}

// NewAuthorisationError creates an AuthorisationError, defaulting the
// message when none is given.
func NewAuthorisationError(message string) *AuthorisationError {
	if message == "" {
		message = "You are not authorised to perform this action."
	}
	return &AuthorisationError{Message: message}
}

// NoSuchResourceError reports an addressed record that does not exist, or
// that is deliberately treated as not found.
type NoSuchResourceError struct {
	Message string
}

// Error implements the error interface.
func (e *NoSuchResourceError) Error() string {
	return e.Message
}

// NewNoSuchResourceError creates a NoSuchResourceError, defaulting the
// message when none is given.
func NewNoSuchResourceError(message string) *NoSuchResourceError {
	if message == "" {
		message = "The requested resource does not exist."
	}
	return &NoSuchResourceError{Message: message}
}

// ConflictingEditError reports a write that conflicts with an existing
// unique constraint, such as a duplicate email address or post id.
type ConflictingEditError struct {
	Message string
}

// Error implements the error interface.
func (e *ConflictingEditError) Error() string {
	return e.Message
}

// NewConflictingEditError creates a ConflictingEditError.
func NewConflictingEditError(message string) *ConflictingEditError {
	return &ConflictingEditError{Message: message}
}

// MalformedRequestError reports a request that is structurally unusable,
// such as combining mutually exclusive addressing modes or carrying an
// unparseable body. Messages is set when the malformation was detected by
// validation.
type MalformedRequestError struct {
	Message  string
	Messages validate.Messages
}

// Error implements the error interface.
func (e *MalformedRequestError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return (&validate.Error{Messages: e.Messages}).Error()
}

// NewMalformedRequestError creates a flat MalformedRequestError.
func NewMalformedRequestError(message string) *MalformedRequestError {
	return &MalformedRequestError{Message: message}
}
