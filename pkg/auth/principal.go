package auth

// Principal is the authenticated actor of an operation.
//
// A Principal is resolved once, inside the operation's transaction, and is
// immutable afterwards: authorization decisions anywhere in the operation
// read the same snapshot of the account's permission flags.
type Principal struct {
	// ID is the account's row id.
	ID int64

	// EmailAddress is the account's unique (case-insensitive) address.
	EmailAddress string

	// GivenName and FamilyName may be empty for accounts that never
	// completed their profile.
	GivenName  string
	FamilyName string

	// Active marks whether the account is enabled.
	Active bool

	// AuthorisedToBlog grants the right to create blog posts.
	AuthorisedToBlog bool

	// Admin grants unrestricted access to every resource.
	Admin bool
}

// Credentials carry the email address and password supplied with a
// request. A nil *Credentials means the caller is anonymous.
type Credentials struct {
	EmailAddress string
	Password     string
}

// AuthenticationError reports credentials that do not resolve to a valid
// principal.
type AuthenticationError struct {
	Message string
}

// Error implements the error interface.
func (e *AuthenticationError) Error() string {
	return e.Message
}
