package store

import "strings"

// likeEscaper escapes the LIKE pattern metacharacters and the escape
// character itself in a single pass.
var likeEscaper = strings.NewReplacer(
	`\`, `\\`,
	`%`, `\%`,
	`_`, `\_`,
)

// EscapeLike escapes user input for use in a LIKE pattern with ESCAPE '\'.
// Every case-insensitive natural-key lookup goes through LIKE, so any
// user-supplied key must pass through here to prevent wildcard injection.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}
