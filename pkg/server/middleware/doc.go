// Package middleware contains the HTTP middleware chain: request id
// assignment, structured request logging, and panic recovery.
package middleware
