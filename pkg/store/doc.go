// Package store provides the SQLite-backed datastore for Atrium.
//
// The store owns the database handle, the embedded schema, and the
// transaction wrapper every business operation runs inside. Two drivers
// are supported: mattn/go-sqlite3 (cgo, the default) and modernc.org/sqlite
// (pure Go), selected by configuration.
package store
