// Package server exposes the resource modules as a REST API. It owns the
// HTTP boundary: credential extraction, body parsing, routing, the
// error-kind to status-code mapping, and TLS with certificate hot-reload.
package server
