// Package telemetry groups the observability subpackages: structured
// logging and prometheus metrics.
package telemetry
