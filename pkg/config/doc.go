// Package config defines the service configuration, loaded from a YAML
// file with defaults and ATRIUM_* environment variable overrides applied
// on top.
package config
