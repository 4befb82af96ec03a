// Package maintenance runs scheduled housekeeping jobs against the
// datastore, currently limited to expiring stale password reset keys.
package maintenance
