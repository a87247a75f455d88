// Package storage keeps the audit trail of admitted broadcasts.
//
// Two drivers are available:
//   - "file": append-only JSON Lines next to the configured path
//   - "sqlite": a single SQLite database (pure Go driver)
package storage
