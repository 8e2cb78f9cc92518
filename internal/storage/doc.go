// Package storage keeps a journal of delivery outcomes.
//
// Drivers:
//   - file: JSON lines appended to a local file
//   - sqlite: embedded database with an embedded migration
//   - postgres: pgx connection pool
//   - redis: capped list, newest first
//
// An empty driver or "none" disables the journal.
package storage
