// Package storage persists the watchlist and the destination registry.
//
// Two drivers are available:
//   - "sqlite": a single SQLite database file (modernc.org/sqlite, no cgo)
//   - "file": a JSON snapshot plus an append-only JSON Lines journal
//
// Every write touches exactly one record and is atomic for that record.
package storage
