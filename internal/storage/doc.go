// Package storage persists the payment ledger and pending pay jobs.
//
// Drivers:
//   - "file": JSON Lines ledger plus a pending-pay snapshot and journal
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "postgres": PostgreSQL via lib/pq
//
// Storage is optional; Open returns (nil, nil) when it is disabled.
package storage
