// Package stores persists resolver results between passes. SQLiteStore
// implements engine.FactCache on SQLite (modernc, WAL mode) with schema
// migrations embedded in the binary. Entries are keyed by host and
// resolver, expire after their TTL, and are pruned when the store opens.
// Writes hold a file lock next to the database.
package stores
