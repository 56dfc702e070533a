// Package database manages the SQLite database holding the device registry
// and API user accounts.
//
// It provides:
//   - Connection lifecycle (open, health check, close)
//   - WAL mode and busy-timeout configuration for concurrent access
//   - Embedded schema migrations applied at startup
//
// SQLite is used for durable, low-volume registry data only. Time-series
// readings never touch this database; they live in the in-memory aggregation
// store and the optional InfluxDB archive.
//
// Thread Safety: the wrapped *sql.DB is safe for concurrent use. The pool is
// limited to a single connection because SQLite allows one writer at a time.
package database
