// Package device implements the GridPulse device registry.
//
// The registry maps device identifiers to known metadata: protocol kind,
// manufacturer and model, and the last time a reading was observed. Devices
// are created either explicitly through the API or automatically on the
// first observed reading (auto-registration). Devices are never deleted
// automatically; explicit removal soft-retires them, which stops ingestion
// for the device while keeping its stored history readable.
//
// Persistence is handled by a Repository (SQLite in production); the
// Registry adds an in-memory cache so the ingestion hot path never waits on
// the database for lookups.
//
// # Invariants
//
//   - lastSeen is monotonic: updates apply only when the observed time is
//     later than the recorded one, so lastSeen is always >= the timestamp of
//     any stored reading for the device.
//   - Metadata updates are last-write-wins.
//
// Thread Safety: all Registry methods are safe for concurrent use.
package device
