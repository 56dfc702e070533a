// Package ingest implements the telemetry ingestion pipeline.
//
// Protocol adapters enqueue canonical events onto a shared bounded queue.
// Enqueue never blocks: a full queue yields ErrBackpressure immediately,
// which adapters translate into transport-level pushback (unacknowledged
// MQTT messages, skipped poll cycles).
//
// A small worker pool consumes the queue and runs each event through the
// pipeline stages: device resolution (with auto-registration), staleness
// check against the configured skew tolerance, deduplication on
// (device, metric, source timestamp), persistence with bounded retry and
// an overflow buffer, and best-effort fan-out to live subscriptions.
//
// Nothing in the pipeline is fatal: malformed, stale, duplicate and
// unpersistable events are dropped and counted, never raised back to the
// adapter.
package ingest
