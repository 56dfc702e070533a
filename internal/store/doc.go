// Package store implements the in-memory aggregation store for telemetry
// readings.
//
// Readings are held per (device, metric) series, ordered ascending by
// source timestamp. Writes to one series never block reads or writes on
// another: the series map is guarded by a short-lived registry lock while
// each series carries its own mutex.
//
// Retention is enforced by a periodic compaction pass that evicts readings
// older than the configured horizon. Compaction never removes the newest
// reading of a series, so Latest keeps answering for any key that was ever
// written.
//
// An optional archive sink mirrors every accepted reading to long-term
// storage (InfluxDB). The mirror is fire-and-forget: archive failures never
// affect the in-memory write path.
package store
