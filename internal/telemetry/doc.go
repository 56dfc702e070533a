// Package telemetry defines the canonical, protocol-independent representation
// of device readings flowing through GridPulse Core.
//
// Protocol adapters normalise inbound payloads into Event values; the ingestion
// pipeline turns accepted events into immutable Reading values held by the
// aggregation store. Both types are plain data and safe to copy.
package telemetry
