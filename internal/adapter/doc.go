// Package adapter contains the protocol adapters that turn device-specific
// transports into canonical telemetry events.
//
// Two adapters exist: an MQTT subscriber for devices that push readings,
// and a REST poller for devices that expose an HTTP document to pull.
// Both normalise inbound data into telemetry.Event and hand it to the
// ingestion pipeline, which may reject with backpressure.
//
// Malformed payloads are an adapter-local concern: they are dropped and
// counted, never forwarded. Transport failures (broker disconnects, HTTP
// errors) trigger the transport's own retry and never crash the process.
package adapter
