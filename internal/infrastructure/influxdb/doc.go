// Package influxdb provides the optional long-term reading archive for
// GridPulse Core.
//
// It wraps the official influxdb-client-go v2 library with GridPulse-specific
// patterns for connection management, reading mirroring, and health monitoring.
//
// # Purpose
//
// The in-memory aggregation store holds only the configured retention
// horizon. When InfluxDB is enabled, every persisted reading is also
// mirrored here so history survives compaction and restarts.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteReading(reading)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking; batch errors are delivered via the
// SetOnError callback. Connection and health check errors are returned
// directly.
package influxdb
