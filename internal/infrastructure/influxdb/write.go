package influxdb

import (
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/gridpulse/gridpulse-core/internal/telemetry"
)

// readingsMeasurement is the InfluxDB measurement holding archived readings.
const readingsMeasurement = "readings"

// WriteReading mirrors one stored reading to the archive.
//
// The write is non-blocking; points are batched and sent asynchronously.
// The point is timestamped with the source-asserted time so archived history
// matches the aggregation store's ordering.
//
// Parameters:
//   - r: The reading to archive
func (c *Client) WriteReading(r telemetry.Reading) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"value": r.Value,
	}
	if r.Seq > 0 {
		// Stored as int64; sequence numbers are well below the int64 range
		// in practice.
		fields["seq"] = int64(r.Seq) // #nosec G115
	}

	tags := map[string]string{
		"device_id": r.DeviceID,
		"metric":    r.Metric,
	}
	if r.Unit != "" {
		tags["unit"] = r.Unit
	}

	c.writeAPI.WritePoint(write.NewPoint(readingsMeasurement, tags, fields, r.SourceTime))
}

// Flush forces any batched points to be written out immediately.
//
// Useful before shutdown or in tests; normal operation relies on the
// configured flush interval.
func (c *Client) Flush() {
	if c.writeAPI != nil {
		c.writeAPI.Flush()
	}
}
