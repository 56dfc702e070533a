package adapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gridpulse/gridpulse-core/internal/telemetry"
)

// ErrMalformedPayload marks an inbound message the adapter could not
// turn into a canonical event. Such messages are dropped and counted.
var ErrMalformedPayload = errors.New("adapter: malformed payload")

// telemetryPayload is the wire format of one published reading:
//
//	{"value": 120.5, "unit": "W", "ts": "2026-08-01T12:00:00Z", "seq": 17}
//
// Only value is required. A missing ts defaults to the receipt time.
type telemetryPayload struct {
	Value *float64 `json:"value"`
	Unit  string   `json:"unit"`
	TS    string   `json:"ts"`
	Seq   uint64   `json:"seq"`
}

// parseReading converts a raw payload into a canonical event for the
// given series. receivedAt doubles as the source time when the payload
// carries none.
func parseReading(deviceID, metric, protocol string, data []byte, receivedAt time.Time) (telemetry.Event, error) {
	var p telemetryPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return telemetry.Event{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if p.Value == nil {
		return telemetry.Event{}, fmt.Errorf("%w: missing value", ErrMalformedPayload)
	}

	sourceTime := receivedAt
	if p.TS != "" {
		ts, err := time.Parse(time.RFC3339Nano, p.TS)
		if err != nil {
			return telemetry.Event{}, fmt.Errorf("%w: bad ts %q: %w", ErrMalformedPayload, p.TS, err)
		}
		sourceTime = ts.UTC()
	}

	return telemetry.Event{
		DeviceID:   deviceID,
		Metric:     metric,
		Protocol:   protocol,
		Value:      *p.Value,
		Unit:       p.Unit,
		SourceTime: sourceTime,
		ReceivedAt: receivedAt,
		Seq:        p.Seq,
	}, nil
}
