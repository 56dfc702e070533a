package telemetry

import (
	"errors"
	"time"
)

// Validation errors for canonical events.
var (
	// ErrMissingDeviceID is returned when an event has no device identifier.
	ErrMissingDeviceID = errors.New("telemetry: missing device id")

	// ErrMissingMetric is returned when an event has no metric name.
	ErrMissingMetric = errors.New("telemetry: missing metric name")

	// ErrMissingTimestamp is returned when an event has a zero source timestamp.
	ErrMissingTimestamp = errors.New("telemetry: missing source timestamp")
)

// Key identifies a single time series: one metric on one device.
// It is used as the map key for deduplication, ordering checks, and
// per-series locking in the aggregation store.
type Key struct {
	DeviceID string
	Metric   string
}

// Event is the canonical representation of one device reading produced by a
// protocol adapter. Events carry both the timestamp asserted by the source
// and the time the event was observed by this process.
type Event struct {
	// DeviceID is the unique identifier of the reporting device.
	DeviceID string `json:"device_id"`

	// Metric is the name of the measured quantity (e.g. "power", "voltage").
	Metric string `json:"metric"`

	// Protocol names the adapter that produced the event ("mqtt", "rest").
	// Used to auto-register previously unseen devices.
	Protocol string `json:"protocol,omitempty"`

	// Value is the numeric reading.
	Value float64 `json:"value"`

	// Unit is the unit of measure as reported by the source (e.g. "W", "kWh").
	Unit string `json:"unit,omitempty"`

	// SourceTime is the timestamp asserted by the device or protocol layer.
	// Adapters default this to the receipt time when the payload omits it.
	SourceTime time.Time `json:"source_time"`

	// ReceivedAt is when this process first observed the reading.
	ReceivedAt time.Time `json:"received_at"`

	// Seq is an optional monotonic marker from the source, used to break
	// ties between readings with identical source timestamps.
	Seq uint64 `json:"seq,omitempty"`
}

// Key returns the series key for the event.
func (e Event) Key() Key {
	return Key{DeviceID: e.DeviceID, Metric: e.Metric}
}

// Validate checks that the event carries the fields the pipeline requires.
func (e Event) Validate() error {
	if e.DeviceID == "" {
		return ErrMissingDeviceID
	}
	if e.Metric == "" {
		return ErrMissingMetric
	}
	if e.SourceTime.IsZero() {
		return ErrMissingTimestamp
	}
	return nil
}

// Reading is a stored device reading. Readings are immutable once appended
// to the aggregation store.
type Reading struct {
	DeviceID   string    `json:"device_id"`
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit,omitempty"`
	SourceTime time.Time `json:"source_time"`
	ReceivedAt time.Time `json:"received_at"`
	Seq        uint64    `json:"seq,omitempty"`
}

// Key returns the series key for the reading.
func (r Reading) Key() Key {
	return Key{DeviceID: r.DeviceID, Metric: r.Metric}
}

// ReadingFromEvent converts an accepted canonical event into its stored form.
func ReadingFromEvent(e Event) Reading {
	return Reading{
		DeviceID:   e.DeviceID,
		Metric:     e.Metric,
		Value:      e.Value,
		Unit:       e.Unit,
		SourceTime: e.SourceTime,
		ReceivedAt: e.ReceivedAt,
		Seq:        e.Seq,
	}
}
