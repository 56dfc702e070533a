package device

import "time"

// Protocol identifies how a device's readings reach the core.
type Protocol string

// Supported protocols.
const (
	// ProtocolMQTT marks devices (or gateways) that push readings over MQTT.
	ProtocolMQTT Protocol = "mqtt"

	// ProtocolREST marks devices polled over HTTP on an interval.
	ProtocolREST Protocol = "rest"
)

// ParseProtocol converts a string to a Protocol, validating it.
func ParseProtocol(s string) (Protocol, error) {
	switch Protocol(s) {
	case ProtocolMQTT, ProtocolREST:
		return Protocol(s), nil
	default:
		return "", ErrInvalidProtocol
	}
}

// Device represents a monitored energy device known to the registry.
type Device struct {
	// ID is the unique device identifier. For MQTT devices it is the
	// identifier embedded in the telemetry topic.
	ID string `json:"id"`

	// Name is a human-readable label. Defaults to the ID for
	// auto-registered devices.
	Name string `json:"name"`

	// Protocol is how the device's readings arrive.
	Protocol Protocol `json:"protocol"`

	// Metadata (last-write-wins on update).
	Manufacturer *string `json:"manufacturer,omitempty"`
	Model        *string `json:"model,omitempty"`

	// Retired marks a soft-retired device. Retired devices keep their
	// stored history readable but new readings are rejected.
	Retired bool `json:"retired"`

	// LastSeen is the latest ingestion-observed time of any accepted
	// reading for this device. Monotonic: never moves backwards.
	LastSeen *time.Time `json:"last_seen,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates a complete independent copy of the Device.
// Pointer fields are cloned so modifications to the copy do not affect
// the original. This is essential for cache isolation.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d

	if d.Manufacturer != nil {
		v := *d.Manufacturer
		cpy.Manufacturer = &v
	}
	if d.Model != nil {
		v := *d.Model
		cpy.Model = &v
	}
	if d.LastSeen != nil {
		v := *d.LastSeen
		cpy.LastSeen = &v
	}

	return &cpy
}
