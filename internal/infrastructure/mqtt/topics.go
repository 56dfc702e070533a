package mqtt

import "fmt"

// Topic prefixes for the GridPulse MQTT namespace.
//
// Telemetry topics use the flat scheme: gridpulse/tele/{device_id}/{metric}
// so a single wildcard subscription covers every publishing device.
const (
	// TopicPrefixTelemetry is the base for inbound device readings.
	TopicPrefixTelemetry = "gridpulse/tele"

	// TopicPrefixSystem is the base for system status topics.
	TopicPrefixSystem = "gridpulse/system"
)

// Topics provides builders for GridPulse MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	t := topics.Telemetry("meter-basement-01", "power")
//	// Returns: "gridpulse/tele/meter-basement-01/power"
type Topics struct{}

// Telemetry returns the topic a device publishes one metric on.
//
// Example: gridpulse/tele/meter-basement-01/power
func (Topics) Telemetry(deviceID, metric string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixTelemetry, deviceID, metric)
}

// DeviceTelemetry returns a pattern matching all metrics of one device.
//
// Pattern: gridpulse/tele/meter-basement-01/+
func (Topics) DeviceTelemetry(deviceID string) string {
	return fmt.Sprintf("%s/%s/+", TopicPrefixTelemetry, deviceID)
}

// AllTelemetry returns a pattern matching every telemetry reading.
//
// Pattern: gridpulse/tele/+/+
func (Topics) AllTelemetry() string {
	return TopicPrefixTelemetry + "/+/+"
}

// SystemStatus returns the core online/offline status topic.
//
// Example: gridpulse/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}
