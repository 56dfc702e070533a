// Package mqtt provides MQTT client connectivity for GridPulse Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Optional manual acknowledgement for backpressure-aware consumption
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// GridPulse consumes device telemetry over MQTT. Energy meters (or the
// gateways in front of them) publish readings to per-device topics; the MQTT
// protocol adapter subscribes with a wildcard and normalises payloads into
// canonical events.
//
//	Devices / Gateways → MQTT Broker → GridPulse Core
//
// # Backpressure
//
// When manual_ack is enabled in config, a message is acknowledged only after
// its handler returns nil. A handler returning an error (for example because
// the ingestion queue is full) leaves the message unacknowledged so the
// broker redelivers it, which is the transport-level pause mechanism.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllTelemetry(), 1,
//	    func(topic string, payload []byte) error {
//	        return sink.Enqueue(parse(topic, payload))
//	    })
package mqtt
