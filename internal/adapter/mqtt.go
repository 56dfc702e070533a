package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gridpulse/gridpulse-core/internal/ingest"
	"github.com/gridpulse/gridpulse-core/internal/infrastructure/mqtt"
)

// mqttSubscriber is the slice of the MQTT client the adapter needs.
type mqttSubscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// MQTT bridges the broker's telemetry namespace into the pipeline.
//
// It subscribes to the full telemetry wildcard and parses the device and
// metric out of the topic. With manual acknowledgement enabled on the
// client, a backpressure rejection leaves the message unacknowledged so
// the broker redelivers it once the queue drains.
type MQTT struct {
	client mqttSubscriber
	sink   Sink
	qos    byte
	topics mqtt.Topics
	logger Logger

	counters counters
}

// NewMQTT creates the MQTT adapter. The client is expected to be
// connected; subscription happens in Run.
func NewMQTT(client mqttSubscriber, sink Sink, qos byte) *MQTT {
	return &MQTT{
		client: client,
		sink:   sink,
		qos:    qos,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the adapter.
func (a *MQTT) SetLogger(logger Logger) {
	a.logger = logger
}

// Name identifies the adapter.
func (a *MQTT) Name() string {
	return "mqtt"
}

// Run subscribes to the telemetry wildcard and blocks until ctx is
// cancelled, then unsubscribes.
func (a *MQTT) Run(ctx context.Context) error {
	topic := a.topics.AllTelemetry()
	if err := a.client.Subscribe(topic, a.qos, a.handleMessage); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	a.logger.Info("mqtt adapter subscribed", "topic", topic, "qos", a.qos)

	<-ctx.Done()

	if err := a.client.Unsubscribe(topic); err != nil {
		a.logger.Warn("unsubscribe failed during shutdown", "topic", topic, "error", err)
	}
	return ctx.Err()
}

// handleMessage parses one broker message into a canonical event and
// enqueues it.
//
// A non-nil return leaves the message unacknowledged (manual-ack mode),
// so it only signals conditions where redelivery helps: backpressure and
// pipeline shutdown. Malformed messages return nil after counting; a
// redelivered malformed message would just fail again.
func (a *MQTT) handleMessage(topic string, payload []byte) error {
	a.counters.received.Add(1)

	deviceID, metric, err := splitTelemetryTopic(topic)
	if err != nil {
		a.counters.parseErrors.Add(1)
		a.logger.Warn("unparseable telemetry topic dropped", "topic", topic)
		return nil
	}

	e, err := parseReading(deviceID, metric, a.Name(), payload, time.Now().UTC())
	if err != nil {
		a.counters.parseErrors.Add(1)
		a.logger.Warn("malformed payload dropped",
			"topic", topic, "error", err)
		return nil
	}

	err = a.sink.Enqueue(e)
	switch {
	case err == nil:
		a.counters.enqueued.Add(1)
		return nil
	case errors.Is(err, ingest.ErrBackpressure):
		a.counters.backpressure.Add(1)
		a.logger.Debug("backpressure, leaving message unacked", "topic", topic)
		return err
	case errors.Is(err, ingest.ErrClosed):
		return err
	default:
		// Validation failure: treated like any other malformed message.
		a.counters.parseErrors.Add(1)
		a.logger.Warn("event rejected by pipeline", "topic", topic, "error", err)
		return nil
	}
}

// GetStats returns a snapshot of the adapter counters.
func (a *MQTT) GetStats() Stats {
	return a.counters.snapshot()
}

// splitTelemetryTopic extracts device and metric from a topic of the
// form gridpulse/tele/{device_id}/{metric}.
func splitTelemetryTopic(topic string) (deviceID, metric string, err error) {
	rest, ok := strings.CutPrefix(topic, mqtt.TopicPrefixTelemetry+"/")
	if !ok {
		return "", "", fmt.Errorf("%w: topic %q outside telemetry namespace", ErrMalformedPayload, topic)
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: topic %q", ErrMalformedPayload, topic)
	}
	return parts[0], parts[1], nil
}
