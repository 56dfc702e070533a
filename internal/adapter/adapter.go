package adapter

import (
	"context"
	"sync/atomic"

	"github.com/gridpulse/gridpulse-core/internal/telemetry"
)

// Sink accepts canonical events for ingestion. Implemented by the
// ingestion pipeline.
type Sink interface {
	Enqueue(e telemetry.Event) error
}

// Adapter is a running protocol frontend feeding the pipeline.
type Adapter interface {
	// Name identifies the adapter in logs and stats.
	Name() string

	// Run operates the adapter until ctx is cancelled.
	Run(ctx context.Context) error
}

// Logger defines the logging interface used by adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// counters hold per-adapter accounting, updated atomically.
type counters struct {
	received     atomic.Uint64
	enqueued     atomic.Uint64
	parseErrors  atomic.Uint64
	backpressure atomic.Uint64
}

// Stats is a point-in-time snapshot of adapter counters.
type Stats struct {
	Received     uint64 `json:"received"`
	Enqueued     uint64 `json:"enqueued"`
	ParseErrors  uint64 `json:"parse_errors"`
	Backpressure uint64 `json:"backpressure"`
}

func (c *counters) snapshot() Stats {
	return Stats{
		Received:     c.received.Load(),
		Enqueued:     c.enqueued.Load(),
		ParseErrors:  c.parseErrors.Load(),
		Backpressure: c.backpressure.Load(),
	}
}
