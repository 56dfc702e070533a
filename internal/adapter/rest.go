package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/gridpulse/gridpulse-core/internal/ingest"
	"github.com/gridpulse/gridpulse-core/internal/telemetry"
)

// PollTarget describes one REST-polled device endpoint.
type PollTarget struct {
	DeviceID string
	URL      string
	Interval time.Duration
}

// RESTConfig contains REST poller settings.
type RESTConfig struct {
	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration

	// RetryCount is how many times a failed request is retried before the
	// cycle is abandoned.
	RetryCount int

	// Targets lists the devices to poll.
	Targets []PollTarget
}

// pollDocument is the JSON a polled device serves:
//
//	{
//	  "ts": "2026-08-01T12:00:00Z",
//	  "metrics": {
//	    "power":   {"value": 120.5, "unit": "W"},
//	    "voltage": {"value": 229.8, "unit": "V"}
//	  }
//	}
//
// A per-metric ts overrides the document ts; both are optional.
type pollDocument struct {
	TS      string                      `json:"ts"`
	Metrics map[string]telemetryPayload `json:"metrics"`
}

// RESTPoller pulls readings from devices that expose an HTTP metrics
// document, one goroutine per target on its configured interval.
type RESTPoller struct {
	cfg    RESTConfig
	client *resty.Client
	sink   Sink
	logger Logger

	counters     counters
	pollFailures atomic.Uint64
}

// NewRESTPoller creates the poller. HTTP retry and timeout behaviour
// lives on the resty client so every target shares it.
func NewRESTPoller(cfg RESTConfig, sink Sink) *RESTPoller {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetHeader("Accept", "application/json")

	return &RESTPoller{
		cfg:    cfg,
		client: client,
		sink:   sink,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the poller.
func (a *RESTPoller) SetLogger(logger Logger) {
	a.logger = logger
}

// Name identifies the adapter.
func (a *RESTPoller) Name() string {
	return "rest"
}

// Run polls every target until ctx is cancelled. Each target polls
// immediately on start, then on its interval.
func (a *RESTPoller) Run(ctx context.Context) error {
	if len(a.cfg.Targets) == 0 {
		a.logger.Info("rest poller idle, no targets configured")
		<-ctx.Done()
		return ctx.Err()
	}

	var wg sync.WaitGroup
	for _, target := range a.cfg.Targets {
		wg.Add(1)
		go func(t PollTarget) {
			defer wg.Done()
			a.pollLoop(ctx, t)
		}(target)
	}

	a.logger.Info("rest poller started", "targets", len(a.cfg.Targets))
	wg.Wait()
	return ctx.Err()
}

func (a *RESTPoller) pollLoop(ctx context.Context, target PollTarget) {
	ticker := time.NewTicker(target.Interval)
	defer ticker.Stop()

	a.pollOnce(ctx, target)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.pollOnce(ctx, target)
		}
	}
}

// pollOnce fetches one metrics document and enqueues each reading.
// Backpressure abandons the remainder of the cycle; the next interval
// retries the whole document.
func (a *RESTPoller) pollOnce(ctx context.Context, target PollTarget) {
	resp, err := a.client.R().SetContext(ctx).Get(target.URL)
	if err != nil {
		a.pollFailures.Add(1)
		a.logger.Warn("poll request failed",
			"device_id", target.DeviceID, "url", target.URL, "error", err)
		return
	}
	if !resp.IsSuccess() {
		a.pollFailures.Add(1)
		a.logger.Warn("poll request rejected",
			"device_id", target.DeviceID, "url", target.URL, "status", resp.StatusCode())
		return
	}

	receivedAt := time.Now().UTC()
	events, err := a.parseDocument(target.DeviceID, resp.Body(), receivedAt)
	if err != nil {
		a.counters.parseErrors.Add(1)
		a.logger.Warn("malformed poll document dropped",
			"device_id", target.DeviceID, "error", err)
		return
	}

	for _, e := range events {
		a.counters.received.Add(1)
		switch err := a.sink.Enqueue(e); {
		case err == nil:
			a.counters.enqueued.Add(1)
		case errors.Is(err, ingest.ErrBackpressure):
			a.counters.backpressure.Add(1)
			a.logger.Debug("backpressure, abandoning poll cycle",
				"device_id", target.DeviceID)
			return
		case errors.Is(err, ingest.ErrClosed):
			return
		default:
			a.counters.parseErrors.Add(1)
			a.logger.Warn("event rejected by pipeline",
				"device_id", target.DeviceID, "metric", e.Metric, "error", err)
		}
	}
}

// parseDocument converts a metrics document into canonical events, one
// per metric. A single bad metric rejects the whole document.
func (a *RESTPoller) parseDocument(deviceID string, body []byte, receivedAt time.Time) ([]telemetry.Event, error) {
	var doc pollDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if len(doc.Metrics) == 0 {
		return nil, fmt.Errorf("%w: no metrics", ErrMalformedPayload)
	}

	docTime := receivedAt
	if doc.TS != "" {
		ts, err := time.Parse(time.RFC3339Nano, doc.TS)
		if err != nil {
			return nil, fmt.Errorf("%w: bad ts %q: %w", ErrMalformedPayload, doc.TS, err)
		}
		docTime = ts.UTC()
	}

	events := make([]telemetry.Event, 0, len(doc.Metrics))
	for metric, p := range doc.Metrics {
		if p.Value == nil {
			return nil, fmt.Errorf("%w: metric %q missing value", ErrMalformedPayload, metric)
		}

		sourceTime := docTime
		if p.TS != "" {
			ts, err := time.Parse(time.RFC3339Nano, p.TS)
			if err != nil {
				return nil, fmt.Errorf("%w: metric %q bad ts: %w", ErrMalformedPayload, metric, err)
			}
			sourceTime = ts.UTC()
		}

		events = append(events, telemetry.Event{
			DeviceID:   deviceID,
			Metric:     metric,
			Protocol:   a.Name(),
			Value:      *p.Value,
			Unit:       p.Unit,
			SourceTime: sourceTime,
			ReceivedAt: receivedAt,
			Seq:        p.Seq,
		})
	}
	return events, nil
}

// GetStats returns a snapshot of the poller counters.
func (a *RESTPoller) GetStats() Stats {
	return a.counters.snapshot()
}

// PollFailures returns the number of failed poll cycles.
func (a *RESTPoller) PollFailures() uint64 {
	return a.pollFailures.Load()
}
