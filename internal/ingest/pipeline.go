package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gridpulse/gridpulse-core/internal/device"
	"github.com/gridpulse/gridpulse-core/internal/store"
	"github.com/gridpulse/gridpulse-core/internal/telemetry"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by the Pipeline.
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

// DeviceResolver is the slice of the device registry the pipeline needs.
type DeviceResolver interface {
	Resolve(ctx context.Context, id string, protocol device.Protocol) (*device.Device, error)
	Touch(ctx context.Context, id string, observedAt time.Time) error
}

// ReadingStore is the slice of the aggregation store the pipeline needs.
type ReadingStore interface {
	Append(r telemetry.Reading) error
	Contains(key telemetry.Key, sourceTime time.Time) bool
	NewestTimestamp(key telemetry.Key) (time.Time, bool)
}

// Config contains pipeline tuning options.
type Config struct {
	// QueueCapacity bounds the shared ingest queue. A full queue makes
	// Enqueue return ErrBackpressure.
	QueueCapacity int

	// Workers is the number of goroutines consuming the queue.
	Workers int

	// SkewTolerance is how far behind the newest stored reading of a
	// series an event may be and still be accepted.
	SkewTolerance time.Duration

	// RetryAttempts is the number of storage write attempts per event.
	RetryAttempts int

	// RetryBaseDelay is the initial backoff between attempts; it doubles
	// after each failure.
	RetryBaseDelay time.Duration

	// OverflowCapacity bounds the buffer holding events whose writes
	// exhausted their retries. A full buffer loses the event.
	OverflowCapacity int

	// SubscriberBuffer is the channel depth of each live subscription.
	SubscriberBuffer int

	// DrainTimeout caps how long shutdown waits for queued events.
	DrainTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1024
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.SkewTolerance <= 0 {
		c.SkewTolerance = 5 * time.Minute
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 50 * time.Millisecond
	}
	if c.OverflowCapacity <= 0 {
		c.OverflowCapacity = 256
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = 16
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 5 * time.Second
	}
}

// Pipeline runs the ingestion stages over a shared bounded queue.
//
// All public methods are thread-safe.
type Pipeline struct {
	cfg     Config
	devices DeviceResolver
	store   ReadingStore
	logger  Logger

	queue    chan telemetry.Event
	overflow chan telemetry.Reading

	// newest caches the newest stored source time per series so the hot
	// path can check staleness and dedup without touching the store.
	newestMu sync.Mutex
	newest   map[telemetry.Key]time.Time

	subsMu sync.RWMutex
	subs   map[uuid.UUID]*Subscription

	// enqMu serializes Enqueue against queue closure during shutdown:
	// senders hold the read side, shutdown takes the write side before
	// closing the channel.
	enqMu     sync.RWMutex
	closed    atomic.Bool // Enqueue rejected once set
	forceStop atomic.Bool // drain timeout hit: discard remaining events
	baseCtx   context.Context

	counters counters
}

// New creates a pipeline over the given registry slice and store.
// Run must be called before events flow.
func New(cfg Config, devices DeviceResolver, st ReadingStore) *Pipeline {
	cfg.applyDefaults()
	return &Pipeline{
		cfg:      cfg,
		devices:  devices,
		store:    st,
		logger:   noopLogger{},
		queue:    make(chan telemetry.Event, cfg.QueueCapacity),
		overflow: make(chan telemetry.Reading, cfg.OverflowCapacity),
		newest:   make(map[telemetry.Key]time.Time),
		subs:     make(map[uuid.UUID]*Subscription),
		baseCtx:  context.Background(),
	}
}

// SetLogger sets the logger for the pipeline.
func (p *Pipeline) SetLogger(logger Logger) {
	p.logger = logger
}

// Enqueue accepts a canonical event for processing and returns
// immediately. A full queue yields ErrBackpressure; a shut-down pipeline
// yields ErrClosed. A validation failure is returned to the adapter,
// which accounts for it as a parse error.
func (p *Pipeline) Enqueue(e telemetry.Event) error {
	p.enqMu.RLock()
	defer p.enqMu.RUnlock()

	if p.closed.Load() {
		return ErrClosed
	}
	if err := e.Validate(); err != nil {
		p.counters.invalid.Add(1)
		return err
	}

	select {
	case p.queue <- e:
		p.counters.enqueued.Add(1)
		return nil
	default:
		p.counters.backpressure.Add(1)
		return ErrBackpressure
	}
}

// Run starts the worker pool and the overflow drainer and blocks until
// ctx is cancelled. On cancellation the pipeline stops accepting events,
// drains the queue for up to DrainTimeout, then discards the remainder.
func (p *Pipeline) Run(ctx context.Context) error {
	// Workers keep a context that survives cancellation so in-flight
	// events can still resolve devices during the drain window.
	p.baseCtx = context.WithoutCancel(ctx)

	var workers sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			p.worker()
		}()
	}

	overflowDone := make(chan struct{})
	go func() {
		defer close(overflowDone)
		p.drainOverflow()
	}()

	p.logger.Info("pipeline started",
		"workers", p.cfg.Workers,
		"queue_capacity", p.cfg.QueueCapacity,
		"skew_tolerance", p.cfg.SkewTolerance)

	<-ctx.Done()

	p.enqMu.Lock()
	p.closed.Store(true)
	close(p.queue)
	p.enqMu.Unlock()

	done := make(chan struct{})
	go func() {
		workers.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.cfg.DrainTimeout):
		p.forceStop.Store(true)
		p.logger.Warn("drain timeout exceeded, discarding queued events",
			"drain_timeout", p.cfg.DrainTimeout)
		<-done
	}

	close(p.overflow)
	<-overflowDone

	stats := p.counters.snapshot()
	p.logger.Info("pipeline stopped",
		"stored", stats.Stored,
		"drain_drops", stats.DrainDrops,
		"lost", stats.Lost)

	p.closeSubscriptions()
	return ctx.Err()
}

func (p *Pipeline) worker() {
	for e := range p.queue {
		if p.forceStop.Load() {
			p.counters.drainDrops.Add(1)
			continue
		}
		p.process(e)
	}
}

// process runs one event through resolution, staleness, dedup,
// persistence and fan-out. Drops are counted, never returned.
func (p *Pipeline) process(e telemetry.Event) {
	protocol, err := device.ParseProtocol(e.Protocol)
	if err != nil {
		p.counters.invalid.Add(1)
		p.logger.Warn("event with unknown protocol dropped",
			"device_id", e.DeviceID, "protocol", e.Protocol)
		return
	}

	_, err = p.devices.Resolve(p.baseCtx, e.DeviceID, protocol)
	switch {
	case errors.Is(err, device.ErrRetired):
		p.counters.retired.Add(1)
		p.logger.Debug("reading for retired device dropped", "device_id", e.DeviceID)
		return
	case errors.Is(err, device.ErrInvalidID):
		p.counters.invalid.Add(1)
		p.logger.Warn("event with invalid device id dropped", "device_id", e.DeviceID)
		return
	case err != nil:
		p.counters.lost.Add(1)
		p.logger.Error("device resolution failed, dropping event",
			"device_id", e.DeviceID, "error", err)
		return
	}

	key := e.Key()
	if newest, ok := p.newestFor(key); ok {
		if e.SourceTime.Equal(newest) {
			p.counters.duplicates.Add(1)
			return
		}
		if e.SourceTime.Before(newest) {
			if newest.Sub(e.SourceTime) > p.cfg.SkewTolerance {
				p.counters.stale.Add(1)
				p.logger.Debug("stale reading dropped",
					"device_id", e.DeviceID,
					"metric", e.Metric,
					"source_time", e.SourceTime,
					"newest", newest)
				return
			}
			// Within tolerance: out-of-order is allowed, but the exact
			// timestamp may already be stored.
			if p.store.Contains(key, e.SourceTime) {
				p.counters.duplicates.Add(1)
				return
			}
		}
	}

	r := telemetry.ReadingFromEvent(e)
	if !p.persistWithRetry(r) {
		return
	}

	p.advanceNewest(key, e.SourceTime)
	p.counters.stored.Add(1)

	p.fanOut(r)

	if err := p.devices.Touch(p.baseCtx, e.DeviceID, e.ReceivedAt); err != nil {
		p.logger.Warn("last-seen update failed", "device_id", e.DeviceID, "error", err)
	}
}

// persistWithRetry writes the reading with bounded exponential backoff.
// On exhaustion the reading is parked in the overflow buffer; a full
// buffer loses it. Returns whether the reading was stored directly.
func (p *Pipeline) persistWithRetry(r telemetry.Reading) bool {
	delay := p.cfg.RetryBaseDelay
	var lastErr error

	for attempt := 1; attempt <= p.cfg.RetryAttempts; attempt++ {
		lastErr = p.store.Append(r)
		if lastErr == nil {
			return true
		}
		if errors.Is(lastErr, store.ErrDuplicateReading) {
			// Another worker stored the same timestamp first.
			p.counters.duplicates.Add(1)
			return false
		}
		if errors.Is(lastErr, store.ErrClosed) {
			// Store is gone for good; retrying or buffering is pointless.
			p.counters.lost.Add(1)
			return false
		}
		if attempt < p.cfg.RetryAttempts {
			time.Sleep(delay)
			delay *= 2
		}
	}

	p.counters.persistFails.Add(1)
	p.logger.Error("persistence failed after retries",
		"device_id", r.DeviceID,
		"metric", r.Metric,
		"attempts", p.cfg.RetryAttempts,
		"error", lastErr)

	select {
	case p.overflow <- r:
		p.counters.overflowed.Add(1)
	default:
		p.counters.lost.Add(1)
		p.logger.Error("overflow buffer full, reading lost",
			"device_id", r.DeviceID, "metric", r.Metric)
	}
	return false
}

// drainOverflow re-attempts parked readings until the overflow channel
// is closed during shutdown. Readings that still cannot be written are
// lost and counted.
func (p *Pipeline) drainOverflow() {
	for r := range p.overflow {
		if err := p.retryOverflowed(r); err != nil {
			if errors.Is(err, store.ErrDuplicateReading) {
				p.counters.duplicates.Add(1)
				continue
			}
			p.counters.lost.Add(1)
			p.logger.Error("overflowed reading lost",
				"device_id", r.DeviceID, "metric", r.Metric, "error", err)
			continue
		}
		p.advanceNewest(r.Key(), r.SourceTime)
		p.counters.stored.Add(1)
		p.fanOut(r)
	}
}

func (p *Pipeline) retryOverflowed(r telemetry.Reading) error {
	delay := p.cfg.RetryBaseDelay
	var err error
	for attempt := 1; attempt <= p.cfg.RetryAttempts; attempt++ {
		if err = p.store.Append(r); err == nil {
			return nil
		}
		if errors.Is(err, store.ErrClosed) || errors.Is(err, store.ErrDuplicateReading) {
			return err
		}
		time.Sleep(delay)
		delay *= 2
	}
	return err
}

// newestFor returns the newest stored source time for a series,
// consulting the store for keys not yet seen by this pipeline instance.
func (p *Pipeline) newestFor(key telemetry.Key) (time.Time, bool) {
	p.newestMu.Lock()
	ts, ok := p.newest[key]
	p.newestMu.Unlock()
	if ok {
		return ts, true
	}

	// Cold key: the store may hold readings from before this pipeline
	// started (or written by the overflow drainer).
	ts, ok = p.store.NewestTimestamp(key)
	if ok {
		p.advanceNewest(key, ts)
	}
	return ts, ok
}

func (p *Pipeline) advanceNewest(key telemetry.Key, ts time.Time) {
	p.newestMu.Lock()
	if cur, ok := p.newest[key]; !ok || cur.Before(ts) {
		p.newest[key] = ts
	}
	p.newestMu.Unlock()
}

// GetStats returns a snapshot of the pipeline counters.
func (p *Pipeline) GetStats() Stats {
	return p.counters.snapshot()
}
