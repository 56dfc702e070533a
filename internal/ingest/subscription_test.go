package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/gridpulse/gridpulse-core/internal/telemetry"
)

func receiveReading(t *testing.T, sub *Subscription) telemetry.Reading {
	t.Helper()
	select {
	case r, ok := <-sub.Readings():
		if !ok {
			t.Fatal("subscription channel closed")
		}
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reading")
		return telemetry.Reading{}
	}
}

func TestSubscriptionReceivesMatchingReadings(t *testing.T) {
	st := newTestStore()
	p := New(testConfig(), newMockResolver(), st)
	startPipeline(t, p)

	sub := p.Subscribe(Filter{Devices: []string{"d1"}, Metrics: []string{"power"}})
	defer p.Unsubscribe(sub.ID())

	if err := p.Enqueue(event("d1", "power", 120.5, baseTime)); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	r := receiveReading(t, sub)
	if r.DeviceID != "d1" || r.Metric != "power" || r.Value != 120.5 {
		t.Errorf("received %+v, want d1/power 120.5", r)
	}
}

func TestSubscriptionFilters(t *testing.T) {
	st := newTestStore()
	p := New(testConfig(), newMockResolver(), st)
	startPipeline(t, p)

	powerOnly := p.Subscribe(Filter{Metrics: []string{"power"}})
	defer p.Unsubscribe(powerOnly.ID())
	all := p.Subscribe(Filter{})
	defer p.Unsubscribe(all.ID())

	if err := p.Enqueue(event("d1", "voltage", 230, baseTime)); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	// The unfiltered subscription sees the voltage reading.
	r := receiveReading(t, all)
	if r.Metric != "voltage" {
		t.Errorf("received %q, want voltage", r.Metric)
	}

	// The power-only subscription must not.
	select {
	case r, ok := <-powerOnly.Readings():
		if ok {
			t.Errorf("power-only subscription received %+v", r)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscriptionSlowSubscriberSkipped(t *testing.T) {
	cfg := testConfig()
	cfg.SubscriberBuffer = 1
	cfg.Workers = 1
	st := newTestStore()
	p := New(cfg, newMockResolver(), st)
	startPipeline(t, p)

	sub := p.Subscribe(Filter{})
	defer p.Unsubscribe(sub.ID())

	// Never read from sub: the first reading fills the buffer, the rest
	// are skipped without stalling the pipeline.
	const n = 5
	for i := 0; i < n; i++ {
		e := event("d1", "power", float64(i), baseTime.Add(time.Duration(i)*time.Second))
		if err := p.Enqueue(e); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}

	waitFor(t, func() bool { return p.GetStats().Stored == n }, "events not stored")
	waitFor(t, func() bool { return p.GetStats().FanoutSkips == n-1 }, "skips not counted")

	// Ingestion was never blocked: all readings are queryable.
	got, err := st.Range("d1", "power", baseTime, baseTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("Range() error = %v", err)
	}
	if len(got) != n {
		t.Errorf("stored %d readings, want %d", len(got), n)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	p := New(testConfig(), newMockResolver(), newTestStore())

	sub := p.Subscribe(Filter{})
	p.Unsubscribe(sub.ID())

	select {
	case _, ok := <-sub.Readings():
		if ok {
			t.Error("expected closed channel after Unsubscribe")
		}
	case <-time.After(time.Second):
		t.Error("channel not closed after Unsubscribe")
	}

	// Unsubscribing twice is harmless.
	p.Unsubscribe(sub.ID())
}

func TestPipelineShutdownClosesSubscriptions(t *testing.T) {
	p := New(testConfig(), newMockResolver(), newTestStore())
	sub := p.Subscribe(Filter{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop")
	}

	select {
	case _, ok := <-sub.Readings():
		if ok {
			t.Error("unexpected reading on shutdown")
		}
	case <-time.After(time.Second):
		t.Error("subscription not closed on shutdown")
	}
}
