package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync/atomic"
	"testing"
	"time"
)

func TestRESTPollerFetchesMetrics(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"ts": "2026-08-01T12:00:00Z",
			"metrics": {
				"power":   {"value": 120.5, "unit": "W"},
				"voltage": {"value": 229.8, "unit": "V"}
			}
		}`))
	}))
	defer srv.Close()

	sink := &mockSink{}
	poller := NewRESTPoller(RESTConfig{
		Timeout: time.Second,
		Targets: []PollTarget{
			{DeviceID: "inverter-1", URL: srv.URL, Interval: time.Hour},
		},
	}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = poller.Run(ctx)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && len(sink.all()) < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	events := sink.all()
	if len(events) != 2 {
		t.Fatalf("enqueued %d events, want 2", len(events))
	}

	metrics := []string{events[0].Metric, events[1].Metric}
	sort.Strings(metrics)
	if metrics[0] != "power" || metrics[1] != "voltage" {
		t.Errorf("metrics = %v, want [power voltage]", metrics)
	}

	want := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for _, e := range events {
		if e.DeviceID != "inverter-1" {
			t.Errorf("DeviceID = %q, want inverter-1", e.DeviceID)
		}
		if e.Protocol != "rest" {
			t.Errorf("Protocol = %q, want rest", e.Protocol)
		}
		if !e.SourceTime.Equal(want) {
			t.Errorf("SourceTime = %v, want document ts %v", e.SourceTime, want)
		}
	}

	if got := hits.Load(); got != 1 {
		t.Errorf("server hit %d times, want 1 (immediate poll, hour interval)", got)
	}
}

func TestRESTPollerServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := &mockSink{}
	poller := NewRESTPoller(RESTConfig{Timeout: time.Second}, sink)

	poller.pollOnce(context.Background(), PollTarget{DeviceID: "d1", URL: srv.URL})

	if got := len(sink.all()); got != 0 {
		t.Errorf("enqueued %d events from failing endpoint, want 0", got)
	}
	if poller.PollFailures() != 1 {
		t.Errorf("PollFailures() = %d, want 1", poller.PollFailures())
	}
}

func TestRESTPollerMalformedDocument(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"no metrics", `{"ts": "2026-08-01T12:00:00Z"}`},
		{"metric missing value", `{"metrics": {"power": {"unit": "W"}}}`},
		{"bad document ts", `{"ts": "noon", "metrics": {"power": {"value": 1}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			sink := &mockSink{}
			poller := NewRESTPoller(RESTConfig{Timeout: time.Second}, sink)
			poller.pollOnce(context.Background(), PollTarget{DeviceID: "d1", URL: srv.URL})

			if got := len(sink.all()); got != 0 {
				t.Errorf("enqueued %d events, want 0", got)
			}
			if stats := poller.GetStats(); stats.ParseErrors != 1 {
				t.Errorf("ParseErrors = %d, want 1", stats.ParseErrors)
			}
		})
	}
}

func TestRESTPollerPerMetricTimestampOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"ts": "2026-08-01T12:00:00Z",
			"metrics": {
				"power": {"value": 1, "ts": "2026-08-01T12:00:30Z"}
			}
		}`))
	}))
	defer srv.Close()

	sink := &mockSink{}
	poller := NewRESTPoller(RESTConfig{Timeout: time.Second}, sink)
	poller.pollOnce(context.Background(), PollTarget{DeviceID: "d1", URL: srv.URL})

	events := sink.all()
	if len(events) != 1 {
		t.Fatalf("enqueued %d events, want 1", len(events))
	}
	want := time.Date(2026, 8, 1, 12, 0, 30, 0, time.UTC)
	if !events[0].SourceTime.Equal(want) {
		t.Errorf("SourceTime = %v, want per-metric %v", events[0].SourceTime, want)
	}
}
