package ingest

import (
	"sync"

	"github.com/google/uuid"

	"github.com/gridpulse/gridpulse-core/internal/telemetry"
)

// Filter restricts which readings a subscription receives. Empty slices
// match everything.
type Filter struct {
	Devices []string
	Metrics []string
}

// Subscription is a live feed of accepted readings. Delivery is
// best-effort: when the subscriber's buffer is full, readings are
// skipped for that subscriber rather than stalling the pipeline.
type Subscription struct {
	id      uuid.UUID
	devices map[string]struct{} // empty matches all devices
	metrics map[string]struct{} // empty matches all metrics
	ch      chan telemetry.Reading
	once    sync.Once
}

// ID returns the subscription's unique identifier, used to unsubscribe.
func (s *Subscription) ID() uuid.UUID {
	return s.id
}

// Readings returns the delivery channel. It is closed when the
// subscription is removed or the pipeline stops.
func (s *Subscription) Readings() <-chan telemetry.Reading {
	return s.ch
}

func (s *Subscription) matches(r telemetry.Reading) bool {
	if len(s.devices) > 0 {
		if _, ok := s.devices[r.DeviceID]; !ok {
			return false
		}
	}
	if len(s.metrics) > 0 {
		if _, ok := s.metrics[r.Metric]; !ok {
			return false
		}
	}
	return true
}

func (s *Subscription) close() {
	s.once.Do(func() {
		close(s.ch)
	})
}

// Subscribe registers a live feed matching the filter.
func (p *Pipeline) Subscribe(f Filter) *Subscription {
	sub := &Subscription{
		id:      uuid.New(),
		devices: toSet(f.Devices),
		metrics: toSet(f.Metrics),
		ch:      make(chan telemetry.Reading, p.cfg.SubscriberBuffer),
	}

	p.subsMu.Lock()
	p.subs[sub.id] = sub
	p.subsMu.Unlock()

	p.logger.Debug("subscription added",
		"id", sub.id,
		"devices", len(sub.devices),
		"metrics", len(sub.metrics))
	return sub
}

// Unsubscribe removes a subscription and closes its channel. Unknown
// IDs are ignored.
func (p *Pipeline) Unsubscribe(id uuid.UUID) {
	p.subsMu.Lock()
	sub, ok := p.subs[id]
	if ok {
		delete(p.subs, id)
	}
	p.subsMu.Unlock()

	if ok {
		// fanOut holds the read lock while sending, so no send can be in
		// flight once the subscription left the map.
		sub.close()
		p.logger.Debug("subscription removed", "id", id)
	}
}

// fanOut delivers a stored reading to every matching subscription,
// skipping subscribers whose buffers are full.
func (p *Pipeline) fanOut(r telemetry.Reading) {
	p.subsMu.RLock()
	defer p.subsMu.RUnlock()

	for _, sub := range p.subs {
		if !sub.matches(r) {
			continue
		}
		select {
		case sub.ch <- r:
		default:
			p.counters.fanoutSkips.Add(1)
		}
	}
}

func (p *Pipeline) closeSubscriptions() {
	p.subsMu.Lock()
	defer p.subsMu.Unlock()

	for id, sub := range p.subs {
		sub.close()
		delete(p.subs, id)
	}
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}
