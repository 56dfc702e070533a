package ingest

import "sync/atomic"

// counters hold the pipeline's drop and throughput accounting.
// All fields are updated atomically.
type counters struct {
	enqueued     atomic.Uint64
	stored       atomic.Uint64
	backpressure atomic.Uint64
	stale        atomic.Uint64
	duplicates   atomic.Uint64
	retired      atomic.Uint64
	invalid      atomic.Uint64
	persistFails atomic.Uint64
	overflowed   atomic.Uint64 // events parked in the overflow buffer
	lost         atomic.Uint64 // events dropped with no further recovery
	fanoutSkips  atomic.Uint64
	drainDrops   atomic.Uint64
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	Enqueued            uint64 `json:"enqueued"`
	Stored              uint64 `json:"stored"`
	Backpressure        uint64 `json:"backpressure"`
	StaleDrops          uint64 `json:"stale_drops"`
	DuplicateDrops      uint64 `json:"duplicate_drops"`
	RetiredDrops        uint64 `json:"retired_drops"`
	InvalidDrops        uint64 `json:"invalid_drops"`
	PersistenceFailures uint64 `json:"persistence_failures"`
	Overflowed          uint64 `json:"overflowed"`
	Lost                uint64 `json:"lost"`
	FanoutSkips         uint64 `json:"fanout_skips"`
	DrainDrops          uint64 `json:"drain_drops"`
}

func (c *counters) snapshot() Stats {
	return Stats{
		Enqueued:            c.enqueued.Load(),
		Stored:              c.stored.Load(),
		Backpressure:        c.backpressure.Load(),
		StaleDrops:          c.stale.Load(),
		DuplicateDrops:      c.duplicates.Load(),
		RetiredDrops:        c.retired.Load(),
		InvalidDrops:        c.invalid.Load(),
		PersistenceFailures: c.persistFails.Load(),
		Overflowed:          c.overflowed.Load(),
		Lost:                c.lost.Load(),
		FanoutSkips:         c.fanoutSkips.Load(),
		DrainDrops:          c.drainDrops.Load(),
	}
}
