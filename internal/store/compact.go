package store

import (
	"context"
	"time"
)

// Run executes the retention compaction loop until ctx is cancelled.
// It is intended to be started once, as its own goroutine, after the
// store is created.
func (s *Store) Run(ctx context.Context) error {
	interval := s.cfg.CompactionInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("compaction loop started",
		"interval", interval,
		"retention_horizon", s.cfg.RetentionHorizon)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("compaction loop stopped")
			return ctx.Err()
		case <-ticker.C:
			evicted := s.Compact(time.Now())
			if evicted > 0 {
				s.logger.Debug("compaction pass complete", "evicted", evicted)
			}
		}
	}
}

// Compact evicts readings with source time older than the retention
// horizon, measured from now. The newest reading of every series is
// always kept, regardless of age, so Latest keeps answering for keys
// that have gone quiet. Returns the number of evicted readings.
func (s *Store) Compact(now time.Time) int {
	if s.cfg.RetentionHorizon <= 0 {
		return 0
	}
	cutoff := now.Add(-s.cfg.RetentionHorizon)

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return 0
	}
	// Snapshot series pointers so eviction does not hold the registry
	// lock while walking individual series.
	all := make([]*series, 0, len(s.series))
	for _, ser := range s.series {
		all = append(all, ser)
	}
	s.mu.RUnlock()

	total := 0
	for _, ser := range all {
		total += ser.evictBefore(cutoff)
	}
	if total > 0 {
		s.evicted.Add(uint64(total))
	}
	return total
}

// evictBefore drops readings strictly older than cutoff, keeping at
// least the newest reading.
func (ser *series) evictBefore(cutoff time.Time) int {
	ser.mu.Lock()
	defer ser.mu.Unlock()

	n := len(ser.readings)
	if n <= 1 {
		return 0
	}

	i := 0
	for i < n-1 && ser.readings[i].SourceTime.Before(cutoff) {
		i++
	}
	if i == 0 {
		return 0
	}

	// Reallocate rather than reslice so the evicted prefix can be freed.
	ser.readings = append(ser.readings[:0:0], ser.readings[i:]...)
	return i
}
