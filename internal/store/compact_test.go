package store

import (
	"errors"
	"testing"
	"time"
)

func TestCompactEvictsOldReadings(t *testing.T) {
	s := New(Config{RetentionHorizon: time.Hour})

	old := baseTime.Add(-3 * time.Hour)
	for i := 0; i < 3; i++ {
		_ = s.Append(reading("d1", "power", float64(i), old.Add(time.Duration(i)*time.Minute)))
	}
	fresh := baseTime.Add(-time.Minute)
	_ = s.Append(reading("d1", "power", 99, fresh))

	evicted := s.Compact(baseTime)
	if evicted != 3 {
		t.Errorf("Compact() evicted %d, want 3", evicted)
	}

	got, err := s.Range("d1", "power", old.Add(-time.Hour), baseTime)
	if err != nil {
		t.Fatalf("Range() error = %v", err)
	}
	if len(got) != 1 || got[0].Value != 99 {
		t.Errorf("Range() after compaction = %v, want only the fresh reading", got)
	}

	stats := s.GetStats()
	if stats.EvictedTotal != 3 {
		t.Errorf("EvictedTotal = %d, want 3", stats.EvictedTotal)
	}
}

func TestCompactKeepsNewestPerKey(t *testing.T) {
	s := New(Config{RetentionHorizon: time.Hour})

	// Every reading for this key is older than the horizon.
	ancient := baseTime.Add(-48 * time.Hour)
	_ = s.Append(reading("d1", "power", 1, ancient))
	_ = s.Append(reading("d1", "power", 2, ancient.Add(time.Minute)))

	evicted := s.Compact(baseTime)
	if evicted != 1 {
		t.Errorf("Compact() evicted %d, want 1", evicted)
	}

	// Eviction floor: latest still answers for a key that was ever written
	latest, err := s.Latest("d1", "power")
	if err != nil {
		t.Fatalf("Latest() after full-horizon compaction error = %v", err)
	}
	if latest.Value != 2 {
		t.Errorf("Latest().Value = %v, want 2 (newest kept)", latest.Value)
	}

	// Repeat pass is a no-op
	if evicted := s.Compact(baseTime); evicted != 0 {
		t.Errorf("second Compact() evicted %d, want 0", evicted)
	}
}

func TestCompactDisabledHorizon(t *testing.T) {
	s := New(Config{RetentionHorizon: 0})

	_ = s.Append(reading("d1", "power", 1, baseTime.Add(-1000*time.Hour)))

	if evicted := s.Compact(baseTime); evicted != 0 {
		t.Errorf("Compact() with zero horizon evicted %d, want 0", evicted)
	}
}

func TestCompactOnClosedStore(t *testing.T) {
	s := New(Config{RetentionHorizon: time.Hour})
	_ = s.Append(reading("d1", "power", 1, baseTime.Add(-2*time.Hour)))
	s.Close()

	if evicted := s.Compact(baseTime); evicted != 0 {
		t.Errorf("Compact() on closed store evicted %d, want 0", evicted)
	}
	if _, err := s.Latest("d1", "power"); !errors.Is(err, ErrClosed) {
		t.Errorf("Latest() error = %v, want ErrClosed", err)
	}
}
