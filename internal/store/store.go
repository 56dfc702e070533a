package store

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gridpulse/gridpulse-core/internal/telemetry"
)

// Logger defines the logging interface used by the Store.
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

// ArchiveSink mirrors accepted readings to long-term storage.
// Implementations must not block; the store calls it on the write path.
type ArchiveSink interface {
	WriteReading(r telemetry.Reading)
}

// Config contains store tuning options.
type Config struct {
	// RetentionHorizon is how long readings are kept in memory.
	RetentionHorizon time.Duration

	// CompactionInterval is how often the retention pass runs.
	CompactionInterval time.Duration
}

// series holds the readings of one (device, metric) key, ordered
// ascending by source timestamp.
type series struct {
	mu       sync.RWMutex
	readings []telemetry.Reading
}

// Store is an in-memory time-series store with per-key write
// serialization and bounded retention.
//
// All public methods are thread-safe.
type Store struct {
	mu     sync.RWMutex // protects series map and closed flag
	series map[telemetry.Key]*series
	closed bool

	cfg     Config
	archive ArchiveSink
	logger  Logger

	// counters
	appended atomic.Uint64
	evicted  atomic.Uint64
}

// New creates a store with the given retention configuration.
func New(cfg Config) *Store {
	return &Store{
		series: make(map[telemetry.Key]*series),
		cfg:    cfg,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// SetArchive attaches an archive sink. Every subsequent Append is
// mirrored to it. Must be called before the store receives writes.
func (s *Store) SetArchive(sink ArchiveSink) {
	s.archive = sink
}

// getSeries returns the series for key, creating it when create is set.
// Returns nil when the key is unknown and create is false, or when the
// store is closed.
func (s *Store) getSeries(key telemetry.Key, create bool) (*series, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	ser, ok := s.series[key]
	s.mu.RUnlock()
	if ok {
		return ser, nil
	}
	if !create {
		return nil, ErrSeriesNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	// Re-check: another writer may have created it between locks.
	if ser, ok = s.series[key]; !ok {
		ser = &series{}
		s.series[key] = ser
	}
	return ser, nil
}

// Append stores a reading. Readings arriving out of timestamp order are
// inserted at their sorted position, so a series is always ordered
// ascending by source time. A reading whose source timestamp already
// exists in the series yields ErrDuplicateReading; the check and the
// insert are atomic under the series lock, so a reading is stored at
// most once even with concurrent writers. Returns ErrClosed after Close.
func (s *Store) Append(r telemetry.Reading) error {
	ser, err := s.getSeries(r.Key(), true)
	if err != nil {
		return err
	}

	ser.mu.Lock()
	inserted := ser.insert(r)
	ser.mu.Unlock()
	if !inserted {
		return ErrDuplicateReading
	}

	s.appended.Add(1)

	if s.archive != nil {
		s.archive.WriteReading(r)
	}
	return nil
}

// insert places r at its sorted position, reporting false for an exact
// source-timestamp duplicate. The common case is an append at the tail;
// out-of-order arrivals within skew tolerance walk back from the end.
// Caller holds the series write lock.
func (ser *series) insert(r telemetry.Reading) bool {
	n := len(ser.readings)
	if n == 0 || r.SourceTime.After(ser.readings[n-1].SourceTime) {
		ser.readings = append(ser.readings, r)
		return true
	}

	i := sort.Search(n, func(i int) bool {
		return !ser.readings[i].SourceTime.Before(r.SourceTime)
	})
	if i < n && ser.readings[i].SourceTime.Equal(r.SourceTime) {
		return false
	}
	ser.readings = append(ser.readings, telemetry.Reading{})
	copy(ser.readings[i+1:], ser.readings[i:])
	ser.readings[i] = r
	return true
}

// Latest returns the most recent reading for a key.
// Returns ErrSeriesNotFound if the key was never written.
func (s *Store) Latest(deviceID, metric string) (telemetry.Reading, error) {
	ser, err := s.getSeries(telemetry.Key{DeviceID: deviceID, Metric: metric}, false)
	if err != nil {
		return telemetry.Reading{}, err
	}

	ser.mu.RLock()
	defer ser.mu.RUnlock()

	// Compaction keeps the newest reading, so a known series is never empty.
	if len(ser.readings) == 0 {
		return telemetry.Reading{}, ErrSeriesNotFound
	}
	return ser.readings[len(ser.readings)-1], nil
}

// Range returns the readings for a key with source time in [from, to],
// ordered ascending. The result is a snapshot: it remains valid and
// stable after concurrent writes or compaction.
//
// Returns ErrSeriesNotFound if the key was never written; a known key
// with no data in the window yields an empty, non-nil slice.
func (s *Store) Range(deviceID, metric string, from, to time.Time) ([]telemetry.Reading, error) {
	if to.Before(from) {
		return nil, ErrInvalidRange
	}

	ser, err := s.getSeries(telemetry.Key{DeviceID: deviceID, Metric: metric}, false)
	if err != nil {
		return nil, err
	}

	ser.mu.RLock()
	defer ser.mu.RUnlock()

	lo := sort.Search(len(ser.readings), func(i int) bool {
		return !ser.readings[i].SourceTime.Before(from)
	})
	hi := sort.Search(len(ser.readings), func(i int) bool {
		return ser.readings[i].SourceTime.After(to)
	})

	out := make([]telemetry.Reading, hi-lo)
	copy(out, ser.readings[lo:hi])
	return out, nil
}

// Contains reports whether a reading with the exact source timestamp
// exists for the key. Used by the pipeline's dedup stage for keys whose
// newest timestamp alone cannot decide.
func (s *Store) Contains(key telemetry.Key, sourceTime time.Time) bool {
	ser, err := s.getSeries(key, false)
	if err != nil {
		return false
	}

	ser.mu.RLock()
	defer ser.mu.RUnlock()

	i := sort.Search(len(ser.readings), func(i int) bool {
		return !ser.readings[i].SourceTime.Before(sourceTime)
	})
	return i < len(ser.readings) && ser.readings[i].SourceTime.Equal(sourceTime)
}

// NewestTimestamp returns the source time of the newest reading for a
// key, and whether the key has any readings.
func (s *Store) NewestTimestamp(key telemetry.Key) (time.Time, bool) {
	ser, err := s.getSeries(key, false)
	if err != nil {
		return time.Time{}, false
	}

	ser.mu.RLock()
	defer ser.mu.RUnlock()

	if len(ser.readings) == 0 {
		return time.Time{}, false
	}
	return ser.readings[len(ser.readings)-1].SourceTime, true
}

// Close marks the store unavailable. Subsequent Append, Latest and Range
// calls return ErrClosed. Stored data is released.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.series = nil
	s.logger.Info("store closed",
		"appended_total", s.appended.Load(),
		"evicted_total", s.evicted.Load())
}

// Stats describes the store for monitoring.
type Stats struct {
	Series        int
	Readings      int
	AppendedTotal uint64
	EvictedTotal  uint64
}

// GetStats returns current store statistics.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Series:        len(s.series),
		AppendedTotal: s.appended.Load(),
		EvictedTotal:  s.evicted.Load(),
	}
	for _, ser := range s.series {
		ser.mu.RLock()
		stats.Readings += len(ser.readings)
		ser.mu.RUnlock()
	}
	return stats
}
