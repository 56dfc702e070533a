package ingest

import "errors"

var (
	// ErrBackpressure is returned by Enqueue when the ingest queue is full.
	// It signals the adapter to pause its transport-level read; it is not
	// a failure of the event itself.
	ErrBackpressure = errors.New("ingest: queue full")

	// ErrClosed is returned by Enqueue once the pipeline is shutting down.
	ErrClosed = errors.New("ingest: pipeline closed")

	// ErrStale marks an event older than the newest stored reading for its
	// series by more than the skew tolerance.
	ErrStale = errors.New("ingest: stale reading")

	// ErrDuplicate marks an event whose (device, metric, source timestamp)
	// key is already stored.
	ErrDuplicate = errors.New("ingest: duplicate reading")

	// ErrPersistence marks an event whose storage write failed after all
	// retry attempts.
	ErrPersistence = errors.New("ingest: persistence failure")
)
