package store

import "errors"

var (
	// ErrClosed is returned when an operation is attempted on a closed store.
	// The API layer maps it to 503 Service Unavailable.
	ErrClosed = errors.New("store: closed")

	// ErrSeriesNotFound is returned when no reading was ever stored for the
	// requested (device, metric) key.
	ErrSeriesNotFound = errors.New("store: series not found")

	// ErrDuplicateReading is returned by Append when a reading with the
	// same (device, metric, source timestamp) is already stored. Readings
	// are stored at most once.
	ErrDuplicateReading = errors.New("store: duplicate reading")

	// ErrInvalidRange is returned when a range query has from after to.
	ErrInvalidRange = errors.New("store: invalid range")
)
