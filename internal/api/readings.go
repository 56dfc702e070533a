package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gridpulse/gridpulse-core/internal/device"
	"github.com/gridpulse/gridpulse-core/internal/store"
)

// defaultHistoryWindow is applied when a history or summary request
// omits the "from" parameter.
const defaultHistoryWindow = time.Hour

// handleLatest returns the most recent reading for a device metric.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	metric := chi.URLParam(r, "metric")

	if !s.deviceExists(w, r, id) {
		return
	}

	reading, err := s.store.Latest(id, metric)
	switch {
	case errors.Is(err, store.ErrSeriesNotFound):
		writeNotFound(w, "no readings recorded for this metric")
		return
	case errors.Is(err, store.ErrClosed):
		writeUnavailable(w, "reading store is shutting down")
		return
	case err != nil:
		s.logger.Error("reading latest", "device", id, "metric", metric, "error", err)
		writeInternalError(w, "failed to read latest value")
		return
	}

	writeJSON(w, http.StatusOK, reading)
}

// handleHistory returns readings for a device metric within a time
// window. Responds 200 with data, 204 when the series exists but the
// window is empty, 404 for unknown device or never-seen metric, 503
// while the store is unavailable.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	metric := chi.URLParam(r, "metric")

	if !s.deviceExists(w, r, id) {
		return
	}

	from, to, ok := parseWindow(w, r)
	if !ok {
		return
	}

	readings, err := s.store.Range(id, metric, from, to)
	switch {
	case errors.Is(err, store.ErrSeriesNotFound):
		writeNotFound(w, "no readings recorded for this metric")
		return
	case errors.Is(err, store.ErrInvalidRange):
		writeBadRequest(w, "\"from\" must not be after \"to\"")
		return
	case errors.Is(err, store.ErrClosed):
		writeUnavailable(w, "reading store is shutting down")
		return
	case err != nil:
		s.logger.Error("reading history", "device", id, "metric", metric, "error", err)
		writeInternalError(w, "failed to read history")
		return
	}

	if len(readings) == 0 {
		writeNoContent(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"metric":    metric,
		"from":      from,
		"to":        to,
		"count":     len(readings),
		"readings":  readings,
	})
}

// handleSummary returns min/max/mean statistics over a window.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	metric := chi.URLParam(r, "metric")

	if !s.deviceExists(w, r, id) {
		return
	}

	from, to, ok := parseWindow(w, r)
	if !ok {
		return
	}

	summary, err := s.store.Summarize(id, metric, from, to)
	switch {
	case errors.Is(err, store.ErrSeriesNotFound):
		writeNotFound(w, "no readings recorded for this metric")
		return
	case errors.Is(err, store.ErrInvalidRange):
		writeBadRequest(w, "\"from\" must not be after \"to\"")
		return
	case errors.Is(err, store.ErrClosed):
		writeUnavailable(w, "reading store is shutting down")
		return
	case err != nil:
		s.logger.Error("summarising readings", "device", id, "metric", metric, "error", err)
		writeInternalError(w, "failed to summarise readings")
		return
	}

	if summary.Count == 0 {
		writeNoContent(w)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// deviceExists resolves the device through the registry so an unknown
// ID yields 404 rather than an empty series response. Writes the error
// response itself and returns false when the request should not proceed.
func (s *Server) deviceExists(w http.ResponseWriter, r *http.Request, id string) bool {
	_, err := s.registry.Get(r.Context(), id)
	if errors.Is(err, device.ErrNotFound) {
		writeNotFound(w, "device not found")
		return false
	}
	if err != nil {
		s.logger.Error("resolving device", "id", id, "error", err)
		writeInternalError(w, "failed to resolve device")
		return false
	}
	return true
}

// parseWindow reads the optional "from" and "to" RFC 3339 query
// parameters. "to" defaults to now, "from" to one hour before "to".
func parseWindow(w http.ResponseWriter, r *http.Request) (from, to time.Time, ok bool) {
	to = time.Now().UTC()
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeBadRequest(w, "\"to\" must be an RFC 3339 timestamp")
			return time.Time{}, time.Time{}, false
		}
		to = parsed
	}

	from = to.Add(-defaultHistoryWindow)
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeBadRequest(w, "\"from\" must be an RFC 3339 timestamp")
			return time.Time{}, time.Time{}, false
		}
		from = parsed
	}

	if from.After(to) {
		writeBadRequest(w, "\"from\" must not be after \"to\"")
		return time.Time{}, time.Time{}, false
	}

	return from, to, true
}
