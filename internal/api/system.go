package api

import (
	"net/http"
	"time"
)

// handleMetrics exposes operational counters from the pipeline, store
// and registry as a single JSON document.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	storeStats := s.store.GetStats()
	registryStats := s.registry.GetStats()

	body := map[string]any{
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
		"version": s.version,
		"store": map[string]any{
			"series":         storeStats.Series,
			"readings":       storeStats.Readings,
			"appended_total": storeStats.AppendedTotal,
			"evicted_total":  storeStats.EvictedTotal,
		},
		"devices": map[string]any{
			"total":       registryStats.TotalDevices,
			"retired":     registryStats.Retired,
			"by_protocol": registryStats.ByProtocol,
		},
	}

	if s.pipeline != nil {
		body["pipeline"] = s.pipeline.GetStats()
	}

	writeJSON(w, http.StatusOK, body)
}
