package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gridpulse/gridpulse-core/internal/device"
)

// createDeviceRequest is the payload for registering a device manually.
// Most devices auto-register on first reading; this endpoint exists for
// pre-provisioning and attaching metadata up front.
type createDeviceRequest struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Protocol     string  `json:"protocol"`
	Manufacturer *string `json:"manufacturer,omitempty"`
	Model        *string `json:"model,omitempty"`
}

// updateDeviceRequest carries a partial metadata update. Nil fields are
// left unchanged.
type updateDeviceRequest struct {
	Name         *string `json:"name,omitempty"`
	Manufacturer *string `json:"manufacturer,omitempty"`
	Model        *string `json:"model,omitempty"`
}

// handleListDevices returns all registered devices.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.registry.List(r.Context())
	if err != nil {
		s.logger.Error("listing devices", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleCreateDevice registers a new device.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	protocol, err := device.ParseProtocol(req.Protocol)
	if err != nil {
		writeBadRequest(w, "protocol must be \"mqtt\" or \"rest\"")
		return
	}

	d := &device.Device{
		ID:           req.ID,
		Name:         req.Name,
		Protocol:     protocol,
		Manufacturer: req.Manufacturer,
		Model:        req.Model,
	}

	if err := s.registry.Register(r.Context(), d); err != nil {
		switch {
		case errors.Is(err, device.ErrExists):
			writeConflict(w, "device already exists")
		case errors.Is(err, device.ErrInvalidID),
			errors.Is(err, device.ErrInvalidName),
			errors.Is(err, device.ErrInvalidDevice):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		default:
			s.logger.Error("creating device", "id", req.ID, "error", err)
			writeInternalError(w, "failed to create device")
		}
		return
	}

	writeJSON(w, http.StatusCreated, d)
}

// handleGetDevice returns one device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := s.registry.Get(r.Context(), id)
	if errors.Is(err, device.ErrNotFound) {
		writeNotFound(w, "device not found")
		return
	}
	if err != nil {
		s.logger.Error("getting device", "id", id, "error", err)
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// handleUpdateDevice applies a partial metadata update.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	d, err := s.registry.Get(r.Context(), id)
	if errors.Is(err, device.ErrNotFound) {
		writeNotFound(w, "device not found")
		return
	}
	if err != nil {
		s.logger.Error("getting device for update", "id", id, "error", err)
		writeInternalError(w, "failed to update device")
		return
	}

	if req.Name != nil {
		d.Name = *req.Name
	}
	if req.Manufacturer != nil {
		d.Manufacturer = req.Manufacturer
	}
	if req.Model != nil {
		d.Model = req.Model
	}

	if err := s.registry.Update(r.Context(), d); err != nil {
		switch {
		case errors.Is(err, device.ErrInvalidName), errors.Is(err, device.ErrInvalidDevice):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		default:
			s.logger.Error("updating device", "id", id, "error", err)
			writeInternalError(w, "failed to update device")
		}
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// handleRetireDevice soft-retires a device: history stays queryable,
// new readings are rejected.
func (s *Server) handleRetireDevice(w http.ResponseWriter, r *http.Request) {
	s.setRetired(w, r, true)
}

// handleReinstateDevice resumes ingestion for a retired device.
func (s *Server) handleReinstateDevice(w http.ResponseWriter, r *http.Request) {
	s.setRetired(w, r, false)
}

func (s *Server) setRetired(w http.ResponseWriter, r *http.Request, retired bool) {
	id := chi.URLParam(r, "id")

	var err error
	if retired {
		err = s.registry.Retire(r.Context(), id)
	} else {
		err = s.registry.Reinstate(r.Context(), id)
	}

	if errors.Is(err, device.ErrNotFound) {
		writeNotFound(w, "device not found")
		return
	}
	if err != nil {
		s.logger.Error("setting retired flag", "id", id, "retired", retired, "error", err)
		writeInternalError(w, "failed to update device")
		return
	}

	d, err := s.registry.Get(r.Context(), id)
	if err != nil {
		writeInternalError(w, "failed to read back device")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleDeviceStats returns registry statistics.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.registry.GetStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"total":       stats.TotalDevices,
		"retired":     stats.Retired,
		"by_protocol": stats.ByProtocol,
	})
}
