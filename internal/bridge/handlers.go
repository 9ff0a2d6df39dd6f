package bridge

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/GalSened/RoamWise-sub002/internal/fsm"
	"github.com/GalSened/RoamWise-sub002/internal/guardian"
	"github.com/GalSened/RoamWise-sub002/internal/pack"
	"github.com/GalSened/RoamWise-sub002/internal/trail"
)

// writeJSON writes a JSON body with the request ID echoed for correlation.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	if id := GetRequestID(r.Context()); id != "" {
		w.Header().Set("X-Request-Id", id)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	writeJSON(w, r, status, errorResponse{Error: code, Detail: detail})
}

// writeGuardianError maps orchestrator errors onto bridge status codes.
func writeGuardianError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, pack.ErrPackageNotFound):
		writeError(w, r, http.StatusNotFound, "unknown_trail", err.Error())
	case errors.Is(err, pack.ErrDownloadInFlight):
		writeError(w, r, http.StatusConflict, "download_in_flight", err.Error())
	case errors.Is(err, fsm.ErrNoTransition), errors.Is(err, fsm.ErrGuardRejected):
		writeError(w, r, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, guardian.ErrNoTrail):
		writeError(w, r, http.StatusUnprocessableEntity, "invalid_payload", err.Error())
	case errors.Is(err, guardian.ErrNotStarted), errors.Is(err, guardian.ErrClosed):
		writeError(w, r, http.StatusServiceUnavailable, "guardian_unavailable", err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, healthResponse{
		Status:        "ok",
		Version:       s.cfg.Version,
		Uptime:        time.Since(s.started).Round(time.Second).String(),
		StreamClients: s.hub.clientCount(),
	})
}

// handleStatus handles GET /v1/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.guardian.Status())
}

// decodeTrail reads a trail payload. Full geometry builds a fresh trail; an
// id-only body resolves against the package cache.
func (s *Server) decodeTrail(w http.ResponseWriter, r *http.Request) (*trail.TrailData, bool) {
	var req trailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "invalid_payload", "malformed trail body: "+err.Error())
		return nil, false
	}

	if len(req.Points) == 0 {
		if req.ID == "" {
			writeError(w, r, http.StatusUnprocessableEntity, "invalid_payload", "trail needs an id or points")
			return nil, false
		}
		pkg, err := s.packs.GetPackage(r.Context(), req.ID)
		if err != nil {
			writeGuardianError(w, r, err)
			return nil, false
		}
		return pkg.Trail, true
	}

	td, err := req.build()
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "invalid_payload", err.Error())
		return nil, false
	}
	return td, true
}

// handleSelectTrail handles POST /v1/trail/select.
func (s *Server) handleSelectTrail(w http.ResponseWriter, r *http.Request) {
	td, ok := s.decodeTrail(w, r)
	if !ok {
		return
	}

	if err := s.guardian.SelectTrail(r.Context(), td); err != nil {
		writeGuardianError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.guardian.Status())
}

// handleDownloadTrail handles POST /v1/trail/download.
func (s *Server) handleDownloadTrail(w http.ResponseWriter, r *http.Request) {
	td, ok := s.decodeTrail(w, r)
	if !ok {
		return
	}

	if err := s.guardian.DownloadTrailPackage(r.Context(), td); err != nil {
		switch {
		case errors.Is(err, pack.ErrDownloadInFlight),
			errors.Is(err, fsm.ErrNoTransition),
			errors.Is(err, guardian.ErrNoTrail),
			errors.Is(err, guardian.ErrNotStarted),
			errors.Is(err, guardian.ErrClosed):
			writeGuardianError(w, r, err)
		default:
			// The guardian has already dropped to limited mode; the hike can
			// still start without the package.
			writeError(w, r, http.StatusBadGateway, "download_failed", err.Error())
		}
		return
	}
	writeJSON(w, r, http.StatusOK, s.guardian.Status())
}

// handleStartHike handles POST /v1/hike/start.
func (s *Server) handleStartHike(w http.ResponseWriter, r *http.Request) {
	if err := s.guardian.StartHike(); err != nil {
		writeGuardianError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.guardian.Status())
}

// handleStopHike handles POST /v1/hike/stop.
func (s *Server) handleStopHike(w http.ResponseWriter, r *http.Request) {
	if err := s.guardian.StopHike(); err != nil {
		writeGuardianError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.guardian.Status())
}

// handleCompleteHike handles POST /v1/hike/complete.
func (s *Server) handleCompleteHike(w http.ResponseWriter, r *http.Request) {
	if err := s.guardian.CompleteHike(); err != nil {
		writeGuardianError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.guardian.Status())
}

// handleEmergency handles POST /v1/hike/emergency. An empty body is a bare
// SOS; never refuse one over framing.
func (s *Server) handleEmergency(w http.ResponseWriter, r *http.Request) {
	var req emergencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusUnprocessableEntity, "invalid_payload", "malformed emergency body: "+err.Error())
		return
	}

	alert, err := s.guardian.TriggerEmergency(req.Reason)
	if err != nil {
		writeGuardianError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, alert)
}

// handleResolveEmergency handles POST /v1/hike/emergency/resolve.
func (s *Server) handleResolveEmergency(w http.ResponseWriter, r *http.Request) {
	if err := s.guardian.ResolveEmergency(); err != nil {
		writeGuardianError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.guardian.Status())
}

// handleLocation handles POST /v1/location. Fixes are queued, not processed
// inline, so the response is 202.
func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "invalid_payload", "malformed location body: "+err.Error())
		return
	}

	p, err := req.geoPoint()
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "invalid_payload", err.Error())
		return
	}

	s.guardian.UpdateLocation(p)
	writeJSON(w, r, http.StatusAccepted, nil)
}

// handleBattery handles POST /v1/battery.
func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	var req batteryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "invalid_payload", "malformed battery body: "+err.Error())
		return
	}
	if req.Level == nil || *req.Level < 0 || *req.Level > 1 {
		writeError(w, r, http.StatusUnprocessableEntity, "invalid_payload", "level must be within [0, 1]")
		return
	}

	s.guardian.UpdateBattery(*req.Level)
	writeJSON(w, r, http.StatusAccepted, nil)
}
