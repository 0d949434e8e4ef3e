package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/medkiosk/internal/conn"
	"github.com/mattjoyce/medkiosk/internal/journal"
	"github.com/mattjoyce/medkiosk/internal/reading"
	"github.com/mattjoyce/medkiosk/internal/station"
)

// handleHealthz handles GET /healthz (no auth). A kiosk with any source not
// connected reports "degraded" but still answers 200.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if s.deps.Controller != nil {
		for _, st := range s.deps.Controller.Statuses() {
			resp.Sources++
			if st.State == conn.StateConnected {
				resp.SourcesConnected++
			}
		}
	}
	if resp.SourcesConnected < resp.Sources {
		resp.Status = "degraded"
	}
	if s.deps.Stations != nil {
		resp.Stations = len(s.deps.Stations.Titles())
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleListSources handles GET /sources.
func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	resp := SourcesResponse{Sources: []conn.Status{}}
	if s.deps.Controller != nil {
		resp.Sources = s.deps.Controller.Statuses()
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleTransitions handles GET /sources/{id}/transitions.
func (s *Server) handleTransitions(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	id := chi.URLParam(r, "id")
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trs, err := s.deps.History.Transitions(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("failed to read connection log", "source_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read connection log")
		return
	}
	if trs == nil {
		trs = []journal.Transition{}
	}
	respondJSON(w, http.StatusOK, TransitionsResponse{SourceID: id, Transitions: trs})
}

// handleListStations handles GET /stations. Each station is verified without
// being launched.
func (s *Server) handleListStations(w http.ResponseWriter, r *http.Request) {
	resp := StationsResponse{Stations: []StationSummary{}}
	if s.deps.Stations == nil {
		respondJSON(w, http.StatusOK, resp)
		return
	}
	for _, title := range s.deps.Stations.Titles() {
		desc, _ := s.deps.Stations.Descriptor(title)
		check := s.deps.Stations.Verify(title)
		resp.Stations = append(resp.Stations, StationSummary{
			Title:   title,
			Kind:    desc.Kind,
			Path:    desc.ExecPath,
			Ready:   check.Outcome == "",
			Outcome: check.Outcome,
			Reason:  check.Reason,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleDispatch handles POST /stations/{title}/dispatch.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Controller == nil {
		s.writeError(w, http.StatusServiceUnavailable, "controller not running")
		return
	}
	title := chi.URLParam(r, "title")
	res, err := s.deps.Controller.Dispatch(r.Context(), title)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, dispatchStatus(res.Outcome), res)
}

func dispatchStatus(o station.Outcome) int {
	switch o {
	case station.OutcomeLaunched:
		return http.StatusOK
	case station.OutcomeNotFound:
		return http.StatusNotFound
	case station.OutcomePermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// handleReadings handles GET /readings?kind=&source=&since=&limit=.
func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	q := r.URL.Query()
	query := journal.Query{SourceID: q.Get("source")}

	if k := q.Get("kind"); k != "" {
		query.Kind = reading.Kind(k)
		if !query.Kind.Valid() {
			s.writeError(w, http.StatusBadRequest, "unknown kind "+strconv.Quote(k))
			return
		}
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		query.Since = t
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	query.Limit = limit

	entries, err := s.deps.History.Recent(r.Context(), query)
	if err != nil {
		s.logger.Error("failed to read journal", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	respondJSON(w, http.StatusOK, ReadingsResponse{Readings: entries})
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.deps.Stations))
}

type limitError struct{ raw string }

func (e limitError) Error() string { return "limit must be a positive integer, got " + strconv.Quote(e.raw) }

func parseLimit(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, limitError{raw: v}
	}
	return n, nil
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
