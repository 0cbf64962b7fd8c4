package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aristath/tacoreservice/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Response is already partially written; nothing left to do but
		// let the client see a truncated body.
		return
	}
}

// apiError is the HTTP monitoring surface's failure shape: JSON
// `{error: {code, name, description, timestamp, request_id}}`.
type apiError struct {
	Code        int    `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Timestamp   string `json:"timestamp"`
	RequestID   string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, name, description string) {
	writeJSON(w, status, map[string]apiError{
		"error": {
			Code:        status,
			Name:        name,
			Description: description,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
			RequestID:   middleware.GetReqID(r.Context()),
		},
	})
}

// handleHealth is the liveness probe: 200 with identity fields for as
// long as the process is up, no dependency checks. handleLive is an
// alias with identical semantics.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"module":    s.serviceName,
		"version":   Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	s.handleHealth(w, r)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	workers, err := s.store.WorkerStatus(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	snap := s.collector.Snapshot()

	resp := map[string]any{
		"service":        s.serviceName,
		"version":        Version,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"worker_count":   len(workers),
		"total_requests": snap.TotalRequests,
		"error_count":    snap.ErrorCount,
	}
	if s.cache != nil {
		resp["cache_available"] = s.cache.Available()
	} else {
		resp["cache_available"] = false
	}
	if s.jobs != nil {
		resp["jobs"] = s.jobs.Statuses()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := s.store.WorkerStatus(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workers": workers})
}

// handleMetrics merges the collector's live counters with the store's
// trailing-24h aggregates into one summary body.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.ServiceStats(r.Context(), 24)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"collector": s.collector.Snapshot(),
		"store":     stats,
	})
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RequestFilter{
		Method: q.Get("method"),
		Status: q.Get("status"),
	}

	filter.Limit = 100
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 1000 {
			writeError(w, r, http.StatusBadRequest, "invalid_range", "limit must be an integer in [1, 1000]")
			return
		}
		filter.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			writeError(w, r, http.StatusBadRequest, "invalid_range", "offset must be a non-negative integer")
			return
		}
		filter.Offset = offset
	}

	logs, err := s.store.ListRequests(r.Context(), filter)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": logs})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "request_id")

	log, err := s.store.GetRequest(r.Context(), requestID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if log == nil {
		writeError(w, r, http.StatusNotFound, "not_found", "request not found")
		return
	}
	writeJSON(w, http.StatusOK, log)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if h, err := strconv.Atoi(r.URL.Query().Get("hours")); err == nil {
		hours = h
	}

	stats, err := s.store.ServiceStats(r.Context(), hours)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	methodStats, err := s.store.MethodStats(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	hourly, err := s.store.HourlyStats(r.Context(), hours)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"overall": stats,
		"methods": methodStats,
		"hourly":  hourly,
	})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil || d < 1 || d > 365 {
			writeError(w, r, http.StatusBadRequest, "invalid_range", "days must be an integer in [1, 365]")
			return
		}
		days = d
	}

	if err := s.store.Cleanup(r.Context(), days); err != nil {
		writeError(w, r, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleaned"})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.AllConfig(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"config": entries})
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var body struct {
		Value       string `json:"value"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	if err := s.store.SetConfig(r.Context(), key, body.Value, body.Description); err != nil {
		writeError(w, r, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
