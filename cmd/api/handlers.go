package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/combolab/combo-engine/engine/domain"
	"github.com/combolab/combo-engine/engine/enrich"
	"github.com/combolab/combo-engine/pkg/mid"
	"github.com/combolab/combo-engine/pkg/resilience"
)

const maxBodyBytes = 1 << 20

type breakerStater interface {
	BreakerState() resilience.State
	BreakerFailures() int
}

type pinger interface {
	Ping(ctx context.Context) error
}

type refreshRequester interface {
	RequestPopularityRefresh(ctx context.Context, reason string) error
}

type server struct {
	svc       *enrich.Service
	breaker   breakerStater
	gate      resilience.Gate
	health    pinger
	refresher refreshRequester // nil without NATS
	logger    *slog.Logger
}

func (s *server) routes(metricsHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("POST /api/v1/combos/analyze", s.handleAnalyze)
	mux.HandleFunc("POST /api/v1/rankings/batch", s.handleBatch)
	mux.HandleFunc("GET /api/v1/popularity", s.handlePopularity)
	mux.HandleFunc("POST /api/v1/popularity/refresh", s.handleRefresh)
	mux.Handle("GET /metrics", metricsHandler)
	return mux
}

// --- Handlers ---

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.health.Ping(r.Context()); err != nil {
		s.logger.Error("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StatusResponse is the JSON response for GET /api/v1/status.
type StatusResponse struct {
	Breaker         string `json:"breaker"`
	BreakerFailures int    `json:"breakerFailures"`
	LimiterInWindow *int   `json:"limiterInWindow,omitempty"`
}

func (s *server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Breaker:         s.breaker.BreakerState().String(),
		BreakerFailures: s.breaker.BreakerFailures(),
	}
	if l, ok := s.gate.(*resilience.Limiter); ok {
		resp.LimiterInWindow = domain.IntPtr(l.InWindow())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req domain.AnalyzeRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := s.svc.Analyze(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req domain.EnrichRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := s.svc.Enrich(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handlePopularity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rec, err := s.svc.Popularity(r.Context(), q.Get("keyword"), q.Get("locale"), domain.Platform(q.Get("platform")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// RefreshRequest is the optional JSON body for POST /api/v1/popularity/refresh.
type RefreshRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "popularity refresh requires NATS"})
		return
	}
	var req RefreshRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	if err := s.refresher.RequestPopularityRefresh(r.Context(), req.Reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// --- Helpers ---

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", RequestID: mid.RequestIDFrom(r.Context())})
		return false
	}
	return true
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	id := mid.RequestIDFrom(r.Context())
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: verr.Error(), RequestID: id})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found", RequestID: id})
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "err", err, "request_id", id)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error", RequestID: id})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
