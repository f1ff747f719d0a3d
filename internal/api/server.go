package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"content-orchestrator/internal/config"
	"content-orchestrator/internal/models"
	"content-orchestrator/internal/orchestrator"
	"content-orchestrator/internal/ratelimit"
	"content-orchestrator/internal/refund"
	"content-orchestrator/internal/store"
	"content-orchestrator/internal/telemetry"
)

// Server wires HTTP handlers for the producer API.
type Server struct {
	cfg     config.Config
	store   store.Store
	orch    *orchestrator.Service
	refunds *refund.Service
	limiter *ratelimit.Limiter
	stream  *StreamHub
}

// New constructs the API server. limiter and stream may be nil.
func New(cfg config.Config, st store.Store, orch *orchestrator.Service, refunds *refund.Service, limiter *ratelimit.Limiter, stream *StreamHub) *Server {
	return &Server{
		cfg:     cfg,
		store:   st,
		orch:    orch,
		refunds: refunds,
		limiter: limiter,
		stream:  stream,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Route("/projects/{projectID}", func(r chi.Router) {
		r.Post("/keywords", s.rateLimited(s.handleAnalyzeKeyword))
		r.Post("/competitors", s.rateLimited(s.handleAnalyzeCompetitor))
		r.Post("/refunds", s.handleRequestRefund)
		r.Put("/autopilot", s.handleUpdateAutopilot)
		r.Get("/jobs", s.handleListJobs)
		if s.stream != nil {
			r.Get("/stream", s.stream.ServeWS)
		}
	})

	r.Post("/keywords/{id}/brief", s.rateLimited(s.handleRequestBrief))
	r.Get("/jobs/{id}", s.handleGetJob)
	return r
}

// rateLimited consumes an enqueue token for the project before running the
// handler. A missing limiter (tests, single-node dev) admits everything.
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			projectID := chi.URLParam(r, "projectID")
			if projectID == "" {
				projectID = "global"
			}
			allowed, _, err := s.limiter.AllowEnqueue(r.Context(), projectID)
			if err != nil {
				http.Error(w, "rate limit error", http.StatusInternalServerError)
				return
			}
			if !allowed {
				telemetry.RateLimitRejects.Inc()
				http.Error(w, "rate limited", http.StatusTooManyRequests)
				return
			}
		}
		next(w, r)
	}
}

type analyzeKeywordRequest struct {
	Term string `json:"term"`
}

type enqueueResponse struct {
	Job    models.Job `json:"job"`
	Reused bool       `json:"reused"`
}

func (s *Server) handleAnalyzeKeyword(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	var req analyzeKeywordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Term == "" {
		http.Error(w, "term is required", http.StatusBadRequest)
		return
	}

	k, job, err := s.orch.AnalyzeKeyword(r.Context(), projectID, req.Term)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	telemetry.EnqueueCounter.Inc()
	writeJSON(w, http.StatusAccepted, map[string]any{"keyword": k, "job": job})
}

func (s *Server) handleRequestBrief(w http.ResponseWriter, r *http.Request) {
	keywordID := chi.URLParam(r, "id")
	job, err := s.orch.RequestBrief(r.Context(), keywordID)
	switch {
	case errors.Is(err, store.ErrEntityNotFound):
		http.Error(w, "keyword not found", http.StatusNotFound)
		return
	case errors.Is(err, orchestrator.ErrNotReady):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	telemetry.EnqueueCounter.Inc()
	writeJSON(w, http.StatusAccepted, enqueueResponse{Job: job})
}

type analyzeCompetitorRequest struct {
	Domain string `json:"domain"`
}

func (s *Server) handleAnalyzeCompetitor(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	var req analyzeCompetitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Domain == "" {
		http.Error(w, "domain is required", http.StatusBadRequest)
		return
	}

	c, job, err := s.orch.AnalyzeCompetitor(r.Context(), projectID, req.Domain)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	telemetry.EnqueueCounter.Inc()
	writeJSON(w, http.StatusAccepted, map[string]any{"competitor": c, "job": job})
}

type refundRequest struct {
	PaymentRef string `json:"payment_ref"`
	Reason     string `json:"reason"`
}

type refundResponse struct {
	Refund models.Refund `json:"refund"`
	Reused bool          `json:"reused"`
}

func (s *Server) handleRequestRefund(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.PaymentRef == "" {
		http.Error(w, "payment_ref is required", http.StatusBadRequest)
		return
	}

	ref, reused, err := s.refunds.Request(r.Context(), projectID, req.PaymentRef, req.Reason)
	switch {
	case errors.Is(err, store.ErrProjectNotFound):
		http.Error(w, "project not found", http.StatusNotFound)
		return
	case errors.Is(err, refund.ErrWindowExpired):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	code := http.StatusAccepted
	if reused {
		code = http.StatusOK
	}
	writeJSON(w, code, refundResponse{Refund: ref, Reused: reused})
}

type autopilotRequest struct {
	Enabled    bool   `json:"enabled"`
	Paused     bool   `json:"paused"`
	TimeOfDay  string `json:"time_of_day"`
	DailyLimit int    `json:"daily_limit"`
}

func (s *Server) handleUpdateAutopilot(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	var req autopilotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.DailyLimit < 0 {
		http.Error(w, "daily_limit must be >= 0", http.StatusBadRequest)
		return
	}
	err := s.store.UpdateAutopilot(r.Context(), projectID, req.Enabled, req.Paused, req.TimeOfDay, req.DailyLimit)
	if errors.Is(err, store.ErrProjectNotFound) {
		http.Error(w, "project not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrJobNotFound) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	jobs, err := s.store.ListActiveJobs(r.Context(), store.ActiveJobFilter{
		ProjectID: projectID,
		Type:      r.URL.Query().Get("type"),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
