// Package api exposes the HTTP interface for the crawl service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/parchment-ai/webharvest/internal/crawler"
)

// Config controls the HTTP surface.
type Config struct {
	// APIKey enables key auth on /v1 routes when non-empty.
	APIKey string
	// RequestTimeout bounds handler execution.
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the job store and the discovery queue.
type Server struct {
	router    chi.Router
	jobStore  crawler.JobStore
	discovery crawler.Queue
	idGen     crawler.IDGenerator
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobStore crawler.JobStore,
	discovery crawler.Queue,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		jobStore:  jobStore,
		discovery: discovery,
		idGen:     idGen,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.createJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Post("/cancel", s.cancelJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type createJobRequest struct {
	URL    string               `json:"url"`
	Config crawler.ScrapeConfig `json:"config"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	baseURL, err := crawler.NormalizeURL(req.URL)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid url: %v", err))
		return
	}
	if req.Config.Scope != "" && !req.Config.Scope.Valid() {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid scope %q", req.Config.Scope))
		return
	}

	jobID, err := s.idGen.NewID()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "generate job id failed")
		return
	}
	now := s.clock.Now()
	job := crawler.ScrapeJob{
		JobID:     jobID,
		BaseURL:   baseURL,
		Status:    crawler.JobStatusPending,
		Config:    req.Config.WithDefaults(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.jobStore.CreateJob(r.Context(), job); err != nil {
		s.logger.Error("create job failed", zap.String("job_id", jobID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "create job failed")
		return
	}

	queueCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	seed := crawler.QueueMessage{JobID: jobID, URL: baseURL, Depth: 0}
	if err := s.discovery.Send(queueCtx, seed); err != nil {
		// The job exists but can never start; fail it so it does not hang
		// in pending forever.
		s.logger.Error("seed enqueue failed", zap.String("job_id", jobID), zap.Error(err))
		if updErr := s.jobStore.UpdateJobStatus(r.Context(), jobID, crawler.JobStatusFailed); updErr != nil {
			s.logger.Error("fail job after seed enqueue failure", zap.String("job_id", jobID), zap.Error(updErr))
		}
		s.writeError(w, http.StatusInternalServerError, "enqueue job failed")
		return
	}

	s.logger.Info("job accepted",
		zap.String("job_id", jobID),
		zap.String("base_url", baseURL),
		zap.String("scope", string(job.Config.Scope)))
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": string(job.Status)})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if errors.Is(err, crawler.ErrJobNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "get job failed")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if errors.Is(err, crawler.ErrJobNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "get job failed")
		return
	}
	if job.Status.Terminal() && job.Status != crawler.JobStatusCancelled {
		s.writeError(w, http.StatusConflict, fmt.Sprintf("job already %s", job.Status))
		return
	}
	if err := s.jobStore.UpdateJobStatus(r.Context(), jobID, crawler.JobStatusCancelled); err != nil {
		s.logger.Error("cancel job failed", zap.String("job_id", jobID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "cancel job failed")
		return
	}
	s.logger.Info("job cancelled", zap.String("job_id", jobID))
	s.writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(crawler.JobStatusCancelled)})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
