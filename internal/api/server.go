// Package api exposes the HTTP interface for the image scraper service.
package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ferregold/image-scraper/internal/catalog"
	"github.com/ferregold/image-scraper/internal/metrics"
)

// Server wires HTTP handlers to the job store and batch runner.
type Server struct {
	router  chi.Router
	store   catalog.JobStore
	runner  *BatchRunner
	idGen   catalog.IDGenerator
	clock   catalog.Clock
	baseCtx context.Context
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. A nil runner puts
// the scraping endpoints into disabled mode: deployments without a local
// Chrome respond 501 so callers know the feature needs an
// automation-capable runtime.
func NewServer(
	store catalog.JobStore,
	runner *BatchRunner,
	idGen catalog.IDGenerator,
	clock catalog.Clock,
	baseCtx context.Context,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	s := &Server{
		store:   store,
		runner:  runner,
		idGen:   idGen,
		clock:   clock,
		baseCtx: baseCtx,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(corsMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/health", s.health)
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		metrics.Handler().ServeHTTP(w, req)
	})

	if runner == nil {
		r.Post("/scrape/batch", s.scrapingUnavailable)
		r.Get("/scrape/progress/{jobId}", s.scrapingUnavailable)
		r.Delete("/scrape/job/{jobId}", s.scrapingUnavailable)
	} else {
		r.Post("/scrape/batch", s.submitBatch)
		r.Get("/scrape/progress/{jobId}", s.getProgress)
		r.Delete("/scrape/job/{jobId}", s.deleteJob)
	}

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Backend server is running",
	})
}

func (s *Server) scrapingUnavailable(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotImplemented, map[string]any{
		"error":     "Image scraping not available",
		"message":   "Scraping requires a local runtime with browser automation support",
		"localOnly": true,
	})
}

type batchRequest struct {
	Products []catalog.ProductRecord `json:"products"`
	JobID    string                  `json:"jobId"`
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Products == nil {
		writeError(w, http.StatusBadRequest, "products array is required")
		return
	}

	jobID := req.JobID
	if jobID == "" {
		id, err := s.idGen.NewID()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to generate job id")
			return
		}
		jobID = id
	}

	job := catalog.Job{
		ID:        jobID,
		Status:    catalog.JobStatusProcessing,
		Total:     len(req.Products),
		StartedAt: s.clock.Now(),
	}
	if err := s.store.Put(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	// The batch outlives this request; it runs on the server's base context.
	s.runner.Start(s.baseCtx, jobID, req.Products)

	writeJSON(w, http.StatusOK, map[string]any{
		"jobId":   jobID,
		"message": "Scraping started",
		"total":   len(req.Products),
	})
}

type progressResponse struct {
	JobID       string                  `json:"jobId"`
	Status      catalog.JobStatus       `json:"status"`
	Current     int                     `json:"current"`
	Total       int                     `json:"total"`
	Percentage  int                     `json:"percentage"`
	LastProduct string                  `json:"lastProduct"`
	LastStatus  catalog.ItemOutcome     `json:"lastStatus"`
	Results     []catalog.ProductRecord `json:"results"`
	Error       string                  `json:"error,omitempty"`
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	job, err := s.store.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, progressResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Current:     job.Current,
		Total:       job.Total,
		Percentage:  percentage(job.Current, job.Total),
		LastProduct: job.LastProduct,
		LastStatus:  job.LastOutcome,
		Results:     job.Results,
		Error:       job.ErrorText,
	})
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if err := s.store.Delete(r.Context(), jobID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Job deleted"})
}

// percentage derives the completion percentage for pollers. An empty batch
// reports 100 so callers treat it as instantly finished.
func percentage(current, total int) int {
	if total <= 0 {
		return 100
	}
	return int(math.Round(float64(current) / float64(total) * 100))
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware allows any origin; the catalog frontend is served from a
// different host than this API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
