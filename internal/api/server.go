// Package api exposes the HTTP surface: document upload and lifecycle,
// job status (polling and SSE streaming), and comparisons. Every JSON
// response uses the {data, error} envelope.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MLaitarovsky/docpilot/internal/common"
	"github.com/MLaitarovsky/docpilot/internal/config"
	"github.com/MLaitarovsky/docpilot/internal/models"
	"github.com/MLaitarovsky/docpilot/internal/progress"
	"github.com/MLaitarovsky/docpilot/internal/storage"
	"github.com/MLaitarovsky/docpilot/internal/store"
	"github.com/MLaitarovsky/docpilot/internal/telemetry"
)

// Store is the persistence surface the API needs.
type Store interface {
	CreateDocument(ctx context.Context, p store.CreateDocumentParams) (models.Document, error)
	GetDocument(ctx context.Context, id string) (models.Document, error)
	ListDocuments(ctx context.Context, p store.ListDocumentsParams) ([]models.Document, int, error)
	DeleteDocument(ctx context.Context, id string) error

	GetJob(ctx context.Context, id string) (models.Job, error)

	GetExtraction(ctx context.Context, documentID string) (models.Extraction, bool, error)
	ListClauses(ctx context.Context, documentID string) ([]models.Clause, error)

	CreateComparison(ctx context.Context, docAID, docBID string, diff json.RawMessage) (models.Comparison, error)
	GetComparison(ctx context.Context, id string) (models.Comparison, error)
	ListComparisons(ctx context.Context, limit, offset int) ([]models.Comparison, int, error)
	DeleteComparison(ctx context.Context, id string) error
}

// Pipeline starts and restarts processing jobs.
type Pipeline interface {
	Start(ctx context.Context, documentID string) (models.Job, error)
	Reprocess(ctx context.Context, documentID string) (models.Job, error)
}

// Streams attaches to per-job progress streams.
type Streams interface {
	Subscribe(ctx context.Context, jobID string) *progress.Subscription
}

// Limiter throttles requests per client key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// Server wires the HTTP handlers.
type Server struct {
	cfg       config.Config
	store     Store
	pipeline  Pipeline
	streams   Streams
	uploader  storage.Uploader
	extractor storage.TextExtractor
	limiter   Limiter
	log       *slog.Logger
}

// New constructs the API server.
func New(cfg config.Config, st Store, pl Pipeline, streams Streams, uploader storage.Uploader, extractor storage.TextExtractor, limiter Limiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if extractor == nil {
		extractor = storage.PlainText{}
	}
	return &Server{
		cfg:       cfg,
		store:     st,
		pipeline:  pl,
		streams:   streams,
		uploader:  uploader,
		extractor: extractor,
		limiter:   limiter,
		log:       logger,
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

	r.Route("/api", func(r chi.Router) {
		r.Post("/documents/upload", s.handleUpload)
		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Post("/documents/{id}/reprocess", s.handleReprocess)
		r.Delete("/documents/{id}", s.handleDeleteDocument)

		r.Get("/jobs/{id}", s.handleGetJob)
		r.Get("/jobs/{id}/status", s.handleJobStatus)

		r.Post("/compare", s.handleCreateComparison)
		r.Get("/compare", s.handleListComparisons)
		r.Get("/compare/{id}", s.handleGetComparison)
		r.Delete("/compare/{id}", s.handleDeleteComparison)
	})

	return r
}

// envelope is the uniform response shape.
type envelope struct {
	Data  any       `json:"data"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: &apiError{Message: message, Code: code}})
}

// writeFromErr maps domain sentinel errors to HTTP statuses and codes.
func (s *Server) writeFromErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, common.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, common.ErrConflict):
		writeError(w, http.StatusConflict, "CONFLICT", err.Error())
	default:
		s.log.Error("api.internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}

// allowed applies the rate limiter, writing the rejection itself.
func (s *Server) allowed(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	ok, _, err := s.limiter.Allow(r.Context(), clientKey(r))
	if err != nil {
		// Limiter outage should not take uploads down with it.
		s.log.Warn("api.rate_limit_check_failed", "error", err)
		return true
	}
	if !ok {
		telemetry.RateLimitRejects.Inc()
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
		return false
	}
	return true
}

func clientKey(r *http.Request) string {
	if v := r.Header.Get("X-Client-ID"); v != "" {
		return v
	}
	return r.RemoteAddr
}
