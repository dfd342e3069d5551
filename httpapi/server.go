// Package httpapi is the thin HTTP surface spec.md §6 describes: it
// owns routing and JSON serialization only, delegating every decision
// to the inference, health, and repository packages beneath it.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/nvidia-clara/dicom-adapter/health"
	"github.com/nvidia-clara/dicom-adapter/inference"
	"github.com/nvidia-clara/dicom-adapter/repository"
	"github.com/nvidia-clara/dicom-adapter/types"
)

// Server wires the four §6 HTTP operations onto a chi router.
type Server struct {
	ctx       context.Context
	requests  repository.InferenceRequestRepository
	jobs      repository.JobRepository
	inference *inference.Service
	reporter  *health.Reporter
	logger    *slog.Logger
}

// New builds a Server. ctx is the process lifetime context: work
// handleSubmit hands off to a background goroutine is threaded through
// ctx rather than context.Background(), so it is cancelled along with
// everything else on shutdown instead of running on uncancellably.
// logger is optional; when omitted, slog.Default() is used.
func New(ctx context.Context, requests repository.InferenceRequestRepository, jobs repository.JobRepository, infer *inference.Service, reporter *health.Reporter, logger ...*slog.Logger) *Server {
	var l *slog.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = slog.Default()
	}
	return &Server{ctx: ctx, requests: requests, jobs: jobs, inference: infer, reporter: reporter, logger: l}
}

// Router builds the chi router this Server serves.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Post("/api/inference", s.handleSubmit)
	r.Get("/api/inference/status/{transactionId}", s.handleStatus)
	r.Get("/health/ready", s.handleReady)
	r.Get("/health/live", s.handleLive)
	r.Get("/health/status", s.handleHealthStatus)

	return r
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var dto submitRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	req, err := dto.toDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TransactionID == "" {
		writeError(w, http.StatusBadRequest, "transactionId is required")
		return
	}

	if err := s.requests.Put(r.Context(), req); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to persist inference request", "transaction_id", req.TransactionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to persist request")
		return
	}

	go s.inference.Process(s.ctx, req)

	writeJSON(w, http.StatusAccepted, submitResponseDTO{
		TransactionID: req.TransactionID,
		JobID:         req.JobID,
		PayloadID:     req.PayloadID,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionId")

	req, err := s.requests.Get(r.Context(), transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown transaction id")
			return
		}
		s.logger.ErrorContext(r.Context(), "failed to load inference request", "transaction_id", transactionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load request")
		return
	}

	var job types.InferenceJob
	if req.JobID != "" {
		if loaded, err := s.jobs.GetJob(r.Context(), req.JobID); err == nil {
			job = loaded
		}
	}

	writeJSON(w, http.StatusOK, statusResponseFrom(req, job))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.reporter.Readiness() {
		writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if !s.reporter.Liveness() {
		writeError(w, http.StatusServiceUnavailable, "not live")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reporter.Status())
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
