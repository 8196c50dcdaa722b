// Package api exposes the HTTP interface for the harvesting service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quarryd/quarry/internal/harvest"
	"github.com/quarryd/quarry/internal/telemetry"
)

// Runner executes workflows. Implemented by workflow.Coordinator.
type Runner interface {
	Run(ctx context.Context, req harvest.WorkflowRequest) harvest.WorkflowResult
}

// Config controls server behavior.
type Config struct {
	// RequestTimeout bounds a whole HTTP exchange; it must exceed the
	// largest accepted workflow timeout.
	RequestTimeout time.Duration
	// APIKey enables key auth when non-empty.
	APIKey string
	// DefaultWorkflowTimeout applies when the request omits timeout_seconds.
	DefaultWorkflowTimeout time.Duration
	// Processing holds the service-level pipeline defaults that requests may
	// override field by field.
	Processing harvest.ProcessingConfig
}

// Server wires HTTP handlers to the workflow coordinator.
type Server struct {
	cfg    Config
	runner Runner
	store  harvest.Persistence
	logger *zap.Logger
	router chi.Router
}

// NewServer constructs a Server with middleware and routes. store may be nil;
// readiness then skips the persistence check.
func NewServer(cfg Config, runner Runner, store harvest.Persistence, logger *zap.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 630 * time.Second
	}
	if cfg.DefaultWorkflowTimeout <= 0 {
		cfg.DefaultWorkflowTimeout = 300 * time.Second
	}
	if cfg.Processing.BatchSize == 0 {
		cfg.Processing = harvest.DefaultProcessingConfig()
	}
	s := &Server{cfg: cfg, runner: runner, store: store, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Post("/scrape", s.scrape)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			writeJSON(s.logger, w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "persistence unreachable",
			})
			return
		}
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) scrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeValidationError(w, "request body is not valid JSON")
		return
	}
	workflowReq, verr := req.toWorkflowRequest(s.cfg.DefaultWorkflowTimeout, s.cfg.Processing)
	if verr != "" {
		s.writeValidationError(w, verr)
		return
	}

	result := s.runner.Run(r.Context(), workflowReq)

	if result.Cached {
		w.Header().Set("X-Cache-Status", "HIT")
		w.Header().Set("X-Cache-Age", strconv.Itoa(int(result.CacheAge.Seconds())))
	} else {
		w.Header().Set("X-Cache-Status", "MISS")
	}
	writeJSON(s.logger, w, httpStatusFor(result), toScrapeResponse(result))
}

func (s *Server) writeValidationError(w http.ResponseWriter, message string) {
	writeJSON(s.logger, w, http.StatusBadRequest, scrapeResponse{
		Status: "error",
		Error: &errorInfo{
			Code:                harvest.CodeValidation,
			Message:             message,
			RecoverySuggestions: harvest.SuggestionsFor(harvest.CodeValidation),
		},
	})
}

// httpStatusFor maps terminal workflow states onto HTTP codes. Partial
// results are still 200s; the body carries the degradation detail.
func httpStatusFor(result harvest.WorkflowResult) int {
	if result.Status != harvest.StatusFailed {
		return http.StatusOK
	}
	switch result.ErrorCode {
	case harvest.CodeNoContent:
		return http.StatusNotFound
	case harvest.CodeWorkflowTimeout:
		return http.StatusGatewayTimeout
	case harvest.CodeExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)
		telemetry.CountHTTPRequest(r.Method, strconv.Itoa(ww.status))
		telemetry.ObserveHTTPDuration(r.URL.Path, elapsed)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", elapsed.Milliseconds()))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeJSON(s.logger, w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") != expected {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}
