package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/album-ripper/internal/config"
	"github.com/JakeFAU/album-ripper/internal/metrics"
	"github.com/JakeFAU/album-ripper/internal/rip"
	"github.com/JakeFAU/album-ripper/internal/store"
)

// LiveRip is the view of a running rip served at /v1/rip. *rip.Rip
// satisfies it.
type LiveRip interface {
	ID() string
	Root() string
	StatusText() string
	CompletionPercentage() int
	Ledger() *rip.Ledger
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Server wires HTTP handlers to the running rip and the progress store.
type Server struct {
	router   chi.Router
	logger   *zap.Logger
	checks   []ReadinessCheck
	progress *ProgressHandler

	mu   sync.RWMutex
	live LiveRip
}

const maxReportedErrors = 100

// NewServer constructs a Server with middleware and routes. repo may be nil,
// in which case the /v1/rips routes answer 503.
func NewServer(
	repo store.ProgressRepository,
	cfg config.ServerConfig,
	logger *zap.Logger,
	checks ...ReadinessCheck,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		logger:   logger,
		checks:   checks,
		progress: NewProgressHandler(repo, logger),
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/rip", s.getLiveRip)
		r.Route("/rips", func(r chi.Router) {
			r.Get("/", s.progress.ListRips)
			r.Route("/{rip_id}", func(r chi.Router) {
				r.Get("/", s.progress.GetRip)
				r.Get("/sites", s.progress.ListRipSites)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetRip publishes r as the running rip. Passing nil clears it.
func (s *Server) SetRip(r LiveRip) {
	s.mu.Lock()
	s.live = r
	s.mu.Unlock()
}

func (s *Server) current() LiveRip {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getLiveRip(w http.ResponseWriter, _ *http.Request) {
	live := s.current()
	if live == nil {
		writeError(w, http.StatusNotFound, "no rip running")
		return
	}
	ledger := live.Ledger()
	counts := ledger.Counts()
	writeJSON(w, http.StatusOK, liveRipDTO{
		RipID:     live.ID(),
		Root:      live.Root(),
		Percent:   live.CompletionPercentage(),
		Status:    live.StatusText(),
		Pending:   counts.Pending,
		Completed: counts.Completed,
		Errored:   counts.Errored,
		Errors:    toErrorDTOs(ledger.Errors()),
	})
}

type liveRipDTO struct {
	RipID     string     `json:"rip_id,omitempty"`
	Root      string     `json:"root"`
	Percent   int        `json:"percent"`
	Status    string     `json:"status"`
	Pending   int        `json:"pending"`
	Completed int        `json:"completed"`
	Errored   int        `json:"errored"`
	Errors    []errorDTO `json:"errors,omitempty"`
}

type errorDTO struct {
	Locator string `json:"locator"`
	Reason  string `json:"reason"`
}

// toErrorDTOs sorts by locator and keeps at most maxReportedErrors entries.
func toErrorDTOs(in map[rip.Locator]string) []errorDTO {
	out := make([]errorDTO, 0, len(in))
	for loc, reason := range in {
		out = append(out, errorDTO{Locator: loc.String(), Reason: reason})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Locator < out[j].Locator })
	if len(out) > maxReportedErrors {
		out = out[:maxReportedErrors]
	}
	return out
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Debug("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("panic", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
