package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/nowcast-alert-service/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HeartbeatReader returns the last recorded cycle heartbeat.
type HeartbeatReader interface {
	Read() (domain.Heartbeat, error)
}

// StoreStats exposes store diagnostics.
type StoreStats interface {
	Count(ctx context.Context) (int64, error)
	LatestRecordedAt(ctx context.Context) (time.Time, bool, error)
}

// Server exposes health, readiness, status, and metrics HTTP endpoints.
type Server struct {
	httpServer *http.Server
	heartbeat  HeartbeatReader
	stats      StoreStats
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /status, and /metrics routes.
func NewServer(addr string, ready sharedobs.ReadinessChecker, heartbeat HeartbeatReader, stats StoreStats, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		heartbeat: heartbeat,
		stats:     stats,
		logger:    logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type statusResponse struct {
	Heartbeat        *domain.Heartbeat `json:"heartbeat"`
	HeartbeatError   string            `json:"heartbeat_error,omitempty"`
	Observations     int64             `json:"observations"`
	LatestRecordedAt string            `json:"latest_recorded_at,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var resp statusResponse
	if hb, err := s.heartbeat.Read(); err != nil {
		resp.HeartbeatError = err.Error()
	} else {
		resp.Heartbeat = &hb
	}

	n, err := s.stats.Count(ctx)
	if err != nil {
		s.logger.Error("status: count observations", "error", err)
		sharedobs.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	resp.Observations = n

	latest, ok, err := s.stats.LatestRecordedAt(ctx)
	if err != nil {
		s.logger.Error("status: latest observation", "error", err)
		sharedobs.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if ok {
		resp.LatestRecordedAt = domain.FormatStoreTime(latest)
	}

	sharedobs.WriteJSON(w, http.StatusOK, resp)
}
