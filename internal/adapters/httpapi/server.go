// Package httpapi is the HTTP surface: webhook intake, workflow management,
// execution history and health.
package httpapi

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/eleven-am/regiflow/internal/adapters/dispatcher"
	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/ports"
	"github.com/gorilla/websocket"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// EngineStats is what the health and metrics endpoints read from the engine.
type EngineStats interface {
	Metrics() domain.ExecutionMetrics
	InFlight() int
}

type ScheduleLister interface {
	Status() []dispatcher.ScheduleStatus
}

// Dependencies are the collaborators behind the routes. Limiter, Events,
// Engine and Schedules are optional.
type Dependencies struct {
	Workflows  ports.WorkflowRepository
	Executions ports.ExecutionStore
	Dispatcher ports.Dispatcher
	Events     ports.EventBus
	Limiter    ports.RateLimiterProvider
	Engine     EngineStats
	Schedules  ScheduleLister
	Logger     *slog.Logger
}

type Server struct {
	config    domain.ServerConfig
	deps      Dependencies
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	handler   http.Handler
	server    *http.Server
	startTime time.Time
}

func NewServer(config domain.ServerConfig, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	defaults := domain.DefaultServerConfig()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}

	s := &Server{
		config: config,
		deps:   deps,
		logger: logger.With("component", "http-api"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		startTime: time.Now(),
	}
	s.handler = s.withLogging(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /webhook/{path...}", s.limitWebhook(http.HandlerFunc(s.handleWebhook)))

	mux.Handle("GET /workflows", s.limitAPI(http.HandlerFunc(s.handleListWorkflows)))
	mux.Handle("POST /workflows", s.limitAPI(http.HandlerFunc(s.handleCreateWorkflow)))
	mux.Handle("GET /workflows/{id}", s.limitAPI(http.HandlerFunc(s.handleGetWorkflow)))
	mux.Handle("PUT /workflows/{id}", s.limitAPI(http.HandlerFunc(s.handleUpdateWorkflow)))
	mux.Handle("POST /workflows/{id}/activate", s.limitAPI(http.HandlerFunc(s.handleActivateWorkflow)))
	mux.Handle("POST /workflows/{id}/execute", s.limitAPI(http.HandlerFunc(s.handleExecuteWorkflow)))

	mux.Handle("GET /executions", s.limitAPI(http.HandlerFunc(s.handleListExecutions)))
	mux.Handle("GET /executions/{id}", s.limitAPI(http.HandlerFunc(s.handleGetExecution)))
	mux.HandleFunc("GET /executions/{id}/stream", s.handleStreamExecution)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /live", s.handleLive)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.Handle("GET /metrics/prometheus", s.prometheusHandler())

	return mux
}

// Handler exposes the routed handler for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.logger.Info("starting http api", "addr", s.config.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			s.logger.Error("http api error", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down http api")
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.statusCode = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}
