package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/clirelay/internal/audit"
	"github.com/mattjoyce/clirelay/internal/engine"
	"github.com/mattjoyce/clirelay/internal/events"
)

// Invoker runs commands on behalf of HTTP requests.
type Invoker interface {
	Invoke(ctx context.Context, req engine.Request) (*engine.Result, error)
	InFlight() int64
	Total() int64
}

// CommandLister lists the registered command ids, sorted.
type CommandLister interface {
	IDs() []string
}

// HistoryReader reads the invocation log. Nil when the audit log is disabled.
type HistoryReader interface {
	Recent(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
}

// Config holds API server configuration
type Config struct {
	Listen       string
	StaticDir    string // "" disables static files
	MaxBodyBytes int64
	Version      string
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	invoker   Invoker
	commands  CommandLister
	history   HistoryReader
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
	usage     []string
}

// New creates a new API server instance. history may be nil.
func New(config Config, invoker Invoker, commands CommandLister, history HistoryReader, hub *events.Hub, logger *slog.Logger) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 50 << 20
	}
	if hub == nil {
		hub = events.NewHub(0)
	}
	return &Server{
		config:    config,
		invoker:   invoker,
		commands:  commands,
		history:   history,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
		usage:     Usage(commands.IDs(), config.Version),
	}
}

// Start listens on config.Listen and serves until ctx is canceled (blocking).
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled (blocking).
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		// No WriteTimeout: commands without a timeout and SSE streams run unbounded.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/events", s.handleEvents)

	r.Route("/api/1/cli", func(r chi.Router) {
		r.Get("/list", s.handleList)
		r.Get("/history", s.handleHistory)
		r.Get("/run/{commandID}", s.handleRun)
		r.Post("/run/{commandID}", s.handleRun)
		r.Get("/run/*", s.handleMalformedRun)
		r.Post("/run/*", s.handleMalformedRun)
	})

	r.NotFound(s.handleFallback)
	r.MethodNotAllowed(s.handleFallback)

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
