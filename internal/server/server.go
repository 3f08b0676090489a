package server

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/michaelbrown/runbox/internal/config"
	"github.com/michaelbrown/runbox/internal/metrics"
	"github.com/michaelbrown/runbox/internal/sandbox"
	"github.com/michaelbrown/runbox/internal/storage"
)

// Server is the HTTP front end of the sandbox. Each instance owns its router and
// listener, so tests can run several side by side.
type Server struct {
	cfg     *config.Config
	sandbox sandbox.Sandbox
	policy  sandbox.Policy
	history storage.Store // nil when history is disabled
	metrics *metrics.Collector
	logger  *zap.Logger
	router  chi.Router

	mu     sync.Mutex
	http   *http.Server
	closed bool
}

// New creates a new Server. history may be nil.
func New(cfg *config.Config, sb sandbox.Sandbox, history storage.Store, collector *metrics.Collector, logger *zap.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		sandbox: sb,
		policy:  PolicyFromConfig(cfg),
		history: history,
		metrics: collector,
		logger:  logger.With(zap.String("component", "server")),
		router:  chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// PolicyFromConfig builds the sandbox policy from the sandbox config section.
func PolicyFromConfig(cfg *config.Config) sandbox.Policy {
	return sandbox.Policy{
		Interpreter:    cfg.Sandbox.Interpreter,
		Timeout:        cfg.Sandbox.Timeout,
		WorkDir:        cfg.Sandbox.WorkDir,
		ScriptName:     cfg.Sandbox.ScriptName,
		LanguagePrefix: cfg.Sandbox.LanguagePrefix,
	}
}

func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/", s.handleHome)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/v1/sandbox", func(r chi.Router) {
		r.Use(jsonContentType)

		r.Post("/run", s.handleRun)

		r.Get("/executions", s.handleListExecutions)
		r.Get("/executions/{id}", s.handleGetExecution)
	})
}

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and blocks until the server stops.
// It returns nil after a clean Shutdown.
func (s *Server) Start() error {
	addr := s.cfg.Addr()
	srv := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.http = srv
	s.mu.Unlock()

	if !s.cfg.IsLoopback() {
		s.logger.Warn("listening on a non-loopback address; the sandbox is not a security boundary",
			zap.String("addr", addr))
	}
	s.logger.Info("runbox server starting",
		zap.String("addr", addr),
		zap.String("interpreter", s.policy.Interpreter),
		zap.Duration("timeout", s.policy.Timeout),
		zap.Bool("history", s.history != nil),
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting up to the configured
// shutdown timeout for in-flight executions. A Start that has not begun
// serving yet returns immediately instead.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	s.mu.Lock()
	s.closed = true
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
