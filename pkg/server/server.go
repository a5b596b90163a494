// Package server exposes the MVCC engine over HTTP: transaction begin,
// commit and rollback, point operations and scans addressed by transaction
// ID, plus unversioned metadata and engine status.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mnohosten/versa-db/pkg/auth"
	"github.com/mnohosten/versa-db/pkg/compression"
	"github.com/mnohosten/versa-db/pkg/mvcc"
	"github.com/mnohosten/versa-db/pkg/store"
)

// Server is the HTTP server for a versa-db engine
type Server struct {
	config      *Config
	engine      *mvcc.Engine
	authManager *auth.Manager
	router      *chi.Mux
	httpSrv     *http.Server
	startTime   time.Time
}

// New creates a server over an in-memory store, compressed per the
// configuration. A non-nil auth manager makes every route require
// authentication, with mutations restricted to writing roles.
func New(config *Config, authManager *auth.Manager) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}

	var backend store.Store = store.NewMemory()
	if config.Compression != "" && config.Compression != "none" {
		algorithm, err := compression.ParseAlgorithm(config.Compression)
		if err != nil {
			return nil, err
		}
		backend, err = store.NewCompressed(backend, &compression.Config{Algorithm: algorithm, Level: 3})
		if err != nil {
			return nil, fmt.Errorf("failed to set up store compression: %w", err)
		}
	}

	srv := &Server{
		config:      config,
		engine:      mvcc.New(backend),
		authManager: authManager,
		router:      chi.NewRouter(),
		startTime:   time.Now(),
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	srv.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      srv.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return srv, nil
}

// Engine returns the server's engine, for embedding and tests.
func (s *Server) Engine() *mvcc.Engine {
	return s.engine
}

// Handler returns the server's HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures the HTTP middleware stack
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	if s.config.EnableLogging {
		s.router.Use(middleware.Logger)
	}

	s.router.Use(s.requestSizeLimitMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authManager != nil {
		s.router.Use(auth.Middleware(s.authManager))
	}
}

// setupRoutes configures HTTP routes
func (s *Server) setupRoutes() {
	h := NewHandlers(s.engine)

	s.router.Get("/_health", h.Health(s.startTime))
	s.router.Get("/_status", h.Status)

	s.router.Get("/metadata/{key}", h.GetMetadata)
	s.router.With(s.requireWrite).Put("/metadata/{key}", h.SetMetadata)

	s.router.Post("/txn", h.Begin)
	s.router.Route("/txn/{id}", func(r chi.Router) {
		r.Post("/commit", h.Commit)
		r.Post("/rollback", h.Rollback)
		r.Get("/keys/{key}", h.Get)
		r.With(s.requireWrite).Put("/keys/{key}", h.Set)
		r.With(s.requireWrite).Delete("/keys/{key}", h.Delete)
		r.Get("/scan", h.Scan(s.config.ScanLimitMax))
	})
}

// requireWrite restricts a route to writing roles when auth is enabled.
func (s *Server) requireWrite(next http.Handler) http.Handler {
	if s.authManager == nil {
		return next
	}
	return auth.RequireWrite(next)
}

// requestSizeLimitMiddleware caps request body size
func (s *Server) requestSizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)
		next.ServeHTTP(w, r)
	})
}

// Start runs the server until SIGINT or SIGTERM, then shuts down
// gracefully.
func (s *Server) Start() error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("versa-db server listening on %s", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		log.Printf("received %v, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the HTTP server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	log.Printf("server stopped")
	return nil
}
