package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/julienschmidt/httprouter"

	"atrium-hq/atrium/pkg/config"
	"atrium-hq/atrium/pkg/resource"
	"atrium-hq/atrium/pkg/server/middleware"
	"atrium-hq/atrium/pkg/telemetry/metrics"
	"atrium-hq/atrium/pkg/view"
)

// Resource is the operation set every resource module exposes.
type Resource interface {
	Create(ctx context.Context, req *resource.Request) (view.Record, error)
	Read(ctx context.Context, req *resource.Request) (view.Record, error)
	Update(ctx context.Context, req *resource.Request) (view.Record, error)
	Delete(ctx context.Context, req *resource.Request) error
	List(ctx context.Context, req *resource.Request) ([]view.Record, error)
}

// Server is the HTTP server for the REST API.
type Server struct {
	config  *config.Config
	users   Resource
	posts   Resource
	pages   Resource
	metrics *metrics.RequestMetrics
	logger  *slog.Logger

	httpServer   *http.Server
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// NewServer creates the API server over the three resource modules.
func NewServer(cfg *config.Config, users, posts, pages Resource) *Server {
	s := &Server{
		config: cfg,
		users:  users,
		posts:  posts,
		pages:  pages,
		logger: slog.Default().With("component", "server"),
	}
	if cfg.Telemetry.Metrics.Enabled {
		s.metrics = metrics.NewRequestMetrics(cfg.Telemetry.Metrics.Namespace)
	}
	return s
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// server fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:         s.config.Server.ListenAddress,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	var reloader *CertReloader
	if s.config.Server.TLS.Enabled {
		var err error
		reloader, err = NewCertReloader(s.config.Server.TLS.CertFile, s.config.Server.TLS.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to configure TLS: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:     tls.VersionTLS13,
			GetCertificate: reloader.GetCertificate,
		}
		go func() {
			if err := reloader.Watch(ctx); err != nil {
				s.logger.Error("certificate watcher failed", "error", err)
			}
		}()
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"address", s.config.Server.ListenAddress,
			"tls_enabled", s.config.Server.TLS.Enabled,
		)
		var err error
		if s.config.Server.TLS.Enabled {
			// Certificates come from the reloader, not from files read
			// once at startup.
			err = s.httpServer.ListenAndServeTLS("", "")
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("error during server shutdown", "error", err)
				shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("server stopped")
	})

	return shutdownErr
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the configured HTTP handler: the routed API wrapped in
// the middleware chain.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()

	// Users. Creation posts to the collection; accounts have no natural
	// key until the datastore assigns one. A PUT to the collection is the
	// anonymous password lifecycle.
	router.Handle(http.MethodPost, "/api/users",
		s.handle("/api/users", http.StatusCreated, recordOp(s.users.Create)))
	router.Handle(http.MethodGet, "/api/users",
		s.handle("/api/users", http.StatusOK, listOp(s.users.List)))
	router.Handle(http.MethodPut, "/api/users",
		s.handle("/api/users", http.StatusOK, recordOp(s.users.Update)))
	router.Handle(http.MethodGet, "/api/users/:userId",
		s.handle("/api/users/:userId", http.StatusOK, recordOp(s.users.Read)))
	router.Handle(http.MethodPut, "/api/users/:userId",
		s.handle("/api/users/:userId", http.StatusOK, recordOp(s.users.Update)))
	router.Handle(http.MethodDelete, "/api/users/:userId",
		s.handle("/api/users/:userId", http.StatusNoContent, deleteOp(s.users.Delete)))

	// Posts and pages are addressed by caller-chosen string ids, so
	// creation names the id in the path.
	router.Handle(http.MethodPost, "/api/posts/:postId",
		s.handle("/api/posts/:postId", http.StatusCreated, recordOp(s.posts.Create)))
	router.Handle(http.MethodGet, "/api/posts",
		s.handle("/api/posts", http.StatusOK, listOp(s.posts.List)))
	router.Handle(http.MethodGet, "/api/posts/:postId",
		s.handle("/api/posts/:postId", http.StatusOK, recordOp(s.posts.Read)))
	router.Handle(http.MethodPut, "/api/posts/:postId",
		s.handle("/api/posts/:postId", http.StatusOK, recordOp(s.posts.Update)))
	router.Handle(http.MethodDelete, "/api/posts/:postId",
		s.handle("/api/posts/:postId", http.StatusNoContent, deleteOp(s.posts.Delete)))

	router.Handle(http.MethodPost, "/api/pages/:pageId",
		s.handle("/api/pages/:pageId", http.StatusCreated, recordOp(s.pages.Create)))
	router.Handle(http.MethodGet, "/api/pages",
		s.handle("/api/pages", http.StatusOK, listOp(s.pages.List)))
	router.Handle(http.MethodGet, "/api/pages/:pageId",
		s.handle("/api/pages/:pageId", http.StatusOK, recordOp(s.pages.Read)))
	router.Handle(http.MethodPut, "/api/pages/:pageId",
		s.handle("/api/pages/:pageId", http.StatusOK, recordOp(s.pages.Update)))
	router.Handle(http.MethodDelete, "/api/pages/:pageId",
		s.handle("/api/pages/:pageId", http.StatusNoContent, deleteOp(s.pages.Delete)))

	router.HandlerFunc(http.MethodGet, "/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		router.Handler(http.MethodGet, s.config.Telemetry.Metrics.Path, s.metrics.Handler())
	}

	var handler http.Handler = router
	handler = middleware.Logging(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(handler)
	return handler
}
