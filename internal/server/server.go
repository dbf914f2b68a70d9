package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/config"
	"github.com/jackzampolin/folio/internal/files"
	"github.com/jackzampolin/folio/internal/home"
	"github.com/jackzampolin/folio/internal/server/endpoints"
	"github.com/jackzampolin/folio/internal/session"
	"github.com/jackzampolin/folio/internal/svcctx"
)

// shutdownTimeout bounds the HTTP drain plus the close-time saves of every
// open document.
const shutdownTimeout = 30 * time.Second

// Server is the main folio HTTP server.
// It owns the session manager and closes every open document, saving
// pending changes, on shutdown.
type Server struct {
	httpServer *http.Server
	sessions   *session.Manager
	configMgr  *config.Manager
	home       *home.Dir
	logger     *slog.Logger

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	draining atomic.Bool

	mu      sync.RWMutex
	running bool
	addr    string
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080, "0" picks a free port)
	Port string
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Home is the folio home directory; Save As targets go to its exports dir
	Home *home.Dir
	// Sessions overrides the session manager built from ConfigManager
	Sessions *session.Manager
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Home == nil {
		h, err := home.New("")
		if err != nil {
			return nil, err
		}
		cfg.Home = h
	}

	sessions := cfg.Sessions
	if sessions == nil {
		var err error
		sessions, err = newSessions(cfg)
		if err != nil {
			return nil, err
		}
	}

	s := &Server{
		sessions:  sessions,
		configMgr: cfg.ConfigManager,
		home:      cfg.Home,
		logger:    cfg.Logger,
	}

	s.services = &svcctx.Services{
		Sessions: sessions,
		Config:   cfg.ConfigManager,
		Logger:   cfg.Logger,
		Home:     cfg.Home,
	}
	if cfg.ConfigManager != nil {
		s.services.ConfigStore = config.NewStore(cfg.ConfigManager)
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry(endpoints.All()...)

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      s.withServices(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // image waits and saves
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// newSessions builds the session manager from the current config and keeps
// its viewer options in step with config reloads.
func newSessions(cfg Config) (*session.Manager, error) {
	c := config.DefaultConfig()
	if cfg.ConfigManager != nil {
		c = cfg.ConfigManager.Get()
	}
	opts, err := c.ViewerOptions()
	if err != nil {
		return nil, err
	}
	backend, err := c.Backend()
	if err != nil {
		return nil, err
	}

	saver, err := files.NewDisk(files.DiskConfig{
		Dir:    cfg.Home.ExportsDir(),
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create saver: %w", err)
	}

	sessions := session.NewManager(session.Config{
		Options: opts,
		Backend: backend,
		Saver:   saver,
		Watch:   c.Sessions.WatchFiles,
		Logger:  cfg.Logger,
	})

	if cfg.ConfigManager != nil {
		cfg.ConfigManager.OnChange(func(c *config.Config) {
			opts, err := c.ViewerOptions()
			if err != nil {
				cfg.Logger.Warn("ignoring invalid viewer config", "error", err)
				return
			}
			backend, err := c.Backend()
			if err != nil {
				cfg.Logger.Warn("ignoring invalid render config", "error", err)
				return
			}
			sessions.SetOptions(opts, backend)
			cfg.Logger.Info("viewer options reloaded from config")
		})
	}
	return sessions, nil
}

// Start starts the server.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()
	s.draining.Store(false)

	if s.configMgr != nil && s.configMgr.ConfigFile() != "" {
		s.configMgr.WatchConfig()
		s.logger.Info("watching config file", "path", s.configMgr.ConfigFile())
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", ln.Addr().String(), "endpoints", len(s.endpointRegistry.Endpoints()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// shutdown drains HTTP and closes every open document.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")
	s.draining.Store(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	// Close documents, running their close-time saves
	var err error
	if cerr := s.sessions.CloseAll(shutdownCtx); cerr != nil {
		s.logger.Error("failed to close documents", "error", cerr, "open", s.sessions.Len())
		err = fmt.Errorf("close documents: %w", cerr)
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return err
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Sessions returns the session manager.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.addr != "" {
		return s.addr
	}
	return s.httpServer.Addr
}

// Handler returns the HTTP handler with services attached.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server can serve documents.
// Returns 503 Service Unavailable while shutting down.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.services == nil || s.services.Sessions == nil || s.draining.Load() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not accepting document requests"}`))
			return
		}
		next(w, r)
	}
}
