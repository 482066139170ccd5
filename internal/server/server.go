// Package server provides the HTTP front-end that exposes the
// authorization engine to reverse proxies via the auth subrequest
// pattern.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/gatekeeper/internal/authz"
	"github.com/vyrodovalexey/gatekeeper/internal/observability"
	"github.com/vyrodovalexey/gatekeeper/internal/ratelimit"
)

// ginModeOnce ensures gin.SetMode is only called once to avoid race conditions.
var ginModeOnce sync.Once

// Config holds configuration for the HTTP server.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Address:         ":7843",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Pinger reports reachability of a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP front-end of the authorization service.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	authorizer *authz.Engine
	limiter    *ratelimit.Limiter
	store      Pinger
	metrics    *observability.Metrics
	logger     observability.Logger
	config     *Config

	mu      sync.Mutex
	running bool
}

// Option configures a Server.
type Option func(*Server)

// WithServerLogger sets the logger.
func WithServerLogger(logger observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithServerMetrics sets the metrics collector and enables the
// /metrics endpoint.
func WithServerMetrics(metrics *observability.Metrics) Option {
	return func(s *Server) {
		s.metrics = metrics
	}
}

// WithUsageLimiter enables the /usage endpoint backed by the given
// limiter.
func WithUsageLimiter(limiter *ratelimit.Limiter) Option {
	return func(s *Server) {
		s.limiter = limiter
	}
}

// WithStorePinger wires the backing store into the readiness probe.
func WithStorePinger(p Pinger) Option {
	return func(s *Server) {
		s.store = p
	}
}

// New creates a new Server around the given authorization engine.
func New(cfg *Config, authorizer *authz.Engine, opts ...Option) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	s := &Server{
		engine:     gin.New(),
		authorizer: authorizer,
		logger:     observability.NopLogger(),
		config:     cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(s.requestIDMiddleware())
	s.registerRoutes()

	return s
}

// Engine returns the underlying gin engine. Exposed for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	s.engine.Any("/authz", s.handleAuthz)
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/ready", s.handleReady)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	if s.limiter != nil {
		s.engine.GET("/usage/:client_id", s.handleUsage)
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.httpServer = &http.Server{
		Addr:         s.config.Address,
		Handler:      s.engine,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("http server starting", observability.String("address", s.config.Address))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.httpServer == nil {
		return nil
	}
	s.running = false

	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
