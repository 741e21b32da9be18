// Package server wires the dispute engine into an HTTP service.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/chargeguard/internal/auth"
	"github.com/mbd888/chargeguard/internal/config"
	"github.com/mbd888/chargeguard/internal/dispute"
	"github.com/mbd888/chargeguard/internal/eventlog"
	"github.com/mbd888/chargeguard/internal/health"
	"github.com/mbd888/chargeguard/internal/logging"
	"github.com/mbd888/chargeguard/internal/merchant"
	"github.com/mbd888/chargeguard/internal/metrics"
	"github.com/mbd888/chargeguard/internal/processor"
	"github.com/mbd888/chargeguard/internal/ratelimit"
	"github.com/mbd888/chargeguard/internal/realtime"
	"github.com/mbd888/chargeguard/internal/retry"
	"github.com/mbd888/chargeguard/internal/security"
	"github.com/mbd888/chargeguard/internal/signals"
	"github.com/mbd888/chargeguard/internal/traces"
	"github.com/mbd888/chargeguard/migrations"
)

// Version is reported by the health endpoint; cmd/server overrides it.
var Version = "dev"

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	db        *sql.DB // nil if using in-memory
	events    eventlog.Log
	processor dispute.Processor

	merchants   *merchant.Service
	signals     *signals.Service
	disputes    *dispute.Service
	sweepTimer  *dispute.Timer
	hub         *realtime.Hub
	tokens      *auth.TokenManager
	rateLimiter *ratelimit.Limiter
	checks      *health.Registry

	router       *gin.Engine
	httpSrv      *http.Server
	cancelRunCtx context.CancelFunc
	drainDelay   time.Duration

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithProcessor replaces the Stripe client (for testing)
func WithProcessor(p dispute.Processor) Option {
	return func(s *Server) {
		s.processor = p
	}
}

// WithEventLog replaces the webhook delivery log (for testing)
func WithEventLog(l eventlog.Log) Option {
	return func(s *Server) {
		s.events = l
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers to stop
// sending traffic before closing listeners.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		checks:     health.NewRegistry(),
		drainDelay: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	var (
		merchantStore merchant.Store
		signalStore   signals.Store
		disputeStore  dispute.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := migrations.Up(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}

		s.db = db
		merchantStore = merchant.NewPostgresStore(db)
		signalStore = signals.NewPostgresStore(db)
		disputeStore = dispute.NewPostgresStore(db)
		s.checks.Register("postgres", health.Database("postgres", db))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		merchantStore = merchant.NewMemoryStore()
		signalStore = signals.NewMemoryStore()
		disputeStore = dispute.NewMemoryStore()
		s.logger.Warn("DATABASE_URL not set, using in-memory storage")
	}

	if s.events == nil {
		if cfg.RedisURL != "" {
			rl, err := eventlog.NewRedisLog(cfg.RedisURL, eventlog.DefaultTTL)
			if err != nil {
				s.closeDB()
				return nil, fmt.Errorf("failed to configure redis: %w", err)
			}
			s.events = rl
			s.checks.Register("redis", health.Ping("redis", rl.Ping))
			s.logger.Info("using Redis webhook delivery log")
		} else {
			s.events = eventlog.NewMemoryLog(eventlog.DefaultTTL)
			s.logger.Warn("REDIS_URL not set, webhook dedupe is per-process")
		}
	}

	if s.processor == nil {
		s.processor = processor.New(processor.Config{
			SecretKey: cfg.StripeSecretKey,
			RPS:       cfg.StripeRPS,
			Burst:     processor.DefaultBurst,
			Retry:     retry.DefaultPolicy,
		}, s.logger)
	}

	s.hub = realtime.NewHub(s.logger)
	s.merchants = merchant.NewService(merchantStore)
	s.signals = signals.NewService(signalStore, s.logger)
	s.disputes = dispute.NewService(disputeStore, merchantStore, s.processor, s.logger).
		WithSignals(s.signals).
		WithNotifier(s.hub).
		WithSweepConcurrency(cfg.SweepConcurrency)
	s.sweepTimer = dispute.NewTimer(s.disputes, cfg.SweepInterval, s.logger)
	s.checks.Register("sweep", health.Loop("sweep", s.sweepTimer.Running))

	s.tokens = auth.NewTokenManager(cfg.PortalTokenSecret, cfg.PortalTokenTTL)
	if cfg.PortalTokenSecret == "" {
		s.logger.Warn("PORTAL_TOKEN_SECRET not set, merchant portal tokens are disabled")
	}
	if cfg.AdminSecret == "" {
		s.logger.Warn("ADMIN_SECRET not set, admin routes are unreachable")
	}

	rpm := cfg.RateLimitRPM
	if rpm <= 0 {
		rpm = config.DefaultRateLimitRPM
	}
	rlCfg := ratelimit.DefaultConfig()
	rlCfg.RequestsPerMinute = rpm
	s.rateLimiter = ratelimit.New(rlCfg)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))
	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(security.BodyLimitMiddleware(security.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(logging.RequestIDMiddleware(s.logger))
	s.router.Use(logging.AccessLogMiddleware())
}

// rateKey buckets portal callers by merchant and admin callers together;
// anonymous callers fall back to client IP.
func rateKey(c *gin.Context) string {
	if auth.IsAdmin(c) {
		return "admin"
	}
	if id := auth.MerchantID(c); id != "" {
		return "merchant:" + id
	}
	return ""
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Stripe authenticates webhooks by signature, not by portal token.
	webhook := processor.NewWebhookHandler(
		processor.NewParser(s.cfg.StripeWebhookSecret), s.events, s.disputes, s.logger)
	webhook.RegisterRoutes(s.router.Group(""))

	v1 := s.router.Group("/v1")
	v1.Use(auth.Middleware(s.tokens, s.cfg.AdminSecret))
	v1.Use(s.rateLimiter.Middleware(rateKey))

	authHandler := auth.NewHandler(s.tokens, s.merchants)
	authHandler.RegisterRoutes(v1)

	merchantHandler := merchant.NewHandler(s.merchants)
	disputeHandler := dispute.NewHandler(s.disputes)
	signalHandler := signals.NewHandler(s.signals)
	streamHandler := realtime.NewHandler(s.hub)

	scoped := v1.Group("/merchants/:id", auth.RequireMerchant("id"))
	merchantHandler.RegisterRoutes(scoped)
	disputeHandler.RegisterMerchantRoutes(scoped)
	signalHandler.RegisterRoutes(scoped)
	streamHandler.RegisterRoutes(scoped)

	disputeHandler.RegisterRoutes(v1.Group("", auth.RequireAuth()))

	admin := v1.Group("/admin", auth.AdminOnly())
	merchantHandler.RegisterAdminRoutes(admin)
	disputeHandler.RegisterAdminRoutes(admin)
	authHandler.RegisterAdminRoutes(admin)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, statuses := s.checks.CheckAll(c.Request.Context())

	status, httpStatus := "healthy", http.StatusOK
	if !ok {
		status, httpStatus = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and background loops, and blocks until ctx is
// cancelled, a signal arrives or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	shutdownTracing, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, Version, s.logger)
	if err != nil {
		s.logger.Warn("tracing init failed, continuing without export", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer func() {
		tctx, tcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer tcancel()
		if err := shutdownTracing(tctx); err != nil {
			s.logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)
	go s.sweepTimer.Start(runCtx)
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	s.ready.Store(true)
	s.logger.Info("server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	time.Sleep(s.drainDelay)

	var shutdownErr error
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	s.sweepTimer.Stop()
	s.rateLimiter.Stop()

	if closer, ok := s.events.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error("event log close error", "error", err)
		}
	}
	s.closeDB()

	s.logger.Info("server stopped")
	return shutdownErr
}

func (s *Server) closeDB() {
	if s.db == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	} else {
		s.logger.Info("database connection closed")
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Disputes exposes the dispute service for in-process tooling and tests.
func (s *Server) Disputes() *dispute.Service {
	return s.disputes
}

// Merchants exposes the merchant service for in-process tooling and tests.
func (s *Server) Merchants() *merchant.Service {
	return s.merchants
}
