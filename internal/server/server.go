// Package server sets up the HTTP server with all routes
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

	"github.com/unikbot/paycore/internal/config"
	"github.com/unikbot/paycore/internal/cryptopay"
	"github.com/unikbot/paycore/internal/health"
	"github.com/unikbot/paycore/internal/idgen"
	"github.com/unikbot/paycore/internal/ledger"
	"github.com/unikbot/paycore/internal/logging"
	"github.com/unikbot/paycore/internal/metrics"
	"github.com/unikbot/paycore/internal/notify"
	"github.com/unikbot/paycore/internal/ratelimit"
	"github.com/unikbot/paycore/internal/reconciler"
	"github.com/unikbot/paycore/internal/security"
	"github.com/unikbot/paycore/internal/subscription"
	"github.com/unikbot/paycore/internal/validation"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	provider    reconciler.Provider
	notifier    notify.Notifier
	ledger      *ledger.Ledger
	subs        *subscription.Service
	reconciler  *reconciler.Reconciler
	rateLimiter *ratelimit.Limiter
	healthReg   *health.Registry
	db          *sql.DB // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
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

// WithProvider sets a custom invoice provider (for testing)
func WithProvider(p reconciler.Provider) Option {
	return func(s *Server) {
		s.provider = p
	}
}

// WithNotifier sets a custom notifier (for testing)
func WithNotifier(n notify.Notifier) Option {
	return func(s *Server) {
		s.notifier = n
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set provider/notifier/logger)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var subStore subscription.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		ledgerStore := ledger.NewPostgresStore(db)
		if err := ledgerStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate ledger store", "error", err)
		}
		s.ledger = ledger.New(ledgerStore)

		pgSubStore := subscription.NewPostgresStore(db)
		if err := pgSubStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate subscription store", "error", err)
		}
		subStore = pgSubStore
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		s.ledger = ledger.New(ledger.NewMemoryStore())
		subStore = subscription.NewMemoryStore()
	}

	// Invoice provider
	if s.provider == nil {
		s.provider = cryptopay.New(cfg.CryptoPayBaseURL, cfg.CryptoPayToken,
			cryptopay.WithTimeout(cfg.RequestTimeout))
	}

	// Notifications. Without a bot token messages go nowhere, which is the
	// right behavior for local development.
	if s.notifier == nil {
		if cfg.BotToken != "" {
			s.notifier = notify.NewTelegram(cfg.BotToken, cfg.AdminChatID, s.logger)
			s.logger.Info("telegram notifications enabled", "admin_chat", cfg.AdminChatID)
		} else {
			s.notifier = notify.Nop{}
			s.logger.Warn("no BOT_TOKEN set, notifications disabled")
		}
	}

	s.reconciler = reconciler.New(s.provider, s.ledger, s.notifier, reconciler.Config{
		PollInterval: cfg.PollInterval,
		WatchHorizon: cfg.WatchHorizon,
		MinAmount:    cfg.MinTopup,
		MaxAmount:    cfg.MaxTopup,
		Asset:        cfg.DefaultAsset,
	}, s.logger)

	s.subs = subscription.New(subStore, s.ledger, subscription.DefaultConfig(), s.logger)

	// Health checks
	s.healthReg = health.NewRegistry()
	if s.db != nil {
		s.healthReg.Register("database", health.DatabaseChecker("database", s.db))
	}

	// Configure gin
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

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting (per user on payment routes)
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.New()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/", s.infoHandler)

	v1 := s.router.Group("/v1")
	{
		v1.POST("/accounts", s.createAccountHandler)
		v1.GET("/accounts/:userId", s.getAccountHandler)

		v1.POST("/topups", s.createTopupHandler)
		v1.POST("/topups/:invoiceId/check", s.checkTopupHandler)
		v1.GET("/topups/:invoiceId", s.getTopupHandler)

		v1.POST("/subscriptions", s.purchaseSubscriptionHandler)
		v1.GET("/subscriptions/:userId", s.getSubscriptionHandler)
	}
}

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Periodic DB stats into Prometheus
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server and drains invoice watches.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(2 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Drain active invoice watches before letting go of the process, so a
	// paid invoice found mid-shutdown still settles.
	if s.reconciler != nil {
		s.reconciler.Stop()
		s.logger.Info("reconciler drained")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
