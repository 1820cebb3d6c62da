package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/StarRegistry/internal/bitcoinmsg"
	"github.com/jmerrifield20/StarRegistry/internal/config"
	"github.com/jmerrifield20/StarRegistry/internal/health"
	"github.com/jmerrifield20/StarRegistry/internal/registry/handler"
	"github.com/jmerrifield20/StarRegistry/internal/starledger"
	"github.com/jmerrifield20/StarRegistry/internal/webhooks"
	"go.uber.org/zap"
)

func main() {
	cfg, cfgErr := config.Load(os.Getenv("REGISTRY_CONFIG"))
	if cfgErr != nil && !errors.Is(cfgErr, config.ErrNoConfigFile) {
		fmt.Fprintf(os.Stderr, "registry: %v\n", cfgErr)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogDevelopment)
	defer logger.Sync() //nolint:errcheck

	if errors.Is(cfgErr, config.ErrNoConfigFile) {
		logger.Warn("no config file found, using defaults and env vars")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("registry exited with error", zap.Error(err))
	}
}

func newLogger(development bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Star chain ────────────────────────────────────────────────────────────
	params, err := bitcoinmsg.ParamsForNetwork(cfg.BitcoinNetwork)
	if err != nil {
		return fmt.Errorf("bitcoin network: %w", err)
	}

	// ── Webhooks ──────────────────────────────────────────────────────────────
	notifier := webhooks.NewService(cfg.Webhooks, logger.Named("webhooks"))
	notifier.SetMetricsRecorder(handler.RecordWebhookDelivery)
	if len(cfg.Webhooks) > 0 {
		logger.Info("webhook subscriptions configured", zap.Int("count", len(cfg.Webhooks)))
	}

	chain := starledger.New(bitcoinmsg.NewVerifier(params),
		starledger.WithLogger(logger.Named("starledger")),
		starledger.WithClaimWindow(cfg.ClaimWindow),
		starledger.WithAppendHook(func(b *starledger.Block) {
			handler.RecordLedgerAppend(b)
			notifier.BlockAppended(b)
		}),
	)

	checker := health.New(chain, health.Config{
		CheckInterval: cfg.AuditInterval,
		FailThreshold: cfg.AuditFailThreshold,
	}, logger.Named("health"))
	checker.SetMetricsRecord(handler.SetValidationErrors)
	checker.SetWebhookDispatch(notifier.Dispatch)

	if report := checker.CheckOnce(ctx); len(report.Findings) > 0 {
		logger.Warn("star chain integrity check FAILED", zap.Int("findings", len(report.Findings)))
	} else {
		logger.Info("star chain verified",
			zap.Int("height", report.Height),
			zap.String("root", chain.Root(ctx)),
			zap.String("network", params.Name),
			zap.Duration("claim_window", cfg.ClaimWindow),
		)
	}
	handler.SetLedgerHeight(chain.Height(ctx))
	go checker.Start(ctx)

	ledgerHandler := handler.NewLedgerHandler(chain, logger)
	starHandler := handler.NewStarHandler(chain, logger)

	// ── HTTP Router ───────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", handler.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", handler.RequestIDHeader},
		AllowCredentials: !containsWildcard(cfg.CORSOrigins),
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	router.Use(handler.RequestID())

	if cfg.RateLimitRPS > 0 {
		router.Use(handler.RateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitRPS*2))
	}

	router.Use(handler.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		report := checker.Report()
		status := http.StatusOK
		if report.Status != health.StatusHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, report)
	})
	router.GET("/metrics", handler.MetricsHandler())

	// API v1
	var submitLimits []gin.HandlerFunc
	if cfg.SubmitRateLimitRPS > 0 {
		submitLimits = append(submitLimits, handler.RateLimiter(ctx, cfg.SubmitRateLimitRPS, cfg.SubmitRateLimitRPS))
	}
	v1 := router.Group("/api/v1")
	ledgerHandler.Register(v1)
	starHandler.Register(v1, submitLimits...)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("registry HTTP listening", zap.Int("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	select {
	case err := <-serveErr:
		return fmt.Errorf("http listen: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down registry...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	delivered := make(chan struct{})
	go func() {
		notifier.Wait()
		close(delivered)
	}()
	select {
	case <-delivered:
	case <-shutdownCtx.Done():
		logger.Warn("shutdown: abandoning in-flight webhook deliveries")
	}

	logger.Info("registry stopped",
		zap.Int("height", chain.Height(shutdownCtx)),
		zap.String("root", chain.Root(shutdownCtx)),
	)
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", handler.RequestIDFromCtx(c)),
		)
	}
}
