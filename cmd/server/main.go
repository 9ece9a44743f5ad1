package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tls_portal_go/config"
	"tls_portal_go/db"
	"tls_portal_go/handlers"
	"tls_portal_go/logger"
	"tls_portal_go/middleware"
	"tls_portal_go/services"
	"tls_portal_go/services/jobs"
	"tls_portal_go/telemetry"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLog, err := logger.NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLog.Sync()

	if err := run(cfg, zapLog); err != nil {
		zapLog.Fatal("Server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Warn("Tracing disabled", zap.Error(err))
	}

	// Initialize database
	database, err := db.Open(cfg, log)
	if err != nil {
		return err
	}
	defer db.Close(database)

	// Run migrations
	if err := db.Migrate(database); err != nil {
		return err
	}

	audit := services.NewAuditService(database, log)
	auth := services.NewAuthService(database, cfg.JWTSecret, cfg.TokenTTL, log, audit)
	email := services.NewEmailService(cfg, log, "templates/emails")
	storage := services.NewStorage(ctx, cfg, log)

	var cache services.PortalCache
	redisClient, err := services.NewRedisClient(ctx, cfg)
	switch {
	case err != nil:
		log.Warn("Redis unavailable, portal cache disabled", zap.Error(err))
	case redisClient != nil:
		defer redisClient.Close()
		cache = services.NewRedisPortalCache(redisClient, cfg.PortalCacheTTL, log)
		log.Info("Portal cache enabled", zap.String("addr", cfg.RedisAddr))
	}
	resolver := services.NewClientResolver(database, cfg.PortalDomain, cache, log)

	var captcha services.CaptchaVerifier
	if cfg.TurnstileSecretKey != "" {
		captcha = services.NewTurnstileVerifier(cfg.TurnstileSecretKey)
	}

	var gateway services.PaymentGateway
	if cfg.BillingConfigured() {
		gateway = services.NewStripeGateway(cfg.StripeSecretKey)
	} else {
		log.Warn("STRIPE_SECRET_KEY not set, billing callables are disabled")
	}

	// Client lifecycle triggers run off the request path
	triggers := services.NewTriggers(log, true)
	clients := services.NewClientService(database, cfg, triggers, captcha, log, audit)
	provisioner := services.NewProvisioner(database, cfg, auth, email, resolver, log, audit)
	provisioner.Register(triggers)
	billing := services.NewBillingService(database, gateway, email, log, audit)
	billing.Register(triggers)
	bridge := services.NewBillingBridge(database, gateway, email, cfg.StripeWebhookSecret, log, audit)
	documents := services.NewDocumentService(database, storage, log, audit)

	if _, err := clients.EnsureDefaultTenant(ctx); err != nil {
		return err
	}

	scheduler, err := jobs.NewScheduler(cfg, database, provisioner, bridge, log)
	if err != nil {
		return err
	}
	scheduler.Start()

	intakeLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		Requests: cfg.IntakeRateLimit,
		Window:   time.Minute,
	})
	defer intakeLimiter.Stop()
	loginLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		Requests: cfg.LoginRateLimit,
		Window:   time.Minute,
		Message:  "Too many login attempts. Please try again later.",
	})
	defer loginLimiter.Stop()

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handlers.NewHTTPErrorHandler(log)

	// Middleware
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(middleware.RequestLogger(log))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowCredentials: !(len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*"),
	}))

	h := handlers.New(handlers.Deps{
		Config:      cfg,
		DB:          database,
		Log:         log,
		Auth:        auth,
		Email:       email,
		Clients:     clients,
		Resolver:    resolver,
		Provisioner: provisioner,
		Documents:   documents,
		Billing:     billing,
		Bridge:      bridge,
	})
	h.Register(e, auth, handlers.Limiters{Intake: intakeLimiter, Login: loginLimiter})

	// Single-page app; client-side routes fall back to index.html
	e.Use(echomiddleware.StaticWithConfig(echomiddleware.StaticConfig{
		Root:  cfg.PublicDir,
		HTML5: true,
		Skipper: func(c echo.Context) bool {
			p := c.Request().URL.Path
			return strings.HasPrefix(p, "/api/") || strings.HasPrefix(p, "/files/") || p == "/health"
		},
	}))

	// Start server
	go func() {
		log.Info("Server starting", zap.String("port", cfg.ServerPort), zap.String("environment", cfg.Environment))
		if err := e.Start(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server stopped unexpectedly", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown failed", zap.Error(err))
	}
	scheduler.Stop(shutdownCtx)
	triggers.Wait()
	email.Wait()
	audit.Wait()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("Failed to flush traces", zap.Error(err))
	}
	return nil
}
