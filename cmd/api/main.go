package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/fleetgate/internal/auth"
	"github.com/BradenHooton/fleetgate/internal/background"
	"github.com/BradenHooton/fleetgate/internal/config"
	"github.com/BradenHooton/fleetgate/internal/database"
	"github.com/BradenHooton/fleetgate/internal/handlers"
	middlewareCustom "github.com/BradenHooton/fleetgate/internal/middleware"
	"github.com/BradenHooton/fleetgate/internal/repositories"
	"github.com/BradenHooton/fleetgate/internal/routes"
	"github.com/BradenHooton/fleetgate/internal/services"
	pkghttp "github.com/BradenHooton/fleetgate/pkg/http"
	pkglogger "github.com/BradenHooton/fleetgate/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := db.Migrate(ctx)
		cancel()
		if err != nil {
			logger.Error("failed to apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	location, err := cfg.Gate.Location()
	if err != nil {
		logger.Error("invalid gate timezone", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize repositories
	deviceRepo := repositories.NewDeviceRepository(db)
	eventRepo := repositories.NewSecurityEventRepository(db)

	// Credentials and tokens
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry, cfg.Auth.DeviceTokenExpiry)
	credentialManager := auth.NewCredentialManager(cfg.Auth.DeviceSecretCost)

	clock := services.SystemClock{}
	auditLogger := pkglogger.NewAuditLogger(logger, cfg.Server.Env)
	auditService := services.NewAuditService(eventRepo, logger)
	deviceService := services.NewDeviceService(deviceRepo, credentialManager, tokenManager, clock, logger)

	// Optional out-of-band sinks. Leave the interfaces nil when unconfigured.
	var alerts services.AlertSender
	if cfg.Notify.AlertFromAddress != "" && len(cfg.Notify.AlertRecipients) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		sesAlerts, err := services.NewAWSSESAlertService(ctx, cfg.Notify.AWSRegion, cfg.Notify.AlertFromAddress, cfg.Notify.AlertRecipients, cfg.Notify.AlertsPerMinute, logger)
		cancel()
		if err != nil {
			logger.Error("failed to initialize alert service", slog.Any("error", err))
			os.Exit(1)
		}
		alerts = sesAlerts
	}

	var review services.ReviewPublisher
	if len(cfg.Notify.KafkaBrokers) > 0 {
		publisher, err := services.NewKafkaReviewPublisher(cfg.Notify.KafkaBrokers, cfg.Notify.KafkaReviewTopic)
		if err != nil {
			logger.Error("failed to initialize review publisher", slog.Any("error", err))
			os.Exit(1)
		}
		review = publisher
	}

	dispatcher := services.NewSecurityEventDispatcher(auditService, alerts, review, clock, services.DispatcherConfig{
		QueueSize: cfg.Notify.QueueSize,
	}, logger)

	// Gate components
	locks := services.NewKeyedMutex()
	rateLimiter := services.NewRateLimitService(services.RateLimitConfig{
		MaxAttemptsPerHour: cfg.Gate.MaxAttemptsPerHour,
		MaxAttemptsPerDay:  cfg.Gate.MaxAttemptsPerDay,
		IdleTTL:            cfg.Gate.SourceIdleTTL,
	}, logger)
	blocks := services.NewIPBlockService(rateLimiter, services.IPBlockConfig{
		AutoBlockThreshold: cfg.Gate.AutoBlockThreshold,
		BlockDuration:      cfg.Gate.BlockDuration,
	}, logger)
	validator, err := services.NewFingerprintValidator(deviceService, services.FingerprintValidatorConfig{
		Policy:            cfg.Gate.Policy,
		DedupeWindow:      cfg.Gate.FingerprintDedupeWindow,
		RepositoryTimeout: cfg.Gate.RepositoryTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to compile validation policy", slog.Any("error", err))
		os.Exit(1)
	}
	scorer := services.NewRiskScorer(services.RiskScorerConfig{
		Weights:        cfg.Gate.Weights,
		Thresholds:     cfg.Gate.Thresholds,
		BurstThreshold: cfg.Gate.BurstThreshold,
		OffHoursStart:  cfg.Gate.OffHoursStart,
		OffHoursEnd:    cfg.Gate.OffHoursEnd,
		Location:       location,
	})
	stats := services.NewSecurityStatsService(services.SecurityLevelThresholds{
		ElevatedBlockedSources: cfg.Gate.ElevatedBlockedSources,
		CriticalBlockedSources: cfg.Gate.CriticalBlockedSources,
		ElevatedHourlyFailures: cfg.Gate.ElevatedHourlyFailures,
		CriticalHourlyFailures: cfg.Gate.CriticalHourlyFailures,
	})

	registrationService := services.NewRegistrationService(services.RegistrationDeps{
		Clock:       clock,
		Locks:       locks,
		RateLimiter: rateLimiter,
		Blocks:      blocks,
		Validator:   validator,
		Scorer:      scorer,
		Stats:       stats,
		Provisioner: deviceService,
		Notifier:    dispatcher,
		AuditLogger: auditLogger,
	}, services.RegistrationConfig{
		BurstWindow:       cfg.Gate.BurstWindow,
		RepositoryTimeout: cfg.Gate.RepositoryTimeout,
	}, logger)

	securityService := services.NewSecurityAdminService(
		clock, locks, rateLimiter, blocks, stats,
		deviceService, auditService, dispatcher, auditLogger, logger,
	)

	// Initialize cleanup manager
	cleanupManager := background.NewCleanupManager(background.CleanupTargets{
		Sources:      rateLimiter,
		Blocks:       blocks,
		Fingerprints: validator,
		Events:       auditService,
	}, logger, cfg.Gate.CleanupInterval, cfg.Gate.EventRetention)

	// Initialize handlers
	ipConfig := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	registrationHandler := handlers.NewRegistrationHandler(registrationService, ipConfig, logger)
	securityHandler := handlers.NewSecurityHandler(securityService, logger)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.Metrics)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig, cfg.Server.Env))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	rateLimitConfig := middlewareCustom.DefaultRegisterRateLimit(ipConfig)
	rateLimitConfig.RequestsPerMinute = cfg.Server.RegisterRequestsPerMinute
	routes.RegisterRoutes(router, registrationHandler, securityHandler, tokenManager, rateLimitConfig)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "down"})
			return
		}

		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
			"status":          "healthy",
			"database":        "up",
			"security_status": string(securityService.GetStatus().Level),
		})
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start background work
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	dispatcher.Start(bgCtx)
	go cleanupManager.Start(bgCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	// Flush queued notifications before the database pool closes
	cleanupManager.Stop()
	dispatcher.Stop()
	bgCancel()

	logger.Info("server stopped gracefully")
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
