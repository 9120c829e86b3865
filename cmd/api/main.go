package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/docflowhq/docflow/internal/api/rest"
	"github.com/docflowhq/docflow/internal/api/rest/handlers"
	"github.com/docflowhq/docflow/internal/engine"
	"github.com/docflowhq/docflow/internal/repository/postgres"
	"github.com/docflowhq/docflow/internal/services"
	"github.com/docflowhq/docflow/internal/workers"
	"github.com/docflowhq/docflow/pkg/auth"
	"github.com/docflowhq/docflow/pkg/config"
	"github.com/docflowhq/docflow/pkg/database"
	"github.com/docflowhq/docflow/pkg/logger"
	"github.com/docflowhq/docflow/pkg/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log, err := logger.New(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting Docflow API",
		logger.String("version", cfg.App.Version),
		logger.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL
	db, err := database.NewPostgresDB(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	// Apply schema migrations
	if err := db.Migrate(cfg.Database.MigrationsPath, log); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// Initialize Redis
	redis, err := database.NewRedisClient(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	defer redis.Close()

	// Initialize repositories
	workflowRepo := postgres.NewWorkflowRepository(db.DB)
	executionRepo := postgres.NewExecutionRepository(db.DB)
	approvalRepo := postgres.NewApprovalRepository(db.DB)
	userRepo := postgres.NewUserRepository(db.DB)
	stateRepo := postgres.NewStateRepository(db.DB)
	entityRepo := postgres.NewEntityRepository(db.DB)

	// Initialize notification dispatch
	templates := services.NewStaticTemplateStore()
	notificationService := services.NewNotificationService(&cfg.Notification, templates, log)
	recipientResolver := services.NewDirectoryResolver(userRepo, log)

	// Initialize the workflow engine
	actionRunner := services.NewEntityActionRunner(entityRepo, log)
	stepEngine := engine.NewStepEngine(executionRepo, approvalRepo, notificationService, recipientResolver, actionRunner, log)
	locker := engine.NewRedisLocker(redis.Client, cfg.Engine.LockTTL)
	orchestrator := engine.NewOrchestrator(workflowRepo, executionRepo, entityRepo, approvalRepo, stepEngine, locker, log)
	stateMachine := engine.NewStateMachine(stateRepo, entityRepo, engine.ClaimsAuthorizer{}, orchestrator, log)

	// Initialize services
	workflowService := services.NewWorkflowService(workflowRepo, log)
	stateService := services.NewStateService(stateRepo, log)
	approvalService := services.NewApprovalService(approvalRepo, executionRepo, workflowRepo, orchestrator, log)

	// Initialize JWT manager
	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		if cfg.App.Environment == "production" {
			return fmt.Errorf("AUTH_JWT_SECRET must be set in production")
		}
		jwtSecret = "default-secret-change-this-in-production"
		log.Warn("AUTH_JWT_SECRET not set, using default (INSECURE - only for development)")
	}
	jwtManager := auth.NewJWTManager(jwtSecret)

	// Start the timer sweep worker
	sweepWorker := workers.NewSweepWorker(approvalService, orchestrator, log, cfg.Engine.SweepInterval, cfg.Engine.SweepBatchSize)
	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()
	sweepWorker.Start(workerCtx)

	// Initialize handlers
	h := handlers.NewHandlers(
		log,
		workflowService,
		stateService,
		approvalService,
		executionRepo,
		orchestrator,
		stateMachine,
		&handlers.HealthCheckers{
			DB:    db,
			Redis: redis,
		},
		cfg.App.Version,
	)

	// Initialize router
	m := metrics.New()
	router := rest.NewRouter(log, h, jwtManager, cfg, m)
	router.SetupRoutes()

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		log.Info("API server listening", logger.String("address", addr))
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		log.Info("Shutdown signal received", logger.String("signal", sig.String()))

		// Stop background workers first
		sweepWorker.Stop()

		// Give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			server.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		log.Info("Server stopped gracefully")
	}

	return nil
}
