package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/checkpoint-service/internal/api/http"
	"github.com/spec-kit/checkpoint-service/internal/api/http/handlers"
	"github.com/spec-kit/checkpoint-service/internal/auth"
	"github.com/spec-kit/checkpoint-service/internal/clock"
	"github.com/spec-kit/checkpoint-service/internal/config"
	"github.com/spec-kit/checkpoint-service/internal/events"
	"github.com/spec-kit/checkpoint-service/internal/observability"
	"github.com/spec-kit/checkpoint-service/internal/persistence"
	"github.com/spec-kit/checkpoint-service/internal/repository"
	"github.com/spec-kit/checkpoint-service/internal/service"
	"github.com/spec-kit/checkpoint-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()
	clk := clock.Real()

	var (
		pg        *persistence.Postgres
		rdb       *persistence.Redis
		sqliteDB  *persistence.SQLite
		store     repository.TokenStore
		attendees repository.AttendanceRepository
	)

	switch cfg.Storage.TokenStore {
	case "redis":
		rdb, err = persistence.NewRedis(ctx, cfg.Redis, true, logger)
		if err != nil {
			logger.Fatal("failed to connect redis", zap.Error(err))
		}
		defer rdb.Close()
		store = repository.NewRedisTokenStore(rdb.Client, cfg.Redis.KeyPrefix)
	default:
		store = repository.NewMemoryTokenStore()
	}

	switch cfg.Storage.AttendanceStore {
	case "postgres":
		pg, err = persistence.NewPostgres(ctx, cfg.Postgres, true, logger)
		if err != nil {
			logger.Fatal("failed to connect postgres", zap.Error(err))
		}
		defer pg.Close()
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		attendees = repository.NewPostgresAttendanceRepository(pg.PoolHandle())
	case "sqlite":
		sqliteDB, err = persistence.NewSQLite(ctx, cfg.SQLite, logger)
		if err != nil {
			logger.Fatal("failed to open sqlite", zap.Error(err))
		}
		defer sqliteDB.Close()
		attendees = repository.NewSQLiteAttendanceRepository(sqliteDB.DB)
	default:
		attendees = repository.NewMemoryAttendanceRepository()
	}

	signer, err := auth.NewSigner(cfg.Credential.SigningSecret)
	if err != nil {
		logger.Fatal("failed to init signer", zap.Error(err))
	}

	dispatcher := events.NewInMemoryDispatcher()
	worker.StartAuditWorker(service.NewAuditService(dispatcher, logger))

	credentialService := service.NewCredentialService(cfg.Credential, service.CredentialDependencies{
		Store:   store,
		Signer:  signer,
		Clock:   clk,
		Metrics: metrics,
		Logger:  logger,
	})
	verificationService := service.NewVerificationService(cfg.Verification, service.VerificationDependencies{
		Credentials: credentialService,
		Recorder:    attendees,
		Dispatcher:  dispatcher,
		Clock:       clk,
		Metrics:     metrics,
		Logger:      logger,
	})
	defer verificationService.Stop()

	sweeper := worker.NewSweeper(store, verificationService, clk, cfg.Worker.SweepInterval(), metrics, logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, rdb, sqliteDB),
		Credentials:    handlers.NewCredentialsHandler(credentialService, verificationService, logger),
		Verification:   handlers.NewVerificationHandler(verificationService),
		Attendance:     handlers.NewAttendanceHandler(attendees, clk),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Metrics:        metrics,
	})

	logger.Info("checkpoint service starting",
		zap.String("addr", cfg.App.Addr()),
		zap.String("token_store", cfg.Storage.TokenStore),
		zap.String("attendance_store", cfg.Storage.AttendanceStore),
		zap.Bool("single_use", cfg.Credential.SingleUse),
		zap.Bool("biometric", cfg.Verification.BiometricEnabled))

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
