package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/gastrohub/billing-service/internal/config"
	"github.com/gastrohub/billing-service/internal/infrastructure/database"
	gatewayRegistry "github.com/gastrohub/billing-service/internal/infrastructure/gateway"
	httpServer "github.com/gastrohub/billing-service/internal/infrastructure/http"
	"github.com/gastrohub/billing-service/internal/infrastructure/notification"
	"github.com/gastrohub/billing-service/internal/usecase"
	"github.com/gastrohub/billing-service/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := logger.NewZapLogger(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Output:      cfg.Log.Output,
		FilePath:    cfg.Log.FilePath,
		Development: cfg.Log.Development,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	db, err := database.NewConnection(&cfg.Database, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, zapLogger); err != nil {
			zapLogger.Error("Failed to close database connection", zap.Error(err))
		}
	}()

	if err := database.Migrate(db, zapLogger); err != nil {
		zapLogger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	repos := database.NewRepositories(db, zapLogger)
	router := gatewayRegistry.BuildRegistry(cfg.Gateways, zapLogger)

	var notifier usecase.Notifier = usecase.NopNotifier{}
	if cfg.Redis.Addr != "" {
		redisNotifier, err := notification.NewRedisNotifier(cfg.Redis, zapLogger)
		if err != nil {
			zapLogger.Warn("Redis unavailable, lifecycle events disabled", zap.Error(err))
		} else {
			defer redisNotifier.Close()
			notifier = redisNotifier
		}
	}

	subscriptionService := usecase.NewSubscriptionService(
		repos.Subscription, repos.Transaction, repos.Plan, repos.Tenant,
		router, notifier, cfg.Billing, cfg.Gateways.Default, zapLogger,
	)
	processor := usecase.NewBillingProcessor(
		repos.Subscription, repos.Transaction, repos.Plan,
		router, subscriptionService, cfg.Billing, zapLogger,
	)
	webhookService := usecase.NewWebhookService(
		repos.Subscription, repos.Transaction, repos.Plan, repos.WebhookEvent,
		router, subscriptionService, cfg.Billing, zapLogger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Scheduled billing cycle runs. Overlap with a manual run is safe;
	// settlement is per-subscription idempotent.
	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Billing.Schedule, func() {
		report, err := processor.RunBillingCycle(ctx)
		if err != nil {
			zapLogger.Error("Scheduled billing cycle failed", zap.Error(err))
			return
		}
		if report.Failed > 0 {
			zapLogger.Warn("Scheduled billing cycle finished with failures",
				zap.Int("processed", report.Processed),
				zap.Int("failed", report.Failed))
		}
	})
	if err != nil {
		zapLogger.Fatal("Invalid billing schedule", zap.String("schedule", cfg.Billing.Schedule), zap.Error(err))
	}

	// Webhook events that failed (out-of-order deliveries, transient
	// errors) are swept back through the apply path until they resolve.
	_, err = scheduler.AddFunc(cfg.Billing.WebhookRetrySchedule, func() {
		if _, err := webhookService.RetryPending(ctx, cfg.Billing.BatchLimit); err != nil {
			zapLogger.Error("Webhook retry sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		zapLogger.Fatal("Invalid webhook retry schedule",
			zap.String("schedule", cfg.Billing.WebhookRetrySchedule), zap.Error(err))
	}
	scheduler.Start()

	httpSrv := httpServer.NewServer(cfg, zapLogger, repos, subscriptionService, processor, webhookService)

	go func() {
		if err := httpSrv.Start(); err != nil {
			zapLogger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zapLogger.Info("Shutting down...")

	cronCtx := scheduler.Stop()
	select {
	case <-cronCtx.Done():
	case <-time.After(30 * time.Second):
		zapLogger.Warn("Timed out waiting for running billing cycle")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Failed to shutdown HTTP server", zap.Error(err))
	}

	zapLogger.Info("Server shut down successfully")
}
