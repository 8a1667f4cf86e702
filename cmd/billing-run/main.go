package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/gastrohub/billing-service/internal/config"
	"github.com/gastrohub/billing-service/internal/infrastructure/database"
	gatewayRegistry "github.com/gastrohub/billing-service/internal/infrastructure/gateway"
	"github.com/gastrohub/billing-service/internal/usecase"
	"github.com/gastrohub/billing-service/pkg/logger"
)

// billing-run executes one billing cycle and exits. Meant for operators
// re-running a cycle after an outage, or for cron-less deployments driven
// by an external scheduler.
func main() {
	timeout := flag.Duration("timeout", 15*time.Minute, "maximum run time")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := logger.NewZapLogger(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	db, err := database.NewConnection(&cfg.Database, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db, zapLogger)

	repos := database.NewRepositories(db, zapLogger)
	router := gatewayRegistry.BuildRegistry(cfg.Gateways, zapLogger)

	subscriptionService := usecase.NewSubscriptionService(
		repos.Subscription, repos.Transaction, repos.Plan, repos.Tenant,
		router, usecase.NopNotifier{}, cfg.Billing, cfg.Gateways.Default, zapLogger,
	)
	processor := usecase.NewBillingProcessor(
		repos.Subscription, repos.Transaction, repos.Plan,
		router, subscriptionService, cfg.Billing, zapLogger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	report, err := processor.RunBillingCycle(ctx)
	if err != nil {
		zapLogger.Error("Billing cycle failed", zap.Error(err))
		os.Exit(1)
	}

	zapLogger.Info("Billing cycle complete",
		zap.Int("due", report.Due),
		zap.Int("processed", report.Processed),
		zap.Int("failed", report.Failed))

	if report.Failed > 0 {
		for _, e := range report.Errors {
			zapLogger.Warn("Subscription not settled",
				zap.String("subscription_id", e.SubscriptionID.String()),
				zap.Error(e.Err))
		}
		os.Exit(2)
	}
}
