package database

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gastrohub/billing-service/internal/domain/model"
)

// Migrate runs database migrations
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	logger.Info("Running database migrations...")

	if err := createExtensions(db); err != nil {
		logger.Error("Failed to create extensions", zap.Error(err))
		return err
	}

	// Custom types must exist before auto-migrate references them.
	if err := createCustomTypes(db); err != nil {
		logger.Error("Failed to create custom types", zap.Error(err))
		return err
	}

	err := db.AutoMigrate(
		&model.Tenant{},
		&model.Plan{},
		&model.Subscription{},
		&model.Transaction{},
		&model.WebhookEvent{},
	)
	if err != nil {
		logger.Error("Failed to run migrations", zap.Error(err))
		return err
	}

	if err := createCustomIndexes(db); err != nil {
		logger.Error("Failed to create custom indexes", zap.Error(err))
		return err
	}

	logger.Info("Database migrations completed successfully")
	return nil
}

func createExtensions(db *gorm.DB) error {
	return db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error
}

func createCustomTypes(db *gorm.DB) error {
	types := []string{
		`DO $$ BEGIN
			CREATE TYPE subscription_status AS ENUM ('pending', 'trialing', 'active', 'suspended', 'canceled', 'expired');
		EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
		`DO $$ BEGIN
			CREATE TYPE transaction_status AS ENUM ('pending', 'completed', 'failed', 'no_charge');
		EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
		`DO $$ BEGIN
			CREATE TYPE webhook_status AS ENUM ('pending', 'processing', 'completed', 'failed');
		EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	}
	for _, t := range types {
		if err := db.Exec(t).Error; err != nil {
			return err
		}
	}
	return nil
}

// createCustomIndexes creates indexes GORM doesn't handle automatically
func createCustomIndexes(db *gorm.DB) error {
	// One live subscription per tenant, enforced at the storage layer.
	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS unique_live_subscription_per_tenant ON subscriptions (tenant_id) WHERE status NOT IN ('canceled', 'expired')`).Error; err != nil {
		return err
	}

	// The billing cycle scan: due rows in chargeable states.
	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_subscriptions_due ON subscriptions (next_billing_date) WHERE status IN ('pending', 'trialing', 'active')`).Error; err != nil {
		return err
	}

	// Webhook retry scan.
	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_webhook_events_unprocessed ON webhook_events (created_at) WHERE status IN ('pending', 'failed')`).Error; err != nil {
		return err
	}

	return nil
}
