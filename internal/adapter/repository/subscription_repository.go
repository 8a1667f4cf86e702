package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domainErrors "github.com/gastrohub/billing-service/internal/domain/errors"
	"github.com/gastrohub/billing-service/internal/domain/model"
	"github.com/gastrohub/billing-service/internal/domain/repository"
)

type subscriptionRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *gorm.DB, logger *zap.Logger) repository.SubscriptionRepository {
	return &subscriptionRepository{
		db:     db,
		logger: logger,
	}
}

func (r *subscriptionRepository) Create(ctx context.Context, sub *model.Subscription) error {
	if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
		// The partial unique index on (tenant_id) over live rows is the
		// only unique constraint an insert can trip: the loser of two
		// concurrent signups surfaces as a duplicate subscription.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domainErrors.ErrDuplicateSubscription
		}
		r.logger.Error("Failed to create subscription",
			zap.String("tenant_id", sub.TenantID.String()),
			zap.String("plan_id", sub.PlanID),
			zap.Error(err))
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (r *subscriptionRepository) Update(ctx context.Context, sub *model.Subscription) error {
	if err := r.db.WithContext(ctx).Save(sub).Error; err != nil {
		r.logger.Error("Failed to update subscription",
			zap.String("subscription_id", sub.ID.String()),
			zap.Error(err))
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

func (r *subscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).
		Preload("Plan").
		Where("id = ?", id).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.ErrSubscriptionNotFound
		}
		r.logger.Error("Failed to get subscription",
			zap.String("subscription_id", id.String()),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

// GetCurrentByTenant returns the tenant's non-terminal subscription, or nil
// when the tenant has none. The partial unique index on subscriptions
// guarantees at most one row qualifies.
func (r *subscriptionRepository) GetCurrentByTenant(ctx context.Context, tenantID uuid.UUID) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).
		Preload("Plan").
		Where("tenant_id = ? AND status NOT IN ?", tenantID,
			[]model.SubscriptionStatus{model.SubscriptionStatusCanceled, model.SubscriptionStatusExpired}).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logger.Error("Failed to get current subscription",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get current subscription: %w", err)
	}
	return &sub, nil
}

func (r *subscriptionRepository) HasEverTrialed(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("tenant_id = ? AND trial_ends_at IS NOT NULL", tenantID).
		Count(&count).Error
	if err != nil {
		r.logger.Error("Failed to check trial history",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err))
		return false, fmt.Errorf("failed to check trial history: %w", err)
	}
	return count > 0, nil
}

func (r *subscriptionRepository) GetByGatewaySubscriptionID(ctx context.Context, gatewayName, gatewaySubID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).
		Preload("Plan").
		Where("gateway = ? AND gateway_subscription_id = ?", gatewayName, gatewaySubID).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.ErrSubscriptionNotFound
		}
		r.logger.Error("Failed to get subscription by gateway id",
			zap.String("gateway", gatewayName),
			zap.String("gateway_subscription_id", gatewaySubID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get subscription by gateway id: %w", err)
	}
	return &sub, nil
}

// FindDue returns ids only. The processor re-reads each row under its lock,
// so a stale snapshot here costs nothing.
func (r *subscriptionRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("next_billing_date <= ? AND status IN ?", now,
			[]model.SubscriptionStatus{
				model.SubscriptionStatusPending,
				model.SubscriptionStatusTrialing,
				model.SubscriptionStatusActive,
			}).
		Order("next_billing_date ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		r.logger.Error("Failed to find due subscriptions", zap.Error(err))
		return nil, fmt.Errorf("failed to find due subscriptions: %w", err)
	}
	return ids, nil
}

// WithLock serializes charge-and-update sequences per subscription with a
// SELECT ... FOR UPDATE inside a transaction. fn's mutations are persisted
// when it returns nil; any error rolls everything back.
func (r *subscriptionRepository) WithLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, sub *model.Subscription) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub model.Subscription
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&sub).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainErrors.ErrSubscriptionNotFound
			}
			return fmt.Errorf("failed to lock subscription: %w", err)
		}

		if err := fn(ctx, &sub); err != nil {
			return err
		}

		if err := tx.Save(&sub).Error; err != nil {
			r.logger.Error("Failed to persist subscription under lock",
				zap.String("subscription_id", id.String()),
				zap.Error(err))
			return fmt.Errorf("failed to persist subscription: %w", err)
		}
		return nil
	})
}
