package repository

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	domainErrors "github.com/gastrohub/billing-service/internal/domain/errors"
	"github.com/gastrohub/billing-service/internal/domain/model"
	"github.com/gastrohub/billing-service/internal/domain/repository"
)

type planRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewPlanRepository creates a new plan catalog repository
func NewPlanRepository(db *gorm.DB, logger *zap.Logger) repository.PlanRepository {
	return &planRepository{
		db:     db,
		logger: logger,
	}
}

func (r *planRepository) GetByID(ctx context.Context, id string) (*model.Plan, error) {
	var plan model.Plan
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.ErrPlanNotFound
		}
		r.logger.Error("Failed to get plan",
			zap.String("plan_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return &plan, nil
}

func (r *planRepository) ListActive(ctx context.Context) ([]*model.Plan, error) {
	var plans []*model.Plan
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("sort_order ASC, price_cents ASC").
		Find(&plans).Error
	if err != nil {
		r.logger.Error("Failed to list active plans", zap.Error(err))
		return nil, fmt.Errorf("failed to list active plans: %w", err)
	}
	return plans, nil
}
