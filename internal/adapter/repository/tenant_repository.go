package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	domainErrors "github.com/gastrohub/billing-service/internal/domain/errors"
	"github.com/gastrohub/billing-service/internal/domain/model"
	"github.com/gastrohub/billing-service/internal/domain/repository"
)

type tenantRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewTenantRepository creates a read-only view onto the tenant directory
func NewTenantRepository(db *gorm.DB, logger *zap.Logger) repository.TenantRepository {
	return &tenantRepository{
		db:     db,
		logger: logger,
	}
}

func (r *tenantRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	var tenant model.Tenant
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.ErrTenantNotFound
		}
		r.logger.Error("Failed to get tenant",
			zap.String("tenant_id", id.String()),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &tenant, nil
}
