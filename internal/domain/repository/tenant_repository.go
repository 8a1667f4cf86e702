package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/gastrohub/billing-service/internal/domain/model"
)

// TenantRepository is the read-only view onto the restaurant directory.
type TenantRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Tenant, error)
}
