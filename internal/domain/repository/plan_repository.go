package repository

import (
	"context"

	"github.com/gastrohub/billing-service/internal/domain/model"
)

// PlanRepository reads the plan catalog. Plans are administered elsewhere;
// this service only consumes them.
type PlanRepository interface {
	GetByID(ctx context.Context, id string) (*model.Plan, error)
	ListActive(ctx context.Context) ([]*model.Plan, error)
}
