package database

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gastrohub/billing-service/internal/adapter/repository"
	domainRepo "github.com/gastrohub/billing-service/internal/domain/repository"
)

// Repositories holds all repository instances
type Repositories struct {
	Subscription domainRepo.SubscriptionRepository
	Transaction  domainRepo.TransactionRepository
	Plan         domainRepo.PlanRepository
	Tenant       domainRepo.TenantRepository
	WebhookEvent domainRepo.WebhookEventRepository
}

// NewRepositories creates new repository instances with database connection
func NewRepositories(db *gorm.DB, logger *zap.Logger) *Repositories {
	return &Repositories{
		Subscription: repository.NewSubscriptionRepository(db, logger),
		Transaction:  repository.NewTransactionRepository(db, logger),
		Plan:         repository.NewPlanRepository(db, logger),
		Tenant:       repository.NewTenantRepository(db, logger),
		WebhookEvent: repository.NewWebhookEventRepository(db, logger),
	}
}
