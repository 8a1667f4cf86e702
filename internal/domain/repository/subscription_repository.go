package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gastrohub/billing-service/internal/domain/model"
)

// SubscriptionRepository is the persistence boundary for subscriptions.
// The state machine and the cycle processor depend only on this interface
// so they stay testable without a database.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *model.Subscription) error
	Update(ctx context.Context, sub *model.Subscription) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Subscription, error)

	// GetCurrentByTenant returns the tenant's non-terminal subscription, or
	// nil when the tenant has none.
	GetCurrentByTenant(ctx context.Context, tenantID uuid.UUID) (*model.Subscription, error)

	// HasEverTrialed reports whether any subscription of the tenant, live or
	// terminal, carried a trial. One trial per tenant, lifetime.
	HasEverTrialed(ctx context.Context, tenantID uuid.UUID) (bool, error)

	// GetByGatewaySubscriptionID resolves a provider-side subscription id to
	// the local row.
	GetByGatewaySubscriptionID(ctx context.Context, gatewayName, gatewaySubID string) (*model.Subscription, error)

	// FindDue returns ids of subscriptions whose next_billing_date has
	// passed and whose status still allows a charge.
	FindDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

	// WithLock runs fn with the subscription row locked for the duration of
	// the call and persists the mutated subscription when fn returns nil.
	// Two concurrent WithLock calls for the same id serialize; this is the
	// per-subscription mutual exclusion scope for charge-and-update
	// sequences.
	WithLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, sub *model.Subscription) error) error
}
