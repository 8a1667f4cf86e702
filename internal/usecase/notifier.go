package usecase

import (
	"context"

	"github.com/gastrohub/billing-service/internal/domain/model"
)

// Notifier receives billing lifecycle events. Delivery is fire-and-forget:
// implementations must never block billing and their failures must never
// roll back a state transition.
type Notifier interface {
	OnTrialStarted(ctx context.Context, sub *model.Subscription, plan *model.Plan)
	OnPaymentFailed(ctx context.Context, sub *model.Subscription, plan *model.Plan, amountCents int64)
	OnSuspended(ctx context.Context, sub *model.Subscription, plan *model.Plan)
	OnPlanChanged(ctx context.Context, sub *model.Subscription, oldPlan, newPlan *model.Plan)
	OnCanceled(ctx context.Context, sub *model.Subscription, plan *model.Plan)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) OnTrialStarted(context.Context, *model.Subscription, *model.Plan)          {}
func (NopNotifier) OnPaymentFailed(context.Context, *model.Subscription, *model.Plan, int64)  {}
func (NopNotifier) OnSuspended(context.Context, *model.Subscription, *model.Plan)             {}
func (NopNotifier) OnPlanChanged(context.Context, *model.Subscription, *model.Plan, *model.Plan) {
}
func (NopNotifier) OnCanceled(context.Context, *model.Subscription, *model.Plan) {}
