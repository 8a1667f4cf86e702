package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gastrohub/billing-service/internal/config"
	domainErrors "github.com/gastrohub/billing-service/internal/domain/errors"
	"github.com/gastrohub/billing-service/internal/domain/gateway"
	"github.com/gastrohub/billing-service/internal/domain/model"
	"github.com/gastrohub/billing-service/internal/domain/repository"
)

// SubscriptionService owns the subscription lifecycle. Every status change
// goes through it; repositories never mutate status on their own.
type SubscriptionService struct {
	subs           repository.SubscriptionRepository
	txs            repository.TransactionRepository
	plans          repository.PlanRepository
	tenants        repository.TenantRepository
	router         gateway.Router
	notifier       Notifier
	cfg            config.BillingConfig
	defaultGateway string
	logger         *zap.Logger
}

func NewSubscriptionService(
	subs repository.SubscriptionRepository,
	txs repository.TransactionRepository,
	plans repository.PlanRepository,
	tenants repository.TenantRepository,
	router gateway.Router,
	notifier Notifier,
	cfg config.BillingConfig,
	defaultGateway string,
	logger *zap.Logger,
) *SubscriptionService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &SubscriptionService{
		subs:           subs,
		txs:            txs,
		plans:          plans,
		tenants:        tenants,
		router:         router,
		notifier:       notifier,
		cfg:            cfg,
		defaultGateway: defaultGateway,
		logger:         logger,
	}
}

// Create signs a tenant up for a paid plan. The subscription starts in
// pending; a synchronous gateway confirmation activates it immediately,
// while asynchronous flows (PIX, boleto) leave it pending with the payment
// URL stored in metadata until the gateway's webhook confirms.
func (s *SubscriptionService) Create(ctx context.Context, tenantID uuid.UUID, planID, gatewayName string, payment gateway.PaymentInput) (*model.Subscription, error) {
	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if payment.Email == "" {
		payment.Email = tenant.ContactEmail
	}

	current, err := s.subs.GetCurrentByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to check current subscription: %w", err)
	}
	if current != nil {
		return nil, domainErrors.ErrDuplicateSubscription
	}

	plan, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}

	if gatewayName == "" {
		gatewayName = s.defaultGateway
	}
	adapter, err := s.router.Adapter(gatewayName)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sub := &model.Subscription{
		ID:               uuid.New(),
		TenantID:         tenantID,
		PlanID:           plan.ID,
		Status:           model.SubscriptionStatusPending,
		StartDate:        now,
		CurrentPeriodEnd: plan.BillingCycle.Advance(now),
		NextBillingDate:  plan.BillingCycle.Advance(now),
		Gateway:          gatewayName,
		Metadata:         model.JSONB{},
	}

	if err := s.subs.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	res, err := adapter.CreateSubscription(gwCtx, &gateway.CreateSubscriptionRequest{
		SubscriptionID: sub.ID,
		TenantID:       tenantID,
		PlanID:         plan.ID,
		GatewayPriceID: plan.GatewayPriceID,
		AmountCents:    plan.PriceCents,
		Currency:       plan.Currency,
		Interval:       string(plan.BillingCycle),
		Payment:        payment,
	})
	if err != nil {
		s.logger.Error("gateway subscription setup failed",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("tenant_id", tenantID.String()),
			zap.String("gateway", gatewayName),
			zap.Error(err))
		s.appendTransaction(ctx, sub, model.TransactionTypeSetup, plan.PriceCents, plan.Currency,
			model.TransactionStatusFailed, "", "Initial subscription charge")
		return nil, s.paymentError(gatewayName, plan.PriceCents, plan.Currency, err)
	}

	if res.GatewaySubscriptionID != "" {
		id := res.GatewaySubscriptionID
		sub.GatewaySubscriptionID = &id
	}
	if res.PaymentURL != "" {
		sub.Metadata["payment_url"] = res.PaymentURL
	}

	switch res.Status {
	case gateway.StatusActive:
		sub.Status = model.SubscriptionStatusActive
		s.appendTransaction(ctx, sub, model.TransactionTypeSetup, plan.PriceCents, plan.Currency,
			model.TransactionStatusCompleted, res.TransactionID, "Initial subscription charge")
	case gateway.StatusPending:
		// Asynchronous gateway; stays pending until the webhook confirms.
		s.appendTransaction(ctx, sub, model.TransactionTypeSetup, plan.PriceCents, plan.Currency,
			model.TransactionStatusPending, res.TransactionID, "Initial subscription charge")
	default:
		s.logger.Warn("unexpected gateway status on subscription setup",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("gateway", gatewayName),
			zap.String("status", string(res.Status)))
	}

	if err := s.subs.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to update subscription after gateway setup: %w", err)
	}

	s.logger.Info("subscription created",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("tenant_id", tenantID.String()),
		zap.String("plan_id", plan.ID),
		zap.String("gateway", gatewayName),
		zap.String("status", string(sub.Status)))

	return sub, nil
}

// StartTrial starts the tenant's one lifetime trial. No gateway call is
// made; the first charge happens when the trial's next_billing_date falls
// due.
func (s *SubscriptionService) StartTrial(ctx context.Context, tenantID uuid.UUID, planID string) (*model.Subscription, error) {
	if _, err := s.tenants.GetByID(ctx, tenantID); err != nil {
		return nil, err
	}

	current, err := s.subs.GetCurrentByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to check current subscription: %w", err)
	}
	if current != nil {
		return nil, domainErrors.ErrDuplicateSubscription
	}

	trialed, err := s.subs.HasEverTrialed(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to check trial history: %w", err)
	}
	if trialed {
		return nil, domainErrors.ErrTrialAlreadyUsed
	}

	plan, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.TrialEligible {
		return nil, domainErrors.ErrTrialNotAvailable
	}

	now := time.Now().UTC()
	trialEnd := now.AddDate(0, 0, s.cfg.TrialDays)
	sub := &model.Subscription{
		ID:               uuid.New(),
		TenantID:         tenantID,
		PlanID:           plan.ID,
		Status:           model.SubscriptionStatusTrialing,
		StartDate:        now,
		CurrentPeriodEnd: trialEnd,
		NextBillingDate:  trialEnd,
		TrialEndsAt:      &trialEnd,
		Gateway:          s.defaultGateway,
		Metadata:         model.JSONB{},
	}

	if err := s.subs.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create trial subscription: %w", err)
	}

	s.logger.Info("trial started",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("tenant_id", tenantID.String()),
		zap.String("plan_id", plan.ID),
		zap.Time("trial_ends_at", trialEnd))

	s.notifier.OnTrialStarted(ctx, sub, plan)

	return sub, nil
}

// RecordChargeResult feeds a charge outcome into the state machine,
// mutating sub in place. Callers invoke it inside the subscription's lock
// scope and persist afterwards.
//
// On success the billing dates advance one cycle from the cycle's scheduled
// date rather than from now, so late processing never drifts the schedule.
func (s *SubscriptionService) RecordChargeResult(ctx context.Context, sub *model.Subscription, plan *model.Plan, success bool, scheduledAt time.Time) {
	now := time.Now().UTC()

	if success {
		base := scheduledAt
		if base.IsZero() {
			base = now
		}
		sub.CurrentPeriodEnd = plan.BillingCycle.Advance(base)
		sub.NextBillingDate = plan.BillingCycle.Advance(base)
		sub.PaymentFailures = 0
		if sub.Status != model.SubscriptionStatusActive && sub.Status.CanTransition(model.SubscriptionStatusActive) {
			sub.Status = model.SubscriptionStatusActive
			sub.SuspendedAt = nil
		}
		return
	}

	sub.PaymentFailures++
	if sub.PaymentFailures >= s.cfg.MaxPaymentFailures {
		if sub.Status.CanTransition(model.SubscriptionStatusSuspended) {
			sub.Status = model.SubscriptionStatusSuspended
			sub.SuspendedAt = &now
			s.logger.Warn("subscription suspended after repeated payment failures",
				zap.String("subscription_id", sub.ID.String()),
				zap.String("tenant_id", sub.TenantID.String()),
				zap.Int("payment_failures", sub.PaymentFailures))
			s.notifier.OnSuspended(ctx, sub, plan)
		}
		return
	}

	sub.NextBillingDate = sub.NextBillingDate.Add(s.cfg.RetryDelay)
	s.notifier.OnPaymentFailed(ctx, sub, plan, plan.PriceCents)
}

// ChangePlan moves an active subscription onto a new plan, charging the
// prorated difference first. A failed proration charge leaves the
// subscription on its old plan. The prorated amount is returned alongside
// the updated subscription.
func (s *SubscriptionService) ChangePlan(ctx context.Context, subscriptionID uuid.UUID, newPlanID string) (*model.Subscription, int64, error) {
	newPlan, err := s.plans.GetByID(ctx, newPlanID)
	if err != nil {
		return nil, 0, err
	}

	var (
		updated  *model.Subscription
		prorated int64
	)

	err = s.subs.WithLock(ctx, subscriptionID, func(ctx context.Context, sub *model.Subscription) error {
		if sub.Status != model.SubscriptionStatusActive {
			return domainErrors.ErrSubscriptionNotActive
		}

		now := time.Now().UTC()
		// Plan changes at or after period end belong to the renewal path;
		// rejecting them here keeps proration and renewal mutually
		// exclusive so a tenant is never double-charged in one cycle.
		if !sub.CurrentPeriodEnd.After(now) {
			return domainErrors.ErrPeriodEnded
		}

		oldPlan, err := s.plans.GetByID(ctx, sub.PlanID)
		if err != nil {
			return err
		}

		periodStart := oldPlan.BillingCycle.Retreat(sub.CurrentPeriodEnd)
		prorated = Prorate(oldPlan.PriceCents, newPlan.PriceCents, periodStart, sub.CurrentPeriodEnd, now)

		if prorated > 0 {
			adapter, err := s.router.Adapter(sub.Gateway)
			if err != nil {
				return err
			}

			gwCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
			defer cancel()

			gwSubID := ""
			if sub.GatewaySubscriptionID != nil {
				gwSubID = *sub.GatewaySubscriptionID
			}

			res, err := adapter.ProcessOneTimeCharge(gwCtx, &gateway.ChargeRequest{
				SubscriptionID:        sub.ID,
				GatewaySubscriptionID: gwSubID,
				AmountCents:           prorated,
				Currency:              newPlan.Currency,
				Description:           fmt.Sprintf("Prorated upgrade to %s", newPlan.DisplayName),
				OrderID:               generateOrderID(),
			})
			if err != nil || !res.Success {
				s.appendTransaction(ctx, sub, model.TransactionTypeProration, prorated, newPlan.Currency,
					model.TransactionStatusFailed, "", fmt.Sprintf("Prorated upgrade to %s", newPlan.DisplayName))
				s.logger.Error("proration charge failed, keeping old plan",
					zap.String("subscription_id", sub.ID.String()),
					zap.String("old_plan", oldPlan.ID),
					zap.String("new_plan", newPlan.ID),
					zap.Int64("amount_cents", prorated),
					zap.Error(err))
				return s.paymentError(sub.Gateway, prorated, newPlan.Currency, err)
			}

			s.appendTransaction(ctx, sub, model.TransactionTypeProration, prorated, newPlan.Currency,
				model.TransactionStatusCompleted, res.TransactionID, fmt.Sprintf("Prorated upgrade to %s", newPlan.DisplayName))
		} else {
			s.appendTransaction(ctx, sub, model.TransactionTypeProration, 0, newPlan.Currency,
				model.TransactionStatusNoCharge, "", fmt.Sprintf("Plan change to %s", newPlan.DisplayName))
		}

		sub.PlanID = newPlan.ID
		updated = sub

		s.logger.Info("plan changed",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("old_plan", oldPlan.ID),
			zap.String("new_plan", newPlan.ID),
			zap.Int64("prorated_cents", prorated))

		s.notifier.OnPlanChanged(ctx, sub, oldPlan, newPlan)
		return nil
	})
	if err != nil {
		return nil, prorated, err
	}

	return updated, prorated, nil
}

// Cancel cancels a subscription. Immediate cancellation ends the period
// now; otherwise only canceled_at is marked and the billing cycle processor
// finalizes the transition when the paid-for period runs out.
func (s *SubscriptionService) Cancel(ctx context.Context, subscriptionID uuid.UUID, immediate bool) (*model.Subscription, error) {
	var updated *model.Subscription

	err := s.subs.WithLock(ctx, subscriptionID, func(ctx context.Context, sub *model.Subscription) error {
		if sub.Status.IsTerminal() {
			return domainErrors.ErrAlreadyCanceled
		}

		plan, err := s.plans.GetByID(ctx, sub.PlanID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()

		if immediate {
			s.cancelAtGateway(ctx, sub)
			sub.Status = model.SubscriptionStatusCanceled
			sub.CanceledAt = &now
			sub.CurrentPeriodEnd = now
			s.appendTransaction(ctx, sub, model.TransactionTypeCancellation, 0, plan.Currency,
				model.TransactionStatusNoCharge, "", "Immediate cancellation")
		} else {
			sub.CanceledAt = &now
		}

		updated = sub

		s.logger.Info("subscription canceled",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("tenant_id", sub.TenantID.String()),
			zap.Bool("immediate", immediate))

		s.notifier.OnCanceled(ctx, sub, plan)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// FinalizeCancellation completes a deferred cancellation once the paid-for
// period has run out. Called by the billing cycle processor inside the
// subscription's lock scope instead of charging.
func (s *SubscriptionService) FinalizeCancellation(ctx context.Context, sub *model.Subscription) {
	s.cancelAtGateway(ctx, sub)
	if sub.Status.CanTransition(model.SubscriptionStatusCanceled) {
		sub.Status = model.SubscriptionStatusCanceled
	}

	s.logger.Info("deferred cancellation finalized",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("tenant_id", sub.TenantID.String()))
}

// cancelAtGateway tears down the provider-side subscription. Failures are
// logged only: the local cancellation wins and the provider is reconciled
// through its webhook stream.
func (s *SubscriptionService) cancelAtGateway(ctx context.Context, sub *model.Subscription) {
	if sub.GatewaySubscriptionID == nil || *sub.GatewaySubscriptionID == "" {
		return
	}
	adapter, err := s.router.Adapter(sub.Gateway)
	if err != nil {
		s.logger.Warn("no adapter for gateway cancellation",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("gateway", sub.Gateway),
			zap.Error(err))
		return
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	if err := adapter.CancelSubscription(gwCtx, *sub.GatewaySubscriptionID); err != nil {
		s.logger.Warn("gateway-side cancellation failed",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("gateway", sub.Gateway),
			zap.Error(err))
	}
}

func (s *SubscriptionService) appendTransaction(ctx context.Context, sub *model.Subscription, txType model.TransactionType, amountCents int64, currency string, status model.TransactionStatus, gatewayTxID, description string) {
	tx := &model.Transaction{
		SubscriptionID:       sub.ID,
		Type:                 txType,
		AmountCents:          amountCents,
		Currency:             currency,
		Status:               status,
		Gateway:              sub.Gateway,
		GatewayTransactionID: gatewayTxID,
		Description:          description,
	}
	if err := s.txs.Create(ctx, tx); err != nil {
		s.logger.Error("failed to append ledger entry",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("type", string(txType)),
			zap.Int64("amount_cents", amountCents),
			zap.Error(err))
	}
}

func (s *SubscriptionService) paymentError(gatewayName string, amountCents int64, currency string, err error) error {
	pe := &domainErrors.PaymentError{
		Gateway:     gatewayName,
		Message:     "charge declined or timed out",
		AmountCents: amountCents,
		Currency:    currency,
		Err:         err,
	}
	var gwErr *gateway.GatewayError
	if errors.As(err, &gwErr) {
		pe.Code = gwErr.Code
		pe.Message = gwErr.Message
	}
	return pe
}

func generateOrderID() string {
	return fmt.Sprintf("ORDER_%d_%s", time.Now().Unix(), uuid.New().String()[:8])
}
