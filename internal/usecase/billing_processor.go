package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gastrohub/billing-service/internal/config"
	"github.com/gastrohub/billing-service/internal/domain/gateway"
	"github.com/gastrohub/billing-service/internal/domain/model"
	"github.com/gastrohub/billing-service/internal/domain/repository"
)

// BillingProcessor drives the recurring billing cycle. A run picks up every
// subscription whose next_billing_date has passed and settles each one:
// renewal charge, trial conversion, deferred cancellation, or expiry.
//
// Runs are idempotent and safe to overlap: each subscription is settled
// under its row lock, and the due check is re-evaluated inside the lock so
// a subscription already settled by a concurrent run becomes a no-op.
type BillingProcessor struct {
	subs    repository.SubscriptionRepository
	txs     repository.TransactionRepository
	plans   repository.PlanRepository
	router  gateway.Router
	service *SubscriptionService
	cfg     config.BillingConfig
	logger  *zap.Logger
}

func NewBillingProcessor(
	subs repository.SubscriptionRepository,
	txs repository.TransactionRepository,
	plans repository.PlanRepository,
	router gateway.Router,
	service *SubscriptionService,
	cfg config.BillingConfig,
	logger *zap.Logger,
) *BillingProcessor {
	return &BillingProcessor{
		subs:    subs,
		txs:     txs,
		plans:   plans,
		router:  router,
		service: service,
		cfg:     cfg,
		logger:  logger,
	}
}

// CycleError records one subscription that could not be settled in a run.
type CycleError struct {
	SubscriptionID uuid.UUID
	Err            error
}

// CycleReport summarizes one billing cycle run.
type CycleReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Due        int
	Processed  int
	Failed     int
	Errors     []CycleError
}

// RunBillingCycle settles all currently due subscriptions. One failed
// subscription never aborts the run; failures are collected in the report.
func (p *BillingProcessor) RunBillingCycle(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{StartedAt: time.Now().UTC()}

	due, err := p.subs.FindDue(ctx, report.StartedAt, p.cfg.BatchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to find due subscriptions: %w", err)
	}
	report.Due = len(due)

	p.logger.Info("billing cycle started",
		zap.Int("due", len(due)),
		zap.Int("workers", p.cfg.Workers))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for _, id := range due {
		id := id
		g.Go(func() error {
			if err := p.processOne(gctx, id); err != nil {
				p.logger.Error("failed to settle subscription",
					zap.String("subscription_id", id.String()),
					zap.Error(err))
				mu.Lock()
				report.Failed++
				report.Errors = append(report.Errors, CycleError{SubscriptionID: id, Err: err})
				mu.Unlock()
				return nil
			}
			mu.Lock()
			report.Processed++
			mu.Unlock()
			return nil
		})
	}

	// Workers swallow their own errors into the report; Wait only fails on
	// context cancellation.
	if err := g.Wait(); err != nil {
		return report, err
	}
	if err := gctx.Err(); err != nil {
		return report, err
	}

	report.FinishedAt = time.Now().UTC()
	p.logger.Info("billing cycle finished",
		zap.Int("due", report.Due),
		zap.Int("processed", report.Processed),
		zap.Int("failed", report.Failed),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)))

	return report, nil
}

// processOne settles a single due subscription under its row lock.
func (p *BillingProcessor) processOne(ctx context.Context, id uuid.UUID) error {
	return p.subs.WithLock(ctx, id, func(ctx context.Context, sub *model.Subscription) error {
		now := time.Now().UTC()

		// Re-check inside the lock: a concurrent run or an interactive
		// operation may have settled this subscription already.
		if sub.NextBillingDate.After(now) {
			return nil
		}
		if sub.Status.IsTerminal() {
			return nil
		}

		plan, err := p.plans.GetByID(ctx, sub.PlanID)
		if err != nil {
			return err
		}

		// A cancellation requested mid-period finalizes here instead of
		// charging: the tenant keeps access until the paid-for period ends.
		if sub.CanceledAt != nil {
			p.service.FinalizeCancellation(ctx, sub)
			p.appendTransaction(ctx, sub, model.TransactionTypeCancellation, 0, plan.Currency,
				model.TransactionStatusNoCharge, "", "Cancellation finalized at period end")
			return nil
		}

		switch sub.Status {
		case model.SubscriptionStatusTrialing:
			return p.settleTrial(ctx, sub, plan, now)
		case model.SubscriptionStatusActive:
			return p.settleRenewal(ctx, sub, plan, model.TransactionTypeRenewal)
		case model.SubscriptionStatusSuspended:
			// Suspension ends automatic charging. Recovery comes through a
			// successful charge webhook or an explicit payment update.
			return nil
		case model.SubscriptionStatusPending:
			// A pending subscription that reached its billing date never
			// got its payment confirmed. Expire it.
			sub.Status = model.SubscriptionStatusExpired
			p.logger.Info("pending subscription expired without payment confirmation",
				zap.String("subscription_id", sub.ID.String()))
			return nil
		default:
			return nil
		}
	})
}

// settleTrial converts an expired trial into a paid subscription. A trial
// that never attached a payment method expires instead of converting.
func (p *BillingProcessor) settleTrial(ctx context.Context, sub *model.Subscription, plan *model.Plan, now time.Time) error {
	if sub.GatewaySubscriptionID == nil || *sub.GatewaySubscriptionID == "" {
		sub.Status = model.SubscriptionStatusExpired
		p.appendTransaction(ctx, sub, model.TransactionTypeRenewal, 0, plan.Currency,
			model.TransactionStatusNoCharge, "", "Trial expired without payment method")
		p.logger.Info("trial expired without payment method",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("tenant_id", sub.TenantID.String()))
		return nil
	}
	return p.settleRenewal(ctx, sub, plan, model.TransactionTypeRenewal)
}

// settleRenewal charges one billing cycle and feeds the outcome into the
// state machine. The gateway call happens inside the lock scope; the lock
// hold time is bounded by the configured gateway timeout.
func (p *BillingProcessor) settleRenewal(ctx context.Context, sub *model.Subscription, plan *model.Plan, txType model.TransactionType) error {
	adapter, err := p.router.Adapter(sub.Gateway)
	if err != nil {
		return err
	}

	scheduledAt := sub.NextBillingDate

	gwCtx, cancel := context.WithTimeout(ctx, p.cfg.GatewayTimeout)
	defer cancel()

	gwSubID := ""
	if sub.GatewaySubscriptionID != nil {
		gwSubID = *sub.GatewaySubscriptionID
	}

	res, err := adapter.ProcessRecurringCharge(gwCtx, &gateway.ChargeRequest{
		SubscriptionID:        sub.ID,
		GatewaySubscriptionID: gwSubID,
		AmountCents:           plan.PriceCents,
		Currency:              plan.Currency,
		Description:           fmt.Sprintf("%s renewal", plan.DisplayName),
		OrderID:               generateOrderID(),
	})

	success := err == nil && res != nil && res.Success

	txID := ""
	if res != nil {
		txID = res.TransactionID
	}
	txStatus := model.TransactionStatusCompleted
	if !success {
		txStatus = model.TransactionStatusFailed
	}
	p.appendTransaction(ctx, sub, txType, plan.PriceCents, plan.Currency,
		txStatus, txID, fmt.Sprintf("%s renewal", plan.DisplayName))

	if err != nil {
		p.logger.Warn("recurring charge failed",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("gateway", sub.Gateway),
			zap.Int64("amount_cents", plan.PriceCents),
			zap.Error(err))
	}

	p.service.RecordChargeResult(ctx, sub, plan, success, scheduledAt)
	return nil
}

func (p *BillingProcessor) appendTransaction(ctx context.Context, sub *model.Subscription, txType model.TransactionType, amountCents int64, currency string, status model.TransactionStatus, gatewayTxID, description string) {
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
	if err := p.txs.Create(ctx, tx); err != nil {
		p.logger.Error("failed to append ledger entry",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("type", string(txType)),
			zap.Error(err))
	}
}
