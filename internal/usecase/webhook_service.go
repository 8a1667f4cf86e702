package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gastrohub/billing-service/internal/config"
	domainErrors "github.com/gastrohub/billing-service/internal/domain/errors"
	"github.com/gastrohub/billing-service/internal/domain/gateway"
	"github.com/gastrohub/billing-service/internal/domain/model"
	"github.com/gastrohub/billing-service/internal/domain/repository"
)

// WebhookService ingests provider notifications: validate the signature,
// deduplicate on the provider event id, then apply the normalized event to
// the referenced subscription under its row lock.
type WebhookService struct {
	subs    repository.SubscriptionRepository
	txs     repository.TransactionRepository
	plans   repository.PlanRepository
	events  repository.WebhookEventRepository
	router  gateway.Router
	service *SubscriptionService
	cfg     config.BillingConfig
	logger  *zap.Logger
}

func NewWebhookService(
	subs repository.SubscriptionRepository,
	txs repository.TransactionRepository,
	plans repository.PlanRepository,
	events repository.WebhookEventRepository,
	router gateway.Router,
	service *SubscriptionService,
	cfg config.BillingConfig,
	logger *zap.Logger,
) *WebhookService {
	return &WebhookService{
		subs:    subs,
		txs:     txs,
		plans:   plans,
		events:  events,
		router:  router,
		service: service,
		cfg:     cfg,
		logger:  logger,
	}
}

// HandleWebhook processes one inbound provider notification. A replay of a
// completed event id is acknowledged without reapplying; a redelivery of an
// event that never completed (the provider resends on every non-2xx) goes
// back through the apply path. An invalid signature is rejected before
// anything is stored.
func (s *WebhookService) HandleWebhook(ctx context.Context, gatewayName string, payload []byte, signature string) error {
	adapter, err := s.router.Adapter(gatewayName)
	if err != nil {
		return err
	}

	notif, err := adapter.HandleWebhook(ctx, payload, signature)
	if err != nil {
		if errors.Is(err, domainErrors.ErrInvalidSignature) {
			s.logger.Warn("webhook rejected: invalid signature",
				zap.String("gateway", gatewayName))
		}
		return err
	}

	// The normalized envelope is stored rather than the provider body so
	// the retry sweep can reapply without re-parsing provider formats; the
	// raw body travels inside it for audit.
	envelope, err := json.Marshal(notif)
	if err != nil {
		return fmt.Errorf("failed to encode webhook notification: %w", err)
	}

	event, created, err := s.events.SaveEvent(ctx, gatewayName, notif.EventID, notif.EventType, envelope)
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	if !created {
		if event.Status == model.WebhookStatusCompleted {
			s.logger.Info("webhook replay ignored",
				zap.String("gateway", gatewayName),
				zap.String("event_id", notif.EventID))
			return nil
		}
		s.logger.Info("webhook redelivery of unresolved event, reprocessing",
			zap.String("gateway", gatewayName),
			zap.String("event_id", notif.EventID),
			zap.String("status", string(event.Status)))
	}

	return s.process(ctx, notif)
}

// process applies a stored notification and resolves the event record
// either way.
func (s *WebhookService) process(ctx context.Context, notif *gateway.WebhookNotification) error {
	if notif.EventType == gateway.EventIgnored {
		return s.events.MarkProcessed(ctx, notif.EventID)
	}

	if err := s.apply(ctx, notif); err != nil {
		if markErr := s.events.MarkFailed(ctx, notif.EventID, err); markErr != nil {
			s.logger.Error("failed to mark webhook event failed",
				zap.String("event_id", notif.EventID),
				zap.Error(markErr))
		}
		return err
	}

	return s.events.MarkProcessed(ctx, notif.EventID)
}

// retrySweepLag keeps rows that were inserted moments ago, and are still
// being applied by their original HandleWebhook call, out of the sweep.
const retrySweepLag = time.Minute

// RetryPending drains stored events that never completed, typically
// out-of-order deliveries that referenced a subscription before its row
// existed. Runs on the scheduler; each event goes back through the same
// apply path as a live delivery. Returns how many events were resolved.
func (s *WebhookService) RetryPending(ctx context.Context, limit int) (int, error) {
	events, err := s.events.GetPendingEvents(ctx, time.Now().UTC().Add(-retrySweepLag), limit)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, ev := range events {
		notif, err := notificationFromEvent(ev)
		if err != nil {
			s.logger.Error("stored webhook event is not decodable",
				zap.String("event_id", ev.ProviderEventID),
				zap.Error(err))
			if markErr := s.events.MarkFailed(ctx, ev.ProviderEventID, err); markErr != nil {
				s.logger.Error("failed to mark webhook event failed",
					zap.String("event_id", ev.ProviderEventID),
					zap.Error(markErr))
			}
			continue
		}

		if err := s.process(ctx, notif); err != nil {
			s.logger.Warn("webhook retry still failing",
				zap.String("event_id", ev.ProviderEventID),
				zap.Int("attempts", ev.ProcessingAttempts+1),
				zap.Error(err))
			continue
		}
		resolved++
	}

	if len(events) > 0 {
		s.logger.Info("webhook retry sweep finished",
			zap.Int("picked_up", len(events)),
			zap.Int("resolved", resolved))
	}
	return resolved, nil
}

// notificationFromEvent rebuilds the normalized notification from the
// stored envelope.
func notificationFromEvent(ev *model.WebhookEvent) (*gateway.WebhookNotification, error) {
	raw, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode stored payload: %w", err)
	}
	var notif gateway.WebhookNotification
	if err := json.Unmarshal(raw, &notif); err != nil {
		return nil, fmt.Errorf("failed to decode stored payload: %w", err)
	}
	if notif.EventID == "" {
		notif.EventID = ev.ProviderEventID
	}
	if notif.Gateway == "" {
		notif.Gateway = ev.Gateway
	}
	if notif.EventType == "" {
		notif.EventType = ev.EventType
	}
	return &notif, nil
}

// apply resolves the subscription the notification references and applies
// the state change under the subscription's lock.
func (s *WebhookService) apply(ctx context.Context, notif *gateway.WebhookNotification) error {
	if notif.GatewaySubscriptionID == "" {
		return domainErrors.ErrUnknownSubscription
	}

	sub, err := s.subs.GetByGatewaySubscriptionID(ctx, notif.Gateway, notif.GatewaySubscriptionID)
	if err != nil {
		if errors.Is(err, domainErrors.ErrSubscriptionNotFound) {
			s.logger.Warn("webhook references unknown subscription",
				zap.String("gateway", notif.Gateway),
				zap.String("gateway_subscription_id", notif.GatewaySubscriptionID),
				zap.String("event_type", notif.EventType))
			return domainErrors.ErrUnknownSubscription
		}
		return err
	}

	return s.subs.WithLock(ctx, sub.ID, func(ctx context.Context, sub *model.Subscription) error {
		plan, err := s.plans.GetByID(ctx, sub.PlanID)
		if err != nil {
			return err
		}

		switch {
		case notif.ChargeSucceeded():
			s.applyChargeSucceeded(ctx, sub, plan, notif)
		case notif.ChargeFailed():
			s.applyChargeFailed(ctx, sub, plan, notif)
		case notif.EventType == gateway.EventSubscriptionDeleted:
			if !sub.Status.IsTerminal() {
				now := time.Now().UTC()
				sub.Status = model.SubscriptionStatusCanceled
				sub.CanceledAt = &now
				s.logger.Info("subscription canceled by gateway",
					zap.String("subscription_id", sub.ID.String()),
					zap.String("gateway", notif.Gateway))
			}
		case notif.EventType == gateway.EventSubscriptionUpdated:
			s.applyStatusUpdate(sub, notif)
		default:
			s.logger.Info("webhook event type not handled",
				zap.String("event_type", notif.EventType),
				zap.String("subscription_id", sub.ID.String()))
		}

		return nil
	})
}

// applyChargeSucceeded activates pending subscriptions whose asynchronous
// payment cleared, recovers suspended ones, and advances the billing dates
// through the state machine.
func (s *WebhookService) applyChargeSucceeded(ctx context.Context, sub *model.Subscription, plan *model.Plan, notif *gateway.WebhookNotification) {
	amount := notif.AmountCents
	if amount == 0 {
		amount = plan.PriceCents
	}

	switch sub.Status {
	case model.SubscriptionStatusPending:
		// The setup charge was written as pending when the subscription
		// was created; the confirmation settles that entry rather than
		// appending a second one.
		s.settleSetupTransaction(ctx, sub, amount, plan.Currency, notif.TransactionID)
		sub.Status = model.SubscriptionStatusActive
		sub.PaymentFailures = 0
		s.logger.Info("pending subscription activated by gateway confirmation",
			zap.String("subscription_id", sub.ID.String()))
	case model.SubscriptionStatusSuspended, model.SubscriptionStatusActive, model.SubscriptionStatusTrialing:
		s.appendTransaction(ctx, sub, amount, plan.Currency,
			model.TransactionStatusCompleted, notif.TransactionID, "Charge confirmed by gateway")
		s.service.RecordChargeResult(ctx, sub, plan, true, sub.NextBillingDate)
	default:
		// Terminal subscription; keep the ledger entry, change nothing.
		s.appendTransaction(ctx, sub, amount, plan.Currency,
			model.TransactionStatusCompleted, notif.TransactionID, "Charge confirmed by gateway")
	}
}

// settleSetupTransaction moves the pending setup ledger entry to completed.
// When no pending entry exists (the subscription predates the entry, or the
// entry already settled) a completed setup entry is written instead.
func (s *WebhookService) settleSetupTransaction(ctx context.Context, sub *model.Subscription, amountCents int64, currency, gatewayTxID string) {
	txs, err := s.txs.ListBySubscription(ctx, sub.ID, 20)
	if err != nil {
		s.logger.Error("failed to list ledger entries for settlement",
			zap.String("subscription_id", sub.ID.String()),
			zap.Error(err))
	} else {
		for _, tx := range txs {
			if tx.Type == model.TransactionTypeSetup && tx.Status == model.TransactionStatusPending {
				if err := s.txs.UpdateStatus(ctx, tx.ID, model.TransactionStatusCompleted, gatewayTxID); err != nil {
					s.logger.Error("failed to settle setup ledger entry",
						zap.String("subscription_id", sub.ID.String()),
						zap.Int64("transaction_id", tx.ID),
						zap.Error(err))
					break
				}
				return
			}
		}
	}

	tx := &model.Transaction{
		SubscriptionID:       sub.ID,
		Type:                 model.TransactionTypeSetup,
		AmountCents:          amountCents,
		Currency:             currency,
		Status:               model.TransactionStatusCompleted,
		Gateway:              sub.Gateway,
		GatewayTransactionID: gatewayTxID,
		Description:          "Initial subscription charge",
	}
	if err := s.txs.Create(ctx, tx); err != nil {
		s.logger.Error("failed to append ledger entry",
			zap.String("subscription_id", sub.ID.String()),
			zap.Error(err))
	}
}

func (s *WebhookService) applyChargeFailed(ctx context.Context, sub *model.Subscription, plan *model.Plan, notif *gateway.WebhookNotification) {
	amount := notif.AmountCents
	if amount == 0 {
		amount = plan.PriceCents
	}

	s.appendTransaction(ctx, sub, amount, plan.Currency,
		model.TransactionStatusFailed, notif.TransactionID, "Charge failure reported by gateway")

	if sub.Status.IsTerminal() {
		return
	}
	s.service.RecordChargeResult(ctx, sub, plan, false, sub.NextBillingDate)
}

// applyStatusUpdate reconciles a provider-pushed status with the local
// state machine. Unknown statuses and illegal transitions change nothing.
func (s *WebhookService) applyStatusUpdate(sub *model.Subscription, notif *gateway.WebhookNotification) {
	target, ok := statusFromGateway(notif.Status)
	if !ok {
		s.logger.Warn("gateway pushed unmapped status",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("gateway", notif.Gateway),
			zap.String("status", string(notif.Status)))
		return
	}
	if target == sub.Status {
		return
	}
	if !sub.Status.CanTransition(target) {
		s.logger.Warn("gateway pushed illegal status transition",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("from", string(sub.Status)),
			zap.String("to", string(target)))
		return
	}

	now := time.Now().UTC()
	sub.Status = target
	switch target {
	case model.SubscriptionStatusSuspended:
		sub.SuspendedAt = &now
	case model.SubscriptionStatusActive:
		sub.SuspendedAt = nil
		sub.PaymentFailures = 0
	case model.SubscriptionStatusCanceled:
		sub.CanceledAt = &now
	}

	s.logger.Info("subscription status updated by gateway",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("status", string(target)))
}

func statusFromGateway(st gateway.Status) (model.SubscriptionStatus, bool) {
	switch st {
	case gateway.StatusPending:
		return model.SubscriptionStatusPending, true
	case gateway.StatusActive:
		return model.SubscriptionStatusActive, true
	case gateway.StatusSuspended:
		return model.SubscriptionStatusSuspended, true
	case gateway.StatusCanceled:
		return model.SubscriptionStatusCanceled, true
	case gateway.StatusExpired:
		return model.SubscriptionStatusExpired, true
	default:
		return "", false
	}
}

func (s *WebhookService) appendTransaction(ctx context.Context, sub *model.Subscription, amountCents int64, currency string, status model.TransactionStatus, gatewayTxID, description string) {
	tx := &model.Transaction{
		SubscriptionID:       sub.ID,
		Type:                 model.TransactionTypeRenewal,
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
			zap.Error(err))
	}
}
