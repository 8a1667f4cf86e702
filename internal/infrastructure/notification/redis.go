package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/gastrohub/billing-service/internal/config"
	"github.com/gastrohub/billing-service/internal/domain/model"
	"github.com/gastrohub/billing-service/internal/usecase"
)

// Channels consumed by the notification workers of other services.
const (
	channelTrialStarted  = "billing.events.trial_started"
	channelPaymentFailed = "billing.events.payment_failed"
	channelSuspended     = "billing.events.suspended"
	channelPlanChanged   = "billing.events.plan_changed"
	channelCanceled      = "billing.events.canceled"
)

// RedisNotifier publishes billing lifecycle events over Redis pub/sub.
// Publishing is best effort: a failed publish is logged and swallowed so
// messaging outages never block or roll back billing.
type RedisNotifier struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisNotifier(cfg config.RedisConfig, logger *zap.Logger) (*RedisNotifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisNotifier{
		client: client,
		logger: logger,
	}, nil
}

type billingEvent struct {
	SubscriptionID string    `json:"subscription_id"`
	TenantID       string    `json:"tenant_id"`
	PlanID         string    `json:"plan_id"`
	Status         string    `json:"status"`
	AmountCents    int64     `json:"amount_cents,omitempty"`
	OldPlanID      string    `json:"old_plan_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (n *RedisNotifier) OnTrialStarted(ctx context.Context, sub *model.Subscription, plan *model.Plan) {
	n.publish(ctx, channelTrialStarted, eventFor(sub, plan))
}

func (n *RedisNotifier) OnPaymentFailed(ctx context.Context, sub *model.Subscription, plan *model.Plan, amountCents int64) {
	ev := eventFor(sub, plan)
	ev.AmountCents = amountCents
	n.publish(ctx, channelPaymentFailed, ev)
}

func (n *RedisNotifier) OnSuspended(ctx context.Context, sub *model.Subscription, plan *model.Plan) {
	n.publish(ctx, channelSuspended, eventFor(sub, plan))
}

func (n *RedisNotifier) OnPlanChanged(ctx context.Context, sub *model.Subscription, oldPlan, newPlan *model.Plan) {
	ev := eventFor(sub, newPlan)
	ev.OldPlanID = oldPlan.ID
	n.publish(ctx, channelPlanChanged, ev)
}

func (n *RedisNotifier) OnCanceled(ctx context.Context, sub *model.Subscription, plan *model.Plan) {
	n.publish(ctx, channelCanceled, eventFor(sub, plan))
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

func eventFor(sub *model.Subscription, plan *model.Plan) billingEvent {
	return billingEvent{
		SubscriptionID: sub.ID.String(),
		TenantID:       sub.TenantID.String(),
		PlanID:         plan.ID,
		Status:         string(sub.Status),
		OccurredAt:     time.Now().UTC(),
	}
}

func (n *RedisNotifier) publish(ctx context.Context, channel string, ev billingEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("Failed to serialize billing event",
			zap.String("channel", channel),
			zap.Error(err))
		return
	}

	if err := n.client.Publish(ctx, channel, payload).Err(); err != nil {
		n.logger.Warn("Failed to publish billing event",
			zap.String("channel", channel),
			zap.String("subscription_id", ev.SubscriptionID),
			zap.Error(err))
	}
}

// interface guard
var _ usecase.Notifier = (*RedisNotifier)(nil)
