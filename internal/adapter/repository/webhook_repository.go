package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gastrohub/billing-service/internal/domain/model"
	"github.com/gastrohub/billing-service/internal/domain/repository"
)

type webhookEventRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewWebhookEventRepository creates a new webhook event repository
func NewWebhookEventRepository(db *gorm.DB, logger *zap.Logger) repository.WebhookEventRepository {
	return &webhookEventRepository{
		db:     db,
		logger: logger,
	}
}

// SaveEvent inserts the event keyed on the provider event id. The unique
// index plus ON CONFLICT DO NOTHING makes this the idempotency gate: a
// redelivery inserts zero rows and the already-stored row is returned
// instead so the caller can inspect its processing status.
func (r *webhookEventRepository) SaveEvent(ctx context.Context, gatewayName, eventID, eventType string, payload json.RawMessage) (*model.WebhookEvent, bool, error) {
	var body model.JSONB
	if err := json.Unmarshal(payload, &body); err != nil {
		r.logger.Warn("Failed to parse webhook payload, storing raw",
			zap.String("event_id", eventID),
			zap.Error(err))
		body = model.JSONB{"raw": string(payload)}
	}

	event := &model.WebhookEvent{
		ProviderEventID: eventID,
		Gateway:         gatewayName,
		EventType:       eventType,
		Status:          model.WebhookStatusPending,
		Payload:         body,
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		r.logger.Error("Failed to save webhook event",
			zap.String("event_id", eventID),
			zap.String("gateway", gatewayName),
			zap.Error(result.Error))
		return nil, false, fmt.Errorf("failed to save webhook event: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return event, true, nil
	}

	var existing model.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("provider_event_id = ?", eventID).
		First(&existing).Error
	if err != nil {
		r.logger.Error("Failed to load existing webhook event",
			zap.String("event_id", eventID),
			zap.Error(err))
		return nil, false, fmt.Errorf("failed to load existing webhook event: %w", err)
	}
	return &existing, false, nil
}

func (r *webhookEventRepository) MarkProcessed(ctx context.Context, eventID string) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("provider_event_id = ?", eventID).
		Updates(map[string]interface{}{
			"status":       model.WebhookStatusCompleted,
			"processed_at": now,
		}).Error
	if err != nil {
		r.logger.Error("Failed to mark webhook event processed",
			zap.String("event_id", eventID),
			zap.Error(err))
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}
	return nil
}

func (r *webhookEventRepository) MarkFailed(ctx context.Context, eventID string, cause error) error {
	msg := cause.Error()
	nextRetry := time.Now().UTC().Add(5 * time.Minute)
	err := r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("provider_event_id = ?", eventID).
		Updates(map[string]interface{}{
			"status":              model.WebhookStatusFailed,
			"last_error":          msg,
			"processing_attempts": gorm.Expr("processing_attempts + 1"),
			"next_retry_at":       nextRetry,
		}).Error
	if err != nil {
		r.logger.Error("Failed to mark webhook event failed",
			zap.String("event_id", eventID),
			zap.Error(err))
		return fmt.Errorf("failed to mark webhook event failed: %w", err)
	}
	return nil
}

// GetPendingEvents scans for unresolved events. olderThan keeps freshly
// inserted rows that are still mid-flight in HandleWebhook out of the
// retry sweep.
func (r *webhookEventRepository) GetPendingEvents(ctx context.Context, olderThan time.Time, limit int) ([]*model.WebhookEvent, error) {
	var events []*model.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("status IN ? AND created_at <= ? AND (next_retry_at IS NULL OR next_retry_at <= ?)",
			[]model.WebhookStatus{model.WebhookStatusPending, model.WebhookStatusFailed},
			olderThan,
			time.Now().UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		r.logger.Error("Failed to get pending webhook events", zap.Error(err))
		return nil, fmt.Errorf("failed to get pending webhook events: %w", err)
	}
	return events, nil
}
