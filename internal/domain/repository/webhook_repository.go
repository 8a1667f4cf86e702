package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gastrohub/billing-service/internal/domain/model"
)

// WebhookEventRepository stores inbound provider notifications keyed on the
// provider event id.
type WebhookEventRepository interface {
	// SaveEvent inserts the event and reports whether a new row was
	// created. On a redelivered event id nothing is inserted,
	// created is false and the stored row is returned so the caller can
	// decide from its status whether the delivery is a replay or a retry
	// of an event that never completed.
	SaveEvent(ctx context.Context, gatewayName, eventID, eventType string, payload json.RawMessage) (*model.WebhookEvent, bool, error)

	MarkProcessed(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID string, cause error) error

	// GetPendingEvents retrieves unresolved events created before
	// olderThan whose retry backoff has elapsed.
	GetPendingEvents(ctx context.Context, olderThan time.Time, limit int) ([]*model.WebhookEvent, error)
}
