package model

import "time"

// WebhookStatus represents the processing state of a webhook event
type WebhookStatus string

const (
	WebhookStatusPending    WebhookStatus = "pending"
	WebhookStatusProcessing WebhookStatus = "processing"
	WebhookStatusCompleted  WebhookStatus = "completed"
	WebhookStatusFailed     WebhookStatus = "failed"
)

// WebhookEvent records every provider notification. The unique provider
// event id is the idempotency key: a replayed notification hits the unique
// index and is dropped without reprocessing.
type WebhookEvent struct {
	ID                 int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	ProviderEventID    string        `gorm:"uniqueIndex;not null;size:255" json:"provider_event_id"`
	Gateway            string        `gorm:"not null;size:50;index" json:"gateway"`
	EventType          string        `gorm:"not null;size:100;index" json:"event_type"`
	Status             WebhookStatus `gorm:"type:webhook_status;default:'pending';index" json:"status"`
	ProcessedAt        *time.Time    `json:"processed_at,omitempty"`
	ProcessingAttempts int           `gorm:"default:0" json:"processing_attempts"`
	LastError          *string       `json:"last_error,omitempty"`
	NextRetryAt        *time.Time    `json:"next_retry_at,omitempty"`
	Payload            JSONB         `gorm:"type:jsonb;not null" json:"payload"`
	CreatedAt          time.Time     `gorm:"default:now()" json:"created_at"`
	UpdatedAt          time.Time     `gorm:"default:now()" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (WebhookEvent) TableName() string {
	return "webhook_events"
}
