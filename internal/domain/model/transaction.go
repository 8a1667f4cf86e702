package model

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
)

// TransactionStatus represents the outcome of a monetary attempt
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusNoCharge  TransactionStatus = "no_charge"
)

// Scan implements sql.Scanner interface
func (s *TransactionStatus) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		*s = TransactionStatus(v)
	case []byte:
		*s = TransactionStatus(v)
	default:
		*s = TransactionStatusPending
	}
	return nil
}

// Value implements driver.Valuer interface
func (s TransactionStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// TransactionType classifies why money moved (or was attempted).
type TransactionType string

const (
	TransactionTypeSetup        TransactionType = "setup"
	TransactionTypeRenewal      TransactionType = "renewal"
	TransactionTypeProration    TransactionType = "proration"
	TransactionTypeCancellation TransactionType = "cancellation"
)

// Transaction is an append-only ledger entry. Amount and subscription
// linkage never change after insert; only Status may move off pending.
type Transaction struct {
	ID                   int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	SubscriptionID       uuid.UUID         `gorm:"type:uuid;not null;index" json:"subscription_id"`
	Type                 TransactionType   `gorm:"not null;size:20" json:"type"`
	AmountCents          int64             `gorm:"not null" json:"amount_cents"`
	Currency             string            `gorm:"not null;size:3" json:"currency"`
	Status               TransactionStatus `gorm:"type:transaction_status;not null;default:'pending'" json:"status"`
	Gateway              string            `gorm:"size:50" json:"gateway"`
	GatewayTransactionID string            `gorm:"size:200;index" json:"gateway_transaction_id,omitempty"`
	Description          string            `gorm:"size:500" json:"description"`
	Metadata             JSONB             `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt            time.Time         `gorm:"default:now()" json:"created_at"`
}

// TableName specifies the table name for GORM
func (Transaction) TableName() string {
	return "transactions"
}
