package model

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus represents the lifecycle state of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusTrialing  SubscriptionStatus = "trialing"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
	SubscriptionStatusCanceled  SubscriptionStatus = "canceled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

// Scan implements sql.Scanner interface
func (s *SubscriptionStatus) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		*s = SubscriptionStatus(v)
	case []byte:
		*s = SubscriptionStatus(v)
	default:
		*s = SubscriptionStatusPending
	}
	return nil
}

// Value implements driver.Valuer interface
func (s SubscriptionStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// IsTerminal reports whether no further transitions are legal from s.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusCanceled || s == SubscriptionStatusExpired
}

// legalTransitions is the full transition table of the subscription
// lifecycle. pending and trialing are entry states; canceled and expired
// are terminal.
var legalTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusPending:   {SubscriptionStatusTrialing, SubscriptionStatusActive, SubscriptionStatusCanceled, SubscriptionStatusExpired},
	SubscriptionStatusTrialing:  {SubscriptionStatusActive, SubscriptionStatusCanceled, SubscriptionStatusExpired},
	SubscriptionStatusActive:    {SubscriptionStatusSuspended, SubscriptionStatusCanceled, SubscriptionStatusExpired},
	SubscriptionStatusSuspended: {SubscriptionStatusActive, SubscriptionStatusCanceled},
}

// CanTransition reports whether moving from s to target is legal.
func (s SubscriptionStatus) CanTransition(target SubscriptionStatus) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Subscription is the central billing entity. Rows are never deleted;
// canceled and expired subscriptions are retained for audit.
type Subscription struct {
	ID                    uuid.UUID          `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	TenantID              uuid.UUID          `gorm:"type:uuid;not null;index" json:"tenant_id"`
	PlanID                string             `gorm:"not null;size:100;index" json:"plan_id"`
	Status                SubscriptionStatus `gorm:"type:subscription_status;not null;default:'pending'" json:"status"`
	StartDate             time.Time          `gorm:"not null" json:"start_date"`
	CurrentPeriodEnd      time.Time          `gorm:"not null" json:"current_period_end"`
	NextBillingDate       time.Time          `gorm:"not null;index" json:"next_billing_date"`
	TrialEndsAt           *time.Time         `json:"trial_ends_at,omitempty"`
	PaymentFailures       int                `gorm:"default:0" json:"payment_failures"`
	Gateway               string             `gorm:"not null;size:50" json:"gateway"`
	GatewaySubscriptionID *string            `gorm:"size:200;index" json:"gateway_subscription_id,omitempty"`
	CanceledAt            *time.Time         `json:"canceled_at,omitempty"`
	SuspendedAt           *time.Time         `json:"suspended_at,omitempty"`
	Metadata              JSONB              `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt             time.Time          `gorm:"default:now()" json:"created_at"`
	UpdatedAt             time.Time          `gorm:"default:now()" json:"updated_at"`

	// Relations
	Plan *Plan `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
}

// TableName specifies the table name for GORM
func (Subscription) TableName() string {
	return "subscriptions"
}
