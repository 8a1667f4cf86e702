package model

import "time"

// BillingCycle is the recurring charge interval of a plan.
type BillingCycle string

const (
	BillingCycleMonthly   BillingCycle = "monthly"
	BillingCycleQuarterly BillingCycle = "quarterly"
	BillingCycleYearly    BillingCycle = "yearly"
)

// Advance returns t moved forward by one billing cycle.
func (c BillingCycle) Advance(t time.Time) time.Time {
	switch c {
	case BillingCycleQuarterly:
		return t.AddDate(0, 3, 0)
	case BillingCycleYearly:
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 1, 0)
	}
}

// Retreat returns t moved backward by one billing cycle.
func (c BillingCycle) Retreat(t time.Time) time.Time {
	switch c {
	case BillingCycleQuarterly:
		return t.AddDate(0, -3, 0)
	case BillingCycleYearly:
		return t.AddDate(-1, 0, 0)
	default:
		return t.AddDate(0, -1, 0)
	}
}

// Plan is an immutable catalog entry. A price or cycle change creates a new
// plan row; existing subscriptions keep referencing the row they signed up on.
type Plan struct {
	ID             string       `gorm:"primaryKey;size:100" json:"id"`
	DisplayName    string       `gorm:"not null;size:200" json:"display_name"`
	PriceCents     int64        `gorm:"not null" json:"price_cents"`
	Currency       string       `gorm:"not null;size:3" json:"currency"`
	BillingCycle   BillingCycle `gorm:"not null;size:20" json:"billing_cycle"`
	TrialEligible  bool         `gorm:"default:false" json:"trial_eligible"`
	GatewayPriceID string       `gorm:"size:100" json:"gateway_price_id,omitempty"`
	SortOrder      int          `gorm:"default:0" json:"sort_order"`
	IsActive       bool         `gorm:"default:true" json:"is_active"`
	CreatedAt      time.Time    `gorm:"default:now()" json:"created_at"`
}

// TableName specifies the table name for GORM
func (Plan) TableName() string {
	return "plans"
}
