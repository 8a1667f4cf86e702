package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the normalized subscription status vocabulary shared by all
// adapters. Provider statuses that do not map onto it become StatusUnknown;
// the caller treats unknown as "no state change, log and alert", never as
// success or failure.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusCanceled  Status = "canceled"
	StatusExpired   Status = "expired"
	StatusUnknown   Status = "unknown"
)

// Adapter encapsulates one external payment provider. Implementations
// translate provider-specific requests, responses and webhooks into the
// normalized vocabulary above.
type Adapter interface {
	// Name returns the gateway identifier stored on subscriptions.
	Name() string

	// CreateSubscription establishes the provider-side subscription.
	CreateSubscription(ctx context.Context, req *CreateSubscriptionRequest) (*Result, error)

	// ProcessRecurringCharge charges one billing cycle.
	ProcessRecurringCharge(ctx context.Context, req *ChargeRequest) (*Result, error)

	// ProcessOneTimeCharge charges an ad-hoc amount (proration).
	ProcessOneTimeCharge(ctx context.Context, req *ChargeRequest) (*Result, error)

	// CancelSubscription cancels the provider-side subscription.
	CancelSubscription(ctx context.Context, gatewaySubscriptionID string) error

	// ValidateWebhookSignature checks the authenticity of an inbound webhook.
	ValidateWebhookSignature(payload []byte, signature string) error

	// HandleWebhook validates and normalizes an inbound provider notification.
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookNotification, error)
}

// PaymentInput carries tokenized payment details collected from the tenant.
// The raw card never transits this service.
type PaymentInput struct {
	Email         string `json:"email"`
	CardToken     string `json:"card_token,omitempty"`
	PaymentMethod string `json:"payment_method,omitempty"` // card, pix, boleto
}

// CreateSubscriptionRequest asks the provider to set up a recurring charge.
type CreateSubscriptionRequest struct {
	SubscriptionID uuid.UUID
	TenantID       uuid.UUID
	PlanID         string
	GatewayPriceID string
	AmountCents    int64
	Currency       string
	Interval       string // monthly, quarterly, yearly
	Payment        PaymentInput
}

// ChargeRequest asks the provider to take a single payment.
type ChargeRequest struct {
	SubscriptionID        uuid.UUID
	GatewaySubscriptionID string
	AmountCents           int64
	Currency              string
	Description           string
	// OrderID is the caller-generated idempotency reference.
	OrderID string
}

// Result is the normalized outcome of a gateway call. RawPayload is kept
// opaque and stored for audit only.
type Result struct {
	Success               bool
	Status                Status
	GatewaySubscriptionID string
	TransactionID         string
	// PaymentURL is set by asynchronous flows (PIX, boleto) where the
	// tenant must complete payment out of band.
	PaymentURL string
	RawPayload json.RawMessage
}

// WebhookNotification is a normalized inbound provider event.
type WebhookNotification struct {
	EventID               string
	Gateway               string
	EventType             string
	GatewaySubscriptionID string
	Status                Status
	AmountCents           int64
	TransactionID         string
	OccurredAt            time.Time
	Raw                   json.RawMessage
}

// ChargeSucceeded reports whether the notification is a successful charge
// event rather than a plain status change.
func (n *WebhookNotification) ChargeSucceeded() bool {
	return n.EventType == EventChargeSucceeded
}

// ChargeFailed reports whether the notification is a failed charge event.
func (n *WebhookNotification) ChargeFailed() bool {
	return n.EventType == EventChargeFailed
}

// Normalized webhook event types.
const (
	EventChargeSucceeded     = "charge_succeeded"
	EventChargeFailed        = "charge_failed"
	EventSubscriptionUpdated = "subscription_updated"
	EventSubscriptionDeleted = "subscription_deleted"
	EventIgnored             = "ignored"
)

// GatewayError carries the provider's error code and message alongside the
// raw response for audit logging.
type GatewayError struct {
	GatewayName string
	Code        string
	Message     string
	Raw         string
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return e.GatewayName + ": " + e.Code + ": " + e.Message
	}
	return e.GatewayName + ": " + e.Message
}
