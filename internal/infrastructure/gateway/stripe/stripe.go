package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/paymentintent"
	"github.com/stripe/stripe-go/v79/subscription"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/zap"

	domainErrors "github.com/gastrohub/billing-service/internal/domain/errors"
	"github.com/gastrohub/billing-service/internal/domain/gateway"
)

const GatewayName = "stripe"

// Adapter implements the gateway.Adapter interface on Stripe Billing.
// Recurring charges are delegated to Stripe's own schedule; our cycle
// processor issues off-session PaymentIntents only when it has to settle a
// cycle itself (trial conversion, proration).
type Adapter struct {
	webhookSecret string
	logger        *zap.Logger
}

// New creates a Stripe adapter. The package-level stripe.Key must be set by
// the caller before any request is made.
func New(webhookSecret string, logger *zap.Logger) *Adapter {
	return &Adapter{
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

func (a *Adapter) Name() string {
	return GatewayName
}

func (a *Adapter) CreateSubscription(ctx context.Context, req *gateway.CreateSubscriptionRequest) (*gateway.Result, error) {
	custParams := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Email:  stripe.String(req.Payment.Email),
		Metadata: map[string]string{
			"tenant_id":       req.TenantID.String(),
			"subscription_id": req.SubscriptionID.String(),
		},
	}
	if req.Payment.CardToken != "" {
		custParams.PaymentMethod = stripe.String(req.Payment.CardToken)
		custParams.InvoiceSettings = &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(req.Payment.CardToken),
		}
	}

	cust, err := customer.New(custParams)
	if err != nil {
		return nil, a.wrapError("customer creation failed", err)
	}

	subParams := &stripe.SubscriptionParams{
		Params:   stripe.Params{Context: ctx},
		Customer: stripe.String(cust.ID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(req.GatewayPriceID)},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
		Metadata: map[string]string{
			"subscription_id": req.SubscriptionID.String(),
		},
	}
	subParams.AddExpand("latest_invoice.payment_intent")

	sub, err := subscription.New(subParams)
	if err != nil {
		return nil, a.wrapError("subscription creation failed", err)
	}

	raw, _ := json.Marshal(sub)
	result := &gateway.Result{
		Success:               true,
		Status:                mapSubscriptionStatus(sub.Status),
		GatewaySubscriptionID: sub.ID,
		RawPayload:            raw,
	}
	if sub.LatestInvoice != nil && sub.LatestInvoice.PaymentIntent != nil {
		result.TransactionID = sub.LatestInvoice.PaymentIntent.ID
	}

	a.logger.Info("Stripe subscription created",
		zap.String("stripe_subscription_id", sub.ID),
		zap.String("stripe_customer_id", cust.ID),
		zap.String("status", string(sub.Status)))

	return result, nil
}

// ProcessRecurringCharge settles one cycle with an off-session
// PaymentIntent against the customer's default payment method.
func (a *Adapter) ProcessRecurringCharge(ctx context.Context, req *gateway.ChargeRequest) (*gateway.Result, error) {
	sub, err := subscription.Get(req.GatewaySubscriptionID, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, a.wrapError("subscription lookup failed", err)
	}
	return a.charge(ctx, req, sub.Customer.ID)
}

func (a *Adapter) ProcessOneTimeCharge(ctx context.Context, req *gateway.ChargeRequest) (*gateway.Result, error) {
	if req.GatewaySubscriptionID == "" {
		return nil, &gateway.GatewayError{
			GatewayName: GatewayName,
			Code:        "missing_subscription",
			Message:     "no gateway subscription to resolve a customer from",
		}
	}
	sub, err := subscription.Get(req.GatewaySubscriptionID, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, a.wrapError("subscription lookup failed", err)
	}
	return a.charge(ctx, req, sub.Customer.ID)
}

func (a *Adapter) charge(ctx context.Context, req *gateway.ChargeRequest, customerID string) (*gateway.Result, error) {
	params := &stripe.PaymentIntentParams{
		Params:      stripe.Params{Context: ctx},
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(req.Currency),
		Customer:    stripe.String(customerID),
		Confirm:     stripe.Bool(true),
		OffSession:  stripe.Bool(true),
		Description: stripe.String(req.Description),
		Metadata: map[string]string{
			"subscription_id": req.SubscriptionID.String(),
			"order_id":        req.OrderID,
		},
	}
	params.SetIdempotencyKey(req.OrderID)

	pi, err := paymentintent.New(params)
	if err != nil {
		a.logger.Warn("Stripe charge failed",
			zap.String("customer_id", customerID),
			zap.Int64("amount_cents", req.AmountCents),
			zap.Error(err))
		return nil, a.wrapError("charge failed", err)
	}

	raw, _ := json.Marshal(pi)
	return &gateway.Result{
		Success:       pi.Status == stripe.PaymentIntentStatusSucceeded,
		Status:        gateway.StatusActive,
		TransactionID: pi.ID,
		RawPayload:    raw,
	}, nil
}

func (a *Adapter) CancelSubscription(ctx context.Context, gatewaySubscriptionID string) error {
	_, err := subscription.Cancel(gatewaySubscriptionID, &stripe.SubscriptionCancelParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return a.wrapError("cancellation failed", err)
	}
	return nil
}

func (a *Adapter) ValidateWebhookSignature(payload []byte, signature string) error {
	_, err := webhook.ConstructEventWithOptions(payload, signature, a.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return domainErrors.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) HandleWebhook(ctx context.Context, payload []byte, signature string) (*gateway.WebhookNotification, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, a.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		a.logger.Warn("Stripe webhook signature verification failed", zap.Error(err))
		return nil, domainErrors.ErrInvalidSignature
	}

	notif := &gateway.WebhookNotification{
		EventID:    event.ID,
		Gateway:    GatewayName,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
		Raw:        event.Data.Raw,
	}

	switch event.Type {
	case stripe.EventTypeInvoicePaymentSucceeded, stripe.EventTypeInvoicePaid:
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return nil, fmt.Errorf("failed to parse invoice event: %w", err)
		}
		notif.EventType = gateway.EventChargeSucceeded
		notif.AmountCents = invoice.AmountPaid
		notif.TransactionID = invoice.ID
		if invoice.Subscription != nil {
			notif.GatewaySubscriptionID = invoice.Subscription.ID
		}
		notif.Status = gateway.StatusActive

	case stripe.EventTypeInvoicePaymentFailed:
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return nil, fmt.Errorf("failed to parse invoice event: %w", err)
		}
		notif.EventType = gateway.EventChargeFailed
		notif.AmountCents = invoice.AmountDue
		notif.TransactionID = invoice.ID
		if invoice.Subscription != nil {
			notif.GatewaySubscriptionID = invoice.Subscription.ID
		}

	case stripe.EventTypeCustomerSubscriptionUpdated:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("failed to parse subscription event: %w", err)
		}
		notif.EventType = gateway.EventSubscriptionUpdated
		notif.GatewaySubscriptionID = sub.ID
		notif.Status = mapSubscriptionStatus(sub.Status)

	case stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("failed to parse subscription event: %w", err)
		}
		notif.EventType = gateway.EventSubscriptionDeleted
		notif.GatewaySubscriptionID = sub.ID
		notif.Status = gateway.StatusCanceled

	default:
		notif.EventType = gateway.EventIgnored
	}

	return notif, nil
}

// mapSubscriptionStatus maps Stripe's subscription status onto the
// normalized vocabulary. Statuses with no sensible mapping become unknown.
func mapSubscriptionStatus(status stripe.SubscriptionStatus) gateway.Status {
	switch status {
	case stripe.SubscriptionStatusIncomplete, stripe.SubscriptionStatusTrialing:
		return gateway.StatusPending
	case stripe.SubscriptionStatusActive:
		return gateway.StatusActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return gateway.StatusSuspended
	case stripe.SubscriptionStatusCanceled:
		return gateway.StatusCanceled
	case stripe.SubscriptionStatusIncompleteExpired:
		return gateway.StatusExpired
	default:
		return gateway.StatusUnknown
	}
}

func (a *Adapter) wrapError(msg string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return &gateway.GatewayError{
			GatewayName: GatewayName,
			Code:        string(stripeErr.Code),
			Message:     stripeErr.Msg,
			Raw:         stripeErr.Error(),
		}
	}
	return &gateway.GatewayError{
		GatewayName: GatewayName,
		Message:     fmt.Sprintf("%s: %v", msg, err),
	}
}
