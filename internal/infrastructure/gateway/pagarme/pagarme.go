package pagarme

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	domainErrors "github.com/gastrohub/billing-service/internal/domain/errors"
	"github.com/gastrohub/billing-service/internal/domain/gateway"
)

const (
	GatewayName = "pagarme"

	defaultBaseURL = "https://api.pagar.me/core/v5"
)

// Adapter implements the gateway.Adapter interface on the Pagar.me v5 API.
// Unlike Stripe, Pagar.me card subscriptions confirm synchronously; PIX and
// boleto flows return a payment URL and confirm through the webhook stream.
type Adapter struct {
	apiKey        string
	webhookSecret string
	baseURL       string
	client        *http.Client
	logger        *zap.Logger
}

func New(apiKey, webhookSecret, baseURL string, logger *zap.Logger) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
		baseURL:       baseURL,
		client:        &http.Client{Timeout: 60 * time.Second},
		logger:        logger,
	}
}

func (a *Adapter) Name() string {
	return GatewayName
}

// CreateSubscription creates a Pagar.me subscription.
// POST /subscriptions
func (a *Adapter) CreateSubscription(ctx context.Context, req *gateway.CreateSubscriptionRequest) (*gateway.Result, error) {
	paymentMethod := req.Payment.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = "credit_card"
	}

	interval, intervalCount := mapInterval(req.Interval)
	body := map[string]interface{}{
		"code":           req.SubscriptionID.String(),
		"payment_method": paymentMethod,
		"interval":       interval,
		"interval_count": intervalCount,
		"billing_type":   "prepaid",
		"customer": map[string]interface{}{
			"email": req.Payment.Email,
			"code":  req.TenantID.String(),
		},
		"items": []map[string]interface{}{
			{
				"description": req.PlanID,
				"quantity":    1,
				"pricing_scheme": map[string]interface{}{
					"price": req.AmountCents,
				},
			},
		},
	}
	if req.Payment.CardToken != "" {
		body["card_token"] = req.Payment.CardToken
	}

	respBody, err := a.post(ctx, "/subscriptions", body)
	if err != nil {
		return nil, err
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &gateway.GatewayError{
			GatewayName: GatewayName,
			Code:        "PARSE_ERROR",
			Message:     "failed to parse subscription response",
			Raw:         string(respBody),
		}
	}

	status := mapStatus(getStringFromMap(resp, "status"))
	result := &gateway.Result{
		Success:               status == gateway.StatusActive || status == gateway.StatusPending,
		Status:                status,
		GatewaySubscriptionID: getStringFromMap(resp, "id"),
		RawPayload:            respBody,
	}
	if checkout, ok := resp["checkout"].(map[string]interface{}); ok {
		result.PaymentURL = getStringFromMap(checkout, "payment_url")
	}

	a.logger.Info("Pagarme subscription created",
		zap.String("pagarme_subscription_id", result.GatewaySubscriptionID),
		zap.String("status", string(status)),
		zap.String("payment_method", paymentMethod))

	return result, nil
}

// ProcessRecurringCharge charges one billing cycle.
// POST /charges
func (a *Adapter) ProcessRecurringCharge(ctx context.Context, req *gateway.ChargeRequest) (*gateway.Result, error) {
	return a.charge(ctx, req)
}

func (a *Adapter) ProcessOneTimeCharge(ctx context.Context, req *gateway.ChargeRequest) (*gateway.Result, error) {
	return a.charge(ctx, req)
}

func (a *Adapter) charge(ctx context.Context, req *gateway.ChargeRequest) (*gateway.Result, error) {
	body := map[string]interface{}{
		"code":     req.OrderID,
		"amount":   req.AmountCents,
		"currency": req.Currency,
		"metadata": map[string]string{
			"subscription_id": req.SubscriptionID.String(),
			"description":     req.Description,
		},
		"subscription_id": req.GatewaySubscriptionID,
	}

	respBody, err := a.post(ctx, "/charges", body)
	if err != nil {
		return nil, err
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &gateway.GatewayError{
			GatewayName: GatewayName,
			Code:        "PARSE_ERROR",
			Message:     "failed to parse charge response",
			Raw:         string(respBody),
		}
	}

	chargeStatus := getStringFromMap(resp, "status")
	success := chargeStatus == "paid"

	result := &gateway.Result{
		Success:       success,
		Status:        gateway.StatusActive,
		TransactionID: getStringFromMap(resp, "id"),
		RawPayload:    respBody,
	}
	if !success {
		a.logger.Warn("Pagarme charge not paid",
			zap.String("order_id", req.OrderID),
			zap.String("charge_status", chargeStatus),
			zap.Int64("amount_cents", req.AmountCents))
	}
	return result, nil
}

// CancelSubscription cancels the provider-side subscription.
// DELETE /subscriptions/{id}
func (a *Adapter) CancelSubscription(ctx context.Context, gatewaySubscriptionID string) error {
	url := fmt.Sprintf("%s/subscriptions/%s", a.baseURL, gatewaySubscriptionID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	a.setHeaders(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return &gateway.GatewayError{
			GatewayName: GatewayName,
			Code:        "API_ERROR",
			Message:     "cancellation request failed",
			Raw:         err.Error(),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return a.errorFromResponse(resp.StatusCode, respBody)
	}
	return nil
}

// ValidateWebhookSignature checks the hex-encoded HMAC-SHA256 of the body
// carried in the X-Hub-Signature header.
func (a *Adapter) ValidateWebhookSignature(payload []byte, signature string) error {
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return domainErrors.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) HandleWebhook(ctx context.Context, payload []byte, signature string) (*gateway.WebhookNotification, error) {
	if err := a.ValidateWebhookSignature(payload, signature); err != nil {
		a.logger.Warn("Pagarme webhook signature verification failed")
		return nil, err
	}

	var event map[string]interface{}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}

	notif := &gateway.WebhookNotification{
		EventID:    getStringFromMap(event, "id"),
		Gateway:    GatewayName,
		OccurredAt: time.Now().UTC(),
		Raw:        payload,
	}
	if created := getStringFromMap(event, "created_at"); created != "" {
		if parsed, err := time.Parse(time.RFC3339, created); err == nil {
			notif.OccurredAt = parsed.UTC()
		}
	}

	data, _ := event["data"].(map[string]interface{})

	switch eventType := getStringFromMap(event, "type"); eventType {
	case "charge.paid", "invoice.paid":
		notif.EventType = gateway.EventChargeSucceeded
		notif.Status = gateway.StatusActive
		notif.TransactionID = getStringFromMap(data, "id")
		if amount, ok := data["amount"].(float64); ok {
			notif.AmountCents = int64(amount)
		}
		notif.GatewaySubscriptionID = subscriptionIDFromData(data)

	case "charge.payment_failed", "invoice.payment_failed":
		notif.EventType = gateway.EventChargeFailed
		notif.TransactionID = getStringFromMap(data, "id")
		if amount, ok := data["amount"].(float64); ok {
			notif.AmountCents = int64(amount)
		}
		notif.GatewaySubscriptionID = subscriptionIDFromData(data)

	case "subscription.canceled":
		notif.EventType = gateway.EventSubscriptionDeleted
		notif.Status = gateway.StatusCanceled
		notif.GatewaySubscriptionID = getStringFromMap(data, "id")

	case "subscription.updated":
		notif.EventType = gateway.EventSubscriptionUpdated
		notif.Status = mapStatus(getStringFromMap(data, "status"))
		notif.GatewaySubscriptionID = getStringFromMap(data, "id")

	default:
		notif.EventType = gateway.EventIgnored
	}

	return notif, nil
}

func (a *Adapter) post(ctx context.Context, path string, body map[string]interface{}) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	a.setHeaders(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		a.logger.Error("Pagarme API request failed",
			zap.String("path", path),
			zap.Error(err))
		return nil, &gateway.GatewayError{
			GatewayName: GatewayName,
			Code:        "API_ERROR",
			Message:     "Pagarme API request failed",
			Raw:         err.Error(),
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.logger.Error("Pagarme API returned an error",
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(respBody)))
		return nil, a.errorFromResponse(resp.StatusCode, respBody)
	}

	return respBody, nil
}

func (a *Adapter) setHeaders(req *http.Request) {
	auth := base64.StdEncoding.EncodeToString([]byte(a.apiKey + ":"))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/json")
}

func (a *Adapter) errorFromResponse(statusCode int, respBody []byte) error {
	var errResp map[string]interface{}
	json.Unmarshal(respBody, &errResp)

	message := getStringFromMap(errResp, "message")
	if message == "" {
		message = fmt.Sprintf("unexpected status %d", statusCode)
	}
	return &gateway.GatewayError{
		GatewayName: GatewayName,
		Code:        fmt.Sprintf("HTTP_%d", statusCode),
		Message:     message,
		Raw:         string(respBody),
	}
}

// subscriptionIDFromData digs the subscription id out of a charge or
// invoice payload.
func subscriptionIDFromData(data map[string]interface{}) string {
	if data == nil {
		return ""
	}
	if sub, ok := data["subscription"].(map[string]interface{}); ok {
		return getStringFromMap(sub, "id")
	}
	if inv, ok := data["invoice"].(map[string]interface{}); ok {
		if sub, ok := inv["subscription"].(map[string]interface{}); ok {
			return getStringFromMap(sub, "id")
		}
	}
	return getStringFromMap(data, "subscription_id")
}

func mapInterval(interval string) (string, int) {
	switch interval {
	case "yearly":
		return "year", 1
	case "quarterly":
		// Pagar.me has no quarter interval; three months per cycle.
		return "month", 3
	default:
		return "month", 1
	}
}

// mapStatus maps Pagar.me subscription statuses onto the normalized
// vocabulary.
func mapStatus(status string) gateway.Status {
	switch status {
	case "future", "pending":
		return gateway.StatusPending
	case "active":
		return gateway.StatusActive
	case "past_due", "unpaid":
		return gateway.StatusSuspended
	case "canceled":
		return gateway.StatusCanceled
	case "expired":
		return gateway.StatusExpired
	default:
		return gateway.StatusUnknown
	}
}

func getStringFromMap(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
