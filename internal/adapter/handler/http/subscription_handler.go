package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	domainErrors "github.com/gastrohub/billing-service/internal/domain/errors"
	"github.com/gastrohub/billing-service/internal/domain/gateway"
	"github.com/gastrohub/billing-service/internal/domain/repository"
	"github.com/gastrohub/billing-service/internal/middleware/auth"
	"github.com/gastrohub/billing-service/internal/usecase"
)

type SubscriptionHandler struct {
	service *usecase.SubscriptionService
	subs    repository.SubscriptionRepository
	txs     repository.TransactionRepository
	logger  *zap.Logger
}

func NewSubscriptionHandler(service *usecase.SubscriptionService, subs repository.SubscriptionRepository, txs repository.TransactionRepository, logger *zap.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		service: service,
		subs:    subs,
		txs:     txs,
		logger:  logger,
	}
}

type createSubscriptionRequest struct {
	PlanID        string `json:"plan_id" validate:"required"`
	Gateway       string `json:"gateway,omitempty"`
	Email         string `json:"email,omitempty" validate:"omitempty,email"`
	CardToken     string `json:"card_token,omitempty"`
	PaymentMethod string `json:"payment_method,omitempty" validate:"omitempty,oneof=card credit_card pix boleto"`
}

// CreateSubscription signs the tenant up for a plan.
// POST /api/v1/subscriptions
func (h *SubscriptionHandler) CreateSubscription(c echo.Context) error {
	tenantID, err := auth.GetTenantID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Authentication required"})
	}

	var req createSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	sub, err := h.service.Create(c.Request().Context(), tenantID, req.PlanID, req.Gateway, gateway.PaymentInput{
		Email:         req.Email,
		CardToken:     req.CardToken,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		return h.errorResponse(c, err)
	}

	return c.JSON(http.StatusCreated, sub)
}

type startTrialRequest struct {
	PlanID string `json:"plan_id" validate:"required"`
}

// StartTrial starts the tenant's lifetime trial.
// POST /api/v1/subscriptions/trial
func (h *SubscriptionHandler) StartTrial(c echo.Context) error {
	tenantID, err := auth.GetTenantID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Authentication required"})
	}

	var req startTrialRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	sub, err := h.service.StartTrial(c.Request().Context(), tenantID, req.PlanID)
	if err != nil {
		return h.errorResponse(c, err)
	}

	return c.JSON(http.StatusCreated, sub)
}

// GetCurrentSubscription returns the tenant's live subscription along with
// its recent ledger entries.
// GET /api/v1/subscriptions/current
func (h *SubscriptionHandler) GetCurrentSubscription(c echo.Context) error {
	tenantID, err := auth.GetTenantID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Authentication required"})
	}

	sub, err := h.subs.GetCurrentByTenant(c.Request().Context(), tenantID)
	if err != nil {
		return h.errorResponse(c, err)
	}
	if sub == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "No active subscription"})
	}

	txs, err := h.txs.ListBySubscription(c.Request().Context(), sub.ID, 20)
	if err != nil {
		h.logger.Warn("Failed to load transactions for subscription",
			zap.String("subscription_id", sub.ID.String()),
			zap.Error(err))
	}

	return c.JSON(http.StatusOK, echo.Map{
		"subscription": sub,
		"transactions": txs,
	})
}

type changePlanRequest struct {
	PlanID string `json:"plan_id" validate:"required"`
}

// ChangePlan moves the tenant's subscription to a new plan.
// PUT /api/v1/subscriptions/current/plan
func (h *SubscriptionHandler) ChangePlan(c echo.Context) error {
	tenantID, err := auth.GetTenantID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Authentication required"})
	}

	var req changePlanRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	current, err := h.subs.GetCurrentByTenant(c.Request().Context(), tenantID)
	if err != nil {
		return h.errorResponse(c, err)
	}
	if current == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "No active subscription"})
	}

	sub, prorated, err := h.service.ChangePlan(c.Request().Context(), current.ID, req.PlanID)
	if err != nil {
		return h.errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"subscription":   sub,
		"prorated_cents": prorated,
	})
}

// CancelSubscription cancels the tenant's subscription. With
// ?immediate=true access ends now; otherwise at period end.
// DELETE /api/v1/subscriptions/current
func (h *SubscriptionHandler) CancelSubscription(c echo.Context) error {
	tenantID, err := auth.GetTenantID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Authentication required"})
	}

	current, err := h.subs.GetCurrentByTenant(c.Request().Context(), tenantID)
	if err != nil {
		return h.errorResponse(c, err)
	}
	if current == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "No active subscription"})
	}

	immediate := c.QueryParam("immediate") == "true"
	sub, err := h.service.Cancel(c.Request().Context(), current.ID, immediate)
	if err != nil {
		return h.errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, sub)
}

// errorResponse maps domain errors onto HTTP statuses.
func (h *SubscriptionHandler) errorResponse(c echo.Context, err error) error {
	if pe, ok := domainErrors.AsPaymentError(err); ok {
		return c.JSON(http.StatusPaymentRequired, echo.Map{
			"error":        pe.Message,
			"code":         "PAYMENT_FAILED",
			"gateway":      pe.Gateway,
			"gateway_code": pe.Code,
			"amount_cents": pe.AmountCents,
			"currency":     pe.Currency,
		})
	}

	switch {
	case errors.Is(err, domainErrors.ErrDuplicateSubscription):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error(), "code": "DUPLICATE_SUBSCRIPTION"})
	case errors.Is(err, domainErrors.ErrTrialAlreadyUsed):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error(), "code": "TRIAL_ALREADY_USED"})
	case errors.Is(err, domainErrors.ErrTrialNotAvailable):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error(), "code": "TRIAL_NOT_AVAILABLE"})
	case errors.Is(err, domainErrors.ErrAlreadyCanceled):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error(), "code": "ALREADY_CANCELED"})
	case errors.Is(err, domainErrors.ErrSubscriptionNotActive):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error(), "code": "SUBSCRIPTION_NOT_ACTIVE"})
	case errors.Is(err, domainErrors.ErrPeriodEnded):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error(), "code": "PERIOD_ENDED"})
	case errors.Is(err, domainErrors.ErrPlanNotFound), errors.Is(err, domainErrors.ErrSubscriptionNotFound), errors.Is(err, domainErrors.ErrTenantNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error(), "code": "NOT_FOUND"})
	case errors.Is(err, domainErrors.ErrGatewayUnsupported):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error(), "code": "GATEWAY_UNSUPPORTED"})
	}

	h.logger.Error("Unhandled error in subscription handler", zap.Error(err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Internal server error"})
}
