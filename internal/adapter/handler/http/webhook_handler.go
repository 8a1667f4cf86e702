package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	domainErrors "github.com/gastrohub/billing-service/internal/domain/errors"
	"github.com/gastrohub/billing-service/internal/usecase"
)

// Signature headers by gateway. Each provider names its header differently.
var signatureHeaders = map[string]string{
	"stripe":  "Stripe-Signature",
	"pagarme": "X-Hub-Signature",
}

type WebhookHandler struct {
	service *usecase.WebhookService
	logger  *zap.Logger
}

func NewWebhookHandler(service *usecase.WebhookService, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		service: service,
		logger:  logger,
	}
}

// HandleWebhook ingests a provider notification. Replays are acknowledged
// with 200 so providers stop retrying them.
// POST /webhooks/:gateway
func (h *WebhookHandler) HandleWebhook(c echo.Context) error {
	gatewayName := c.Param("gateway")

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		h.logger.Error("Error reading webhook body", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Error reading request body"})
	}

	header := signatureHeaders[gatewayName]
	if header == "" {
		header = "X-Signature"
	}
	signature := c.Request().Header.Get(header)

	err = h.service.HandleWebhook(c.Request().Context(), gatewayName, body, signature)
	if err != nil {
		switch {
		case errors.Is(err, domainErrors.ErrInvalidSignature):
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Signature verification failed"})
		case errors.Is(err, domainErrors.ErrGatewayUnsupported):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "Unknown gateway"})
		case errors.Is(err, domainErrors.ErrUnknownSubscription):
			// 422 tells the provider the event was authentic but cannot be
			// applied; most providers stop retrying on non-5xx.
			return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "Unknown subscription"})
		}
		h.logger.Error("Webhook processing failed",
			zap.String("gateway", gatewayName),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Webhook processing failed"})
	}

	return c.JSON(http.StatusOK, echo.Map{"received": true})
}
