package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/gastrohub/billing-service/internal/usecase"
)

type BillingHandler struct {
	processor *usecase.BillingProcessor
	logger    *zap.Logger
}

func NewBillingHandler(processor *usecase.BillingProcessor, logger *zap.Logger) *BillingHandler {
	return &BillingHandler{
		processor: processor,
		logger:    logger,
	}
}

// RunCycle triggers a billing cycle run outside the cron schedule. Safe to
// call while a scheduled run is in flight; settlement is per-subscription
// idempotent.
// POST /api/v1/internal/billing/run
func (h *BillingHandler) RunCycle(c echo.Context) error {
	report, err := h.processor.RunBillingCycle(c.Request().Context())
	if err != nil {
		h.logger.Error("Manual billing cycle failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Billing cycle failed"})
	}

	errs := make([]echo.Map, 0, len(report.Errors))
	for _, e := range report.Errors {
		errs = append(errs, echo.Map{
			"subscription_id": e.SubscriptionID,
			"error":           e.Err.Error(),
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"started_at":  report.StartedAt,
		"finished_at": report.FinishedAt,
		"due":         report.Due,
		"processed":   report.Processed,
		"failed":      report.Failed,
		"errors":      errs,
	})
}
