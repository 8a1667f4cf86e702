package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/gastrohub/billing-service/internal/domain/repository"
)

type PlansHandler struct {
	plans  repository.PlanRepository
	logger *zap.Logger
}

func NewPlansHandler(plans repository.PlanRepository, logger *zap.Logger) *PlansHandler {
	return &PlansHandler{
		plans:  plans,
		logger: logger,
	}
}

// GetPlans lists the active plan catalog. Public, so restaurants can browse
// pricing before signing in.
// GET /api/v1/plans
func (h *PlansHandler) GetPlans(c echo.Context) error {
	plans, err := h.plans.ListActive(c.Request().Context())
	if err != nil {
		h.logger.Error("Failed to list plans", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Failed to load plans"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"plans": plans,
		"count": len(plans),
	})
}
