package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	handlers "github.com/gastrohub/billing-service/internal/adapter/handler/http"
	"github.com/gastrohub/billing-service/internal/config"
	"github.com/gastrohub/billing-service/internal/infrastructure/database"
	"github.com/gastrohub/billing-service/internal/middleware/auth"
	"github.com/gastrohub/billing-service/internal/usecase"
	"github.com/gastrohub/billing-service/pkg/logger"
)

type Server struct {
	config    *config.Config
	logger    *zap.Logger
	echo      *echo.Echo
	repos     *database.Repositories
	service   *usecase.SubscriptionService
	processor *usecase.BillingProcessor
	webhooks  *usecase.WebhookService
}

// requestValidator adapts go-playground/validator to echo's Validator.
type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

func NewServer(
	cfg *config.Config,
	log *zap.Logger,
	repos *database.Repositories,
	service *usecase.SubscriptionService,
	processor *usecase.BillingProcessor,
	webhooks *usecase.WebhookService,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &requestValidator{validate: validator.New()}

	e.Use(logger.NewEchoRequestLogger(log))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{cfg.Service.ClientURL},
		AllowMethods: []string{echo.GET, echo.POST, echo.PUT, echo.DELETE},
	}))

	return &Server{
		config:    cfg,
		logger:    log,
		echo:      e,
		repos:     repos,
		service:   service,
		processor: processor,
		webhooks:  webhooks,
	}
}

func (s *Server) Start() error {
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", s.config.Server.HTTP.Host, s.config.Server.HTTP.Port)
	s.logger.Info("Starting HTTP server", zap.String("address", addr))

	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": "billing",
		})
	})

	plansHandler := handlers.NewPlansHandler(s.repos.Plan, s.logger)
	subscriptionHandler := handlers.NewSubscriptionHandler(s.service, s.repos.Subscription, s.repos.Transaction, s.logger)
	webhookHandler := handlers.NewWebhookHandler(s.webhooks, s.logger)
	billingHandler := handlers.NewBillingHandler(s.processor, s.logger)

	jwtConfig := auth.JWTConfig{
		Secret: s.config.JWT.Secret,
		Logger: s.logger,
	}

	v1 := s.echo.Group("/api/v1")

	// Public: the plan catalog is browsable before sign-in.
	v1.GET("/plans", plansHandler.GetPlans)

	protected := v1.Group("", auth.JWTMiddleware(jwtConfig))

	subscriptions := protected.Group("/subscriptions")
	subscriptions.POST("", subscriptionHandler.CreateSubscription)
	subscriptions.POST("/trial", subscriptionHandler.StartTrial)
	subscriptions.GET("/current", subscriptionHandler.GetCurrentSubscription)
	subscriptions.PUT("/current/plan", subscriptionHandler.ChangePlan)
	subscriptions.DELETE("/current", subscriptionHandler.CancelSubscription)

	internal := protected.Group("/internal")
	internal.POST("/billing/run", billingHandler.RunCycle)

	// Webhooks live outside API versioning; authenticity comes from the
	// provider signature, not a JWT.
	s.echo.POST("/webhooks/:gateway", webhookHandler.HandleWebhook)
}
