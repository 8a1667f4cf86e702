package gateway

import (
	"sort"

	stripesdk "github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"github.com/gastrohub/billing-service/internal/config"
	domainErrors "github.com/gastrohub/billing-service/internal/domain/errors"
	"github.com/gastrohub/billing-service/internal/domain/gateway"
	"github.com/gastrohub/billing-service/internal/infrastructure/gateway/pagarme"
	"github.com/gastrohub/billing-service/internal/infrastructure/gateway/stripe"
)

// Registry is the gateway.Router implementation: a fixed name-to-adapter
// map assembled at startup. Registration is not concurrent with lookup, so
// no locking is needed.
type Registry struct {
	adapters map[string]gateway.Adapter
}

func NewRegistry(adapters ...gateway.Adapter) *Registry {
	r := &Registry{adapters: make(map[string]gateway.Adapter)}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *Registry) Adapter(name string) (gateway.Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, domainErrors.ErrGatewayUnsupported
	}
	return a, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// BuildRegistry assembles the registry from configuration. Gateways without
// credentials are skipped so a deployment can run with a single provider.
func BuildRegistry(cfg config.GatewaysConfig, logger *zap.Logger) *Registry {
	var adapters []gateway.Adapter

	if cfg.Stripe.SecretKey != "" {
		stripesdk.Key = cfg.Stripe.SecretKey
		adapters = append(adapters, stripe.New(cfg.Stripe.WebhookSecret, logger))
	}
	if cfg.Pagarme.APIKey != "" {
		adapters = append(adapters, pagarme.New(cfg.Pagarme.APIKey, cfg.Pagarme.WebhookSecret, cfg.Pagarme.BaseURL, logger))
	}

	registry := NewRegistry(adapters...)
	logger.Info("payment gateways registered",
		zap.Strings("gateways", registry.Names()),
		zap.String("default", cfg.Default))
	return registry
}
