package adapters

import (
	"strings"

	"github.com/smallbiznis/payrail/internal/config"
	"github.com/smallbiznis/payrail/internal/payment/adapters/mock"
	"github.com/smallbiznis/payrail/internal/payment/adapters/paypal"
	"github.com/smallbiznis/payrail/internal/payment/adapters/stripe"
	"github.com/smallbiznis/payrail/internal/payment/domain"
	"go.uber.org/zap"
)

type Registry struct {
	factories map[string]domain.AdapterFactory
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	registry := &Registry{factories: map[string]domain.AdapterFactory{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := strings.ToLower(strings.TrimSpace(factory.Provider()))
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	return registry
}

func DefaultRegistry() *Registry {
	return NewRegistry(
		mock.NewFactory(),
		stripe.NewFactory(),
		paypal.NewFactory(),
	)
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	_, ok := r.factories[provider]
	return ok
}

func (r *Registry) NewAdapter(provider string, cfg domain.AdapterConfig) (domain.PaymentAdapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	factory, ok := r.factories[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return factory.NewAdapter(cfg)
}

// Resolve builds the adapter named by configuration, falling back to the
// mock gateway when the named provider is unknown or misconfigured.
func (r *Registry) Resolve(cfg config.Config, log *zap.Logger) domain.PaymentAdapter {
	provider := strings.ToLower(strings.TrimSpace(cfg.PaymentProvider))
	if provider == "" {
		provider = "mock"
	}

	adapter, err := r.NewAdapter(provider, AdapterConfigFor(cfg, provider))
	if err != nil {
		log.Warn("payment provider unavailable, using mock gateway",
			zap.String("provider", provider),
			zap.Error(err),
		)
		adapter, err = r.NewAdapter("mock", AdapterConfigFor(cfg, "mock"))
		if err != nil {
			// The mock factory never fails on its defaults.
			panic(err)
		}
	}
	return adapter
}

// AdapterConfigFor maps application configuration onto one provider's
// adapter settings.
func AdapterConfigFor(cfg config.Config, provider string) domain.AdapterConfig {
	settings := map[string]any{}
	switch provider {
	case "stripe":
		settings["api_key"] = cfg.StripeAPIKey
		settings["webhook_secret"] = cfg.StripeWebhookSecret
	case "paypal":
		settings["client_id"] = cfg.PayPalClientID
		settings["client_secret"] = cfg.PayPalClientSecret
		settings["webhook_id"] = cfg.PayPalWebhookID
		settings["base_url"] = cfg.PayPalBaseURL
	case "mock":
		settings["charge_fail_rate"] = cfg.MockChargeFailRate
		settings["refund_fail_rate"] = cfg.MockRefundFailRate
	}
	return domain.AdapterConfig{
		Provider:    provider,
		Environment: cfg.Environment,
		Config:      settings,
	}
}
