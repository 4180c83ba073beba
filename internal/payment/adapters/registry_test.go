package adapters

import (
	"testing"

	"github.com/smallbiznis/payrail/internal/config"
	"go.uber.org/zap"
)

func TestResolveNamedProvider(t *testing.T) {
	registry := DefaultRegistry()
	cfg := config.Config{
		PaymentProvider: "stripe",
		StripeAPIKey:    "sk_test",
	}

	adapter := registry.Resolve(cfg, zap.NewNop())
	if adapter.Name() != "stripe" {
		t.Fatalf("expected stripe adapter, got %s", adapter.Name())
	}
}

func TestResolveFallsBackToMock(t *testing.T) {
	registry := DefaultRegistry()

	tests := []struct {
		name string
		cfg  config.Config
	}{
		{name: "unknown provider", cfg: config.Config{PaymentProvider: "square"}},
		{name: "misconfigured provider", cfg: config.Config{PaymentProvider: "stripe"}},
		{name: "empty provider", cfg: config.Config{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := registry.Resolve(tt.cfg, zap.NewNop())
			if adapter.Name() != "mock" {
				t.Fatalf("expected mock fallback, got %s", adapter.Name())
			}
		})
	}
}

func TestProviderExists(t *testing.T) {
	registry := DefaultRegistry()
	for _, provider := range []string{"mock", "stripe", "paypal", " Stripe "} {
		if !registry.ProviderExists(provider) {
			t.Fatalf("expected provider %q to exist", provider)
		}
	}
	if registry.ProviderExists("square") {
		t.Fatalf("did not expect square to exist")
	}
}
