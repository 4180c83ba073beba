package mock

import (
	"context"
	"testing"

	paymentdomain "github.com/smallbiznis/payrail/internal/payment/domain"
)

func TestChargeAlwaysSucceedsAtZeroFailRate(t *testing.T) {
	factory := NewFactory()
	adapter, err := factory.NewAdapter(paymentdomain.AdapterConfig{
		Provider: "mock",
		Config:   map[string]any{"charge_fail_rate": 0.0, "seed": int64(1)},
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	for i := 0; i < 50; i++ {
		result, err := adapter.Charge(context.Background(), paymentdomain.ChargeRequest{
			PaymentID: "1",
			Amount:    1000,
			Currency:  "USD",
		})
		if err != nil {
			t.Fatalf("charge: %v", err)
		}
		if !result.Success {
			t.Fatalf("expected success at zero fail rate")
		}
		if result.ProviderPaymentID == "" {
			t.Fatalf("expected provider payment id")
		}
	}
}

func TestChargeAlwaysFailsAtFullFailRate(t *testing.T) {
	factory := NewFactory()
	adapter, err := factory.NewAdapter(paymentdomain.AdapterConfig{
		Provider: "mock",
		Config:   map[string]any{"charge_fail_rate": 1.0, "seed": int64(1)},
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	result, err := adapter.Charge(context.Background(), paymentdomain.ChargeRequest{
		PaymentID: "1",
		Amount:    1000,
		Currency:  "USD",
	})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if result.Success {
		t.Fatalf("expected failure at full fail rate")
	}
	if result.Error != "card_declined" {
		t.Fatalf("unexpected decline reason %q", result.Error)
	}
}

func TestSeededOutcomesAreDeterministic(t *testing.T) {
	factory := NewFactory()
	run := func() []bool {
		adapter, err := factory.NewAdapter(paymentdomain.AdapterConfig{
			Provider: "mock",
			Config:   map[string]any{"charge_fail_rate": 0.5, "seed": int64(7)},
		})
		if err != nil {
			t.Fatalf("new adapter: %v", err)
		}
		outcomes := make([]bool, 0, 20)
		for i := 0; i < 20; i++ {
			result, err := adapter.Charge(context.Background(), paymentdomain.ChargeRequest{PaymentID: "1", Amount: 100, Currency: "USD"})
			if err != nil {
				t.Fatalf("charge: %v", err)
			}
			outcomes = append(outcomes, result.Success)
		}
		return outcomes
	}

	first := run()
	second := run()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("outcome %d diverged between identically seeded runs", i)
		}
	}
}

func TestRefund(t *testing.T) {
	factory := NewFactory()
	adapter, err := factory.NewAdapter(paymentdomain.AdapterConfig{
		Provider: "mock",
		Config:   map[string]any{"refund_fail_rate": 0.0},
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	result, err := adapter.Refund(context.Background(), paymentdomain.RefundRequest{
		ProviderPaymentID: "mock_pi_1",
		Amount:            500,
		Currency:          "USD",
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if !result.Success || result.Status != paymentdomain.RefundStatusCompleted {
		t.Fatalf("expected completed refund, got %+v", result)
	}
}
