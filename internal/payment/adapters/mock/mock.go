package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	paymentdomain "github.com/smallbiznis/payrail/internal/payment/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "mock"
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	chargeFailRate := readFloat(cfg.Config, "charge_fail_rate", 0.1)
	refundFailRate := readFloat(cfg.Config, "refund_fail_rate", 0.0)
	seed := readInt(cfg.Config, "seed", time.Now().UnixNano())

	return &Adapter{
		chargeFailRate: chargeFailRate,
		refundFailRate: refundFailRate,
		rng:            rand.New(rand.NewSource(seed)),
	}, nil
}

// Adapter simulates a gateway in memory. The failure rate is configurable
// so tests can force deterministic outcomes (0 or 1) with a fixed seed.
type Adapter struct {
	chargeFailRate float64
	refundFailRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

func (a *Adapter) Name() string {
	return "mock"
}

func (a *Adapter) Charge(ctx context.Context, req paymentdomain.ChargeRequest) (paymentdomain.ChargeResult, error) {
	if a.roll(a.chargeFailRate) {
		raw, _ := json.Marshal(map[string]any{
			"id":     "",
			"status": "declined",
			"error":  "card_declined",
		})
		return paymentdomain.ChargeResult{
			Success:     false,
			Status:      paymentdomain.ChargeStatusFailed,
			Error:       "card_declined",
			RawResponse: raw,
		}, nil
	}

	providerPaymentID := fmt.Sprintf("mock_pi_%s", req.PaymentID)
	raw, _ := json.Marshal(map[string]any{
		"id":       providerPaymentID,
		"status":   "succeeded",
		"amount":   req.Amount,
		"currency": req.Currency,
	})
	return paymentdomain.ChargeResult{
		Success:           true,
		ProviderPaymentID: providerPaymentID,
		Status:            paymentdomain.ChargeStatusSucceeded,
		RawResponse:       raw,
	}, nil
}

func (a *Adapter) Refund(ctx context.Context, req paymentdomain.RefundRequest) (paymentdomain.RefundResult, error) {
	if a.roll(a.refundFailRate) {
		raw, _ := json.Marshal(map[string]any{
			"id":     "",
			"status": "failed",
			"error":  "refund_rejected",
		})
		return paymentdomain.RefundResult{
			Success:     false,
			Status:      paymentdomain.RefundStatusFailed,
			Error:       "refund_rejected",
			RawResponse: raw,
		}, nil
	}

	providerRefundID := fmt.Sprintf("mock_re_%s", req.ProviderPaymentID)
	raw, _ := json.Marshal(map[string]any{
		"id":     providerRefundID,
		"status": "completed",
		"amount": req.Amount,
	})
	return paymentdomain.RefundResult{
		Success:          true,
		ProviderRefundID: providerRefundID,
		Status:           paymentdomain.RefundStatusCompleted,
		RawResponse:      raw,
	}, nil
}

// VerifyWebhook accepts every delivery. The mock gateway does not sign.
func (a *Adapter) VerifyWebhook(ctx context.Context, signable []byte, headers http.Header) error {
	return nil
}

func (a *Adapter) SignablePayload(raw []byte, canonical []byte) []byte {
	return raw
}

func (a *Adapter) roll(rate float64) bool {
	if rate <= 0 {
		return false
	}
	if rate >= 1 {
		return true
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rng.Float64() < rate
}

func readFloat(config map[string]any, key string, fallback float64) float64 {
	value, ok := config[key]
	if !ok {
		return fallback
	}
	switch cast := value.(type) {
	case float64:
		return cast
	case int:
		return float64(cast)
	case int64:
		return float64(cast)
	}
	return fallback
}

func readInt(config map[string]any, key string, fallback int64) int64 {
	value, ok := config[key]
	if !ok {
		return fallback
	}
	switch cast := value.(type) {
	case int64:
		return cast
	case int:
		return int64(cast)
	case float64:
		return int64(cast)
	}
	return fallback
}
