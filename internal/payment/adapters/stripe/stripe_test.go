package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	paymentdomain "github.com/smallbiznis/payrail/internal/payment/domain"
)

func TestVerifyWebhookSignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","type":"payment_intent.succeeded","data":{"object":{}}}`)
	timestamp := time.Now().Unix()

	header := buildSignatureHeader(secret, payload, timestamp)
	reqHeader := http.Header{}
	reqHeader.Set("Stripe-Signature", header)

	adapter := &Adapter{webhookSecret: secret}
	if err := adapter.VerifyWebhook(context.Background(), payload, reqHeader); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}

	reqHeader.Set("Stripe-Signature", buildSignatureHeader("wrong", payload, timestamp))
	if err := adapter.VerifyWebhook(context.Background(), payload, reqHeader); err == nil {
		t.Fatalf("expected invalid signature error")
	}

	tampered := append([]byte{}, payload...)
	tampered[len(tampered)-2] = 'x'
	reqHeader.Set("Stripe-Signature", header)
	if err := adapter.VerifyWebhook(context.Background(), tampered, reqHeader); err == nil {
		t.Fatalf("expected tampered payload to fail verification")
	}
}

func TestVerifyWebhookMissingSecret(t *testing.T) {
	adapter := &Adapter{}
	err := adapter.VerifyWebhook(context.Background(), []byte("{}"), http.Header{})
	if err != paymentdomain.ErrInvalidConfig {
		t.Fatalf("expected invalid config, got %v", err)
	}
}

func TestChargeSucceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment_intents" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test" {
			t.Fatalf("unexpected authorization header %q", got)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "payment:42" {
			t.Fatalf("unexpected idempotency key %q", got)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("amount"); got != "2500" {
			t.Fatalf("unexpected amount %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"pi_1","status":"succeeded"}`)
	}))
	defer server.Close()

	adapter := &Adapter{apiKey: "sk_test", baseURL: server.URL, client: server.Client()}
	result, err := adapter.Charge(context.Background(), paymentdomain.ChargeRequest{
		PaymentID: "42",
		Amount:    2500,
		Currency:  "USD",
	})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if !result.Success || result.Status != paymentdomain.ChargeStatusSucceeded {
		t.Fatalf("expected succeeded result, got %+v", result)
	}
	if result.ProviderPaymentID != "pi_1" {
		t.Fatalf("expected provider payment id pi_1, got %s", result.ProviderPaymentID)
	}
}

func TestChargeDeclinedIsResultNotError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, `{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`)
	}))
	defer server.Close()

	adapter := &Adapter{apiKey: "sk_test", baseURL: server.URL, client: server.Client()}
	result, err := adapter.Charge(context.Background(), paymentdomain.ChargeRequest{
		PaymentID: "42",
		Amount:    2500,
		Currency:  "USD",
	})
	if err != nil {
		t.Fatalf("decline should not be an error, got %v", err)
	}
	if result.Success || result.Status != paymentdomain.ChargeStatusFailed {
		t.Fatalf("expected failed result, got %+v", result)
	}
	if result.Error != "Your card was declined." {
		t.Fatalf("unexpected decline message %q", result.Error)
	}
}

func TestChargeGatewayErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	adapter := &Adapter{apiKey: "sk_test", baseURL: server.URL, client: server.Client()}
	_, err := adapter.Charge(context.Background(), paymentdomain.ChargeRequest{
		PaymentID: "42",
		Amount:    2500,
		Currency:  "USD",
	})
	if err == nil {
		t.Fatalf("expected error on gateway failure")
	}
}

func TestRefundCompleted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/refunds" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("payment_intent"); got != "pi_1" {
			t.Fatalf("unexpected payment_intent %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"re_1","status":"succeeded"}`)
	}))
	defer server.Close()

	adapter := &Adapter{apiKey: "sk_test", baseURL: server.URL, client: server.Client()}
	result, err := adapter.Refund(context.Background(), paymentdomain.RefundRequest{
		ProviderPaymentID: "pi_1",
		Amount:            1200,
		Currency:          "USD",
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if !result.Success || result.Status != paymentdomain.RefundStatusCompleted {
		t.Fatalf("expected completed result, got %+v", result)
	}
}

func buildSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}
