package paypal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	paymentdomain "github.com/smallbiznis/payrail/internal/payment/domain"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Adapter) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/oauth2/token" {
			user, pass, ok := r.BasicAuth()
			if !ok || user != "client" || pass != "secret" {
				t.Fatalf("unexpected basic auth %s:%s", user, pass)
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"access_token":"token_1","expires_in":3600}`)
			return
		}
		handler(w, r)
	}))
	adapter := &Adapter{
		clientID:     "client",
		clientSecret: "secret",
		webhookID:    "wh_1",
		baseURL:      server.URL,
		client:       server.Client(),
	}
	return server, adapter
}

func TestChargeCompleted(t *testing.T) {
	server, adapter := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/checkout/orders" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token_1" {
			t.Fatalf("unexpected authorization %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["intent"] != "CAPTURE" {
			t.Fatalf("expected CAPTURE intent, got %v", body["intent"])
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"ord_1","status":"COMPLETED"}`)
	})
	defer server.Close()

	result, err := adapter.Charge(context.Background(), paymentdomain.ChargeRequest{
		PaymentID: "42",
		Amount:    2500,
		Currency:  "usd",
	})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if !result.Success || result.ProviderPaymentID != "ord_1" {
		t.Fatalf("expected completed order, got %+v", result)
	}
}

func TestRefundPendingIsNotSuccess(t *testing.T) {
	server, adapter := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/payments/captures/cap_1/refund" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"ref_1","status":"PENDING"}`)
	})
	defer server.Close()

	result, err := adapter.Refund(context.Background(), paymentdomain.RefundRequest{
		ProviderPaymentID: "cap_1",
		Amount:            500,
		Currency:          "usd",
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if result.Success || result.Status != paymentdomain.RefundStatusPending {
		t.Fatalf("expected pending refund, got %+v", result)
	}
}

func TestVerifyWebhook(t *testing.T) {
	var gotEvent json.RawMessage
	server, adapter := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/notifications/verify-webhook-signature" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var body struct {
			WebhookID    string          `json:"webhook_id"`
			WebhookEvent json.RawMessage `json:"webhook_event"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.WebhookID != "wh_1" {
			t.Fatalf("unexpected webhook id %q", body.WebhookID)
		}
		gotEvent = body.WebhookEvent
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"verification_status":"SUCCESS"}`)
	})
	defer server.Close()

	headers := http.Header{}
	headers.Set("Paypal-Transmission-Id", "tid")
	headers.Set("Paypal-Transmission-Time", "2026-01-01T00:00:00Z")
	headers.Set("Paypal-Transmission-Sig", "sig")
	headers.Set("Paypal-Cert-Url", "https://api.paypal.com/cert")
	headers.Set("Paypal-Auth-Algo", "SHA256withRSA")

	event := []byte(`{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED"}`)
	if err := adapter.VerifyWebhook(context.Background(), event, headers); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if string(gotEvent) != string(event) {
		t.Fatalf("expected event forwarded verbatim, got %s", gotEvent)
	}
}

func TestVerifyWebhookRejected(t *testing.T) {
	server, adapter := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"verification_status":"FAILURE"}`)
	})
	defer server.Close()

	headers := http.Header{}
	headers.Set("Paypal-Transmission-Id", "tid")
	headers.Set("Paypal-Transmission-Time", "2026-01-01T00:00:00Z")
	headers.Set("Paypal-Transmission-Sig", "sig")

	err := adapter.VerifyWebhook(context.Background(), []byte(`{}`), headers)
	if err != paymentdomain.ErrInvalidSignature {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestVerifyWebhookMissingHeaders(t *testing.T) {
	adapter := &Adapter{webhookID: "wh_1"}
	err := adapter.VerifyWebhook(context.Background(), []byte(`{}`), http.Header{})
	if err != paymentdomain.ErrInvalidSignature {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestSignablePayloadUsesCanonicalForm(t *testing.T) {
	adapter := &Adapter{}
	raw := []byte(`{"a": 1}`)
	canonical := []byte(`{"a":1}`)
	if got := adapter.SignablePayload(raw, canonical); string(got) != string(canonical) {
		t.Fatalf("expected canonical payload, got %s", got)
	}
}
