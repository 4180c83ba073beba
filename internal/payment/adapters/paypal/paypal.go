package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	paymentdomain "github.com/smallbiznis/payrail/internal/payment/domain"
	"github.com/smallbiznis/payrail/internal/resilience"
)

const (
	liveBaseURL    = "https://api-m.paypal.com"
	sandboxBaseURL = "https://api-m.sandbox.paypal.com"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "paypal"
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	clientID, _ := readString(cfg.Config, "client_id")
	clientSecret, _ := readString(cfg.Config, "client_secret")
	clientID = strings.TrimSpace(clientID)
	clientSecret = strings.TrimSpace(clientSecret)
	if clientID == "" || clientSecret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	webhookID, _ := readString(cfg.Config, "webhook_id")
	baseURL, _ := readString(cfg.Config, "base_url")
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		if strings.EqualFold(cfg.Environment, "production") {
			baseURL = liveBaseURL
		} else {
			baseURL = sandboxBaseURL
		}
	}

	return &Adapter{
		clientID:     clientID,
		clientSecret: clientSecret,
		webhookID:    strings.TrimSpace(webhookID),
		baseURL:      baseURL,
		client:       &http.Client{Timeout: 12 * time.Second},
	}, nil
}

type Adapter struct {
	clientID     string
	clientSecret string
	webhookID    string
	baseURL      string
	client       *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func (a *Adapter) Name() string {
	return "paypal"
}

func (a *Adapter) Charge(ctx context.Context, req paymentdomain.ChargeRequest) (paymentdomain.ChargeResult, error) {
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{
			{
				"reference_id": req.PaymentID,
				"custom_id":    req.PaymentID,
				"amount": map[string]string{
					"currency_code": strings.ToUpper(req.Currency),
					"value":         formatAmount(req.Amount),
				},
			},
		},
	}
	if req.PaymentMethodID != "" {
		body["payment_source"] = map[string]any{
			"token": map[string]string{"id": req.PaymentMethodID, "type": "PAYMENT_METHOD_TOKEN"},
		}
	}

	raw, err := a.doRequest(ctx, http.MethodPost, "/v2/checkout/orders", body, "payment:"+req.PaymentID)
	if err != nil {
		var declined *declineError
		if errors.As(err, &declined) {
			return paymentdomain.ChargeResult{
				Success:     false,
				Status:      paymentdomain.ChargeStatusFailed,
				Error:       declined.Message,
				RawResponse: declined.Raw,
			}, nil
		}
		return paymentdomain.ChargeResult{}, err
	}

	var order paypalOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return paymentdomain.ChargeResult{}, err
	}
	if order.ID == "" {
		return paymentdomain.ChargeResult{}, errors.New("paypal_response_invalid")
	}

	switch order.Status {
	case "COMPLETED":
		return paymentdomain.ChargeResult{
			Success:           true,
			ProviderPaymentID: order.ID,
			Status:            paymentdomain.ChargeStatusSucceeded,
			RawResponse:       raw,
		}, nil
	case "CREATED", "APPROVED", "SAVED", "PAYER_ACTION_REQUIRED":
		return paymentdomain.ChargeResult{
			Success:           false,
			ProviderPaymentID: order.ID,
			Status:            paymentdomain.ChargeStatusPending,
			RawResponse:       raw,
		}, nil
	default:
		return paymentdomain.ChargeResult{
			Success:           false,
			ProviderPaymentID: order.ID,
			Status:            paymentdomain.ChargeStatusFailed,
			Error:             order.Status,
			RawResponse:       raw,
		}, nil
	}
}

func (a *Adapter) Refund(ctx context.Context, req paymentdomain.RefundRequest) (paymentdomain.RefundResult, error) {
	body := map[string]any{
		"amount": map[string]string{
			"currency_code": strings.ToUpper(req.Currency),
			"value":         formatAmount(req.Amount),
		},
	}
	if req.Reason != "" {
		body["note_to_payer"] = req.Reason
	}

	path := "/v2/payments/captures/" + req.ProviderPaymentID + "/refund"
	raw, err := a.doRequest(ctx, http.MethodPost, path, body, "")
	if err != nil {
		var declined *declineError
		if errors.As(err, &declined) {
			return paymentdomain.RefundResult{
				Success:     false,
				Status:      paymentdomain.RefundStatusFailed,
				Error:       declined.Message,
				RawResponse: declined.Raw,
			}, nil
		}
		return paymentdomain.RefundResult{}, err
	}

	var refund paypalRefund
	if err := json.Unmarshal(raw, &refund); err != nil {
		return paymentdomain.RefundResult{}, err
	}
	if refund.ID == "" {
		return paymentdomain.RefundResult{}, errors.New("paypal_response_invalid")
	}

	switch refund.Status {
	case "COMPLETED":
		return paymentdomain.RefundResult{
			Success:          true,
			ProviderRefundID: refund.ID,
			Status:           paymentdomain.RefundStatusCompleted,
			RawResponse:      raw,
		}, nil
	case "PENDING":
		return paymentdomain.RefundResult{
			Success:          false,
			ProviderRefundID: refund.ID,
			Status:           paymentdomain.RefundStatusPending,
			RawResponse:      raw,
		}, nil
	default:
		return paymentdomain.RefundResult{
			Success:          false,
			ProviderRefundID: refund.ID,
			Status:           paymentdomain.RefundStatusFailed,
			Error:            refund.Status,
			RawResponse:      raw,
		}, nil
	}
}

// VerifyWebhook asks PayPal to validate the delivery. PayPal verifies the
// parsed event object, so callers pass the canonical re-serialization.
func (a *Adapter) VerifyWebhook(ctx context.Context, signable []byte, headers http.Header) error {
	if a.webhookID == "" {
		return paymentdomain.ErrInvalidConfig
	}

	transmissionID := strings.TrimSpace(headers.Get("Paypal-Transmission-Id"))
	transmissionTime := strings.TrimSpace(headers.Get("Paypal-Transmission-Time"))
	transmissionSig := strings.TrimSpace(headers.Get("Paypal-Transmission-Sig"))
	certURL := strings.TrimSpace(headers.Get("Paypal-Cert-Url"))
	authAlgo := strings.TrimSpace(headers.Get("Paypal-Auth-Algo"))
	if transmissionID == "" || transmissionTime == "" || transmissionSig == "" {
		return paymentdomain.ErrInvalidSignature
	}

	body := map[string]any{
		"transmission_id":   transmissionID,
		"transmission_time": transmissionTime,
		"transmission_sig":  transmissionSig,
		"cert_url":          certURL,
		"auth_algo":         authAlgo,
		"webhook_id":        a.webhookID,
		"webhook_event":     json.RawMessage(signable),
	}

	raw, err := a.doRequest(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", body, "")
	if err != nil {
		return err
	}

	var result struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return err
	}
	if result.VerificationStatus != "SUCCESS" {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

// SignablePayload returns the canonical re-serialization: PayPal validates
// the parsed event, not the wire bytes.
func (a *Adapter) SignablePayload(raw []byte, canonical []byte) []byte {
	return canonical
}

type paypalOrder struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type paypalRefund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type paypalErrorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

type declineError struct {
	Message string
	Raw     json.RawMessage
}

func (e *declineError) Error() string { return e.Message }

func (a *Adapter) doRequest(ctx context.Context, method string, path string, body map[string]any, requestID string) (json.RawMessage, error) {
	token, err := a.token(ctx)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &resilience.StatusError{Code: resp.StatusCode, Message: "paypal_request_failed"}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var paypalErr paypalErrorResponse
		_ = json.Unmarshal(raw, &paypalErr)
		message := strings.TrimSpace(paypalErr.Message)
		if message == "" {
			message = "paypal_request_failed"
		}
		if resp.StatusCode == http.StatusUnprocessableEntity {
			return nil, &declineError{Message: message, Raw: raw}
		}
		return nil, &resilience.StatusError{Code: resp.StatusCode, Message: message}
	}
	return raw, nil
}

// token fetches a client-credentials access token and caches it until a
// minute before expiry.
func (a *Adapter) token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.accessToken != "" && time.Now().Before(a.tokenExpiry) {
		return a.accessToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/oauth2/token", strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(a.clientID, a.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", &resilience.StatusError{Code: resp.StatusCode, Message: "paypal_auth_failed"}
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.AccessToken == "" {
		return "", errors.New("paypal_auth_failed")
	}

	a.accessToken = payload.AccessToken
	a.tokenExpiry = time.Now().Add(time.Duration(payload.ExpiresIn)*time.Second - time.Minute)
	return a.accessToken, nil
}

func formatAmount(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}
