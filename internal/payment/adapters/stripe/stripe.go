package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/payrail/internal/payment/domain"
	"github.com/smallbiznis/payrail/internal/resilience"
)

const defaultBaseURL = "https://api.stripe.com"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "stripe"
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	apiKey, _ := readString(cfg.Config, "api_key")
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	webhookSecret, _ := readString(cfg.Config, "webhook_secret")
	baseURL, _ := readString(cfg.Config, "base_url")
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Adapter{
		apiKey:        apiKey,
		webhookSecret: strings.TrimSpace(webhookSecret),
		baseURL:       baseURL,
		client:        &http.Client{Timeout: 12 * time.Second},
	}, nil
}

type Adapter struct {
	apiKey        string
	webhookSecret string
	baseURL       string
	client        *http.Client
}

func (a *Adapter) Name() string {
	return "stripe"
}

func (a *Adapter) Charge(ctx context.Context, req paymentdomain.ChargeRequest) (paymentdomain.ChargeResult, error) {
	values := url.Values{}
	values.Set("amount", strconv.FormatInt(req.Amount, 10))
	values.Set("currency", strings.ToLower(req.Currency))
	values.Set("confirm", "true")
	values.Set("automatic_payment_methods[enabled]", "false")
	values.Set("payment_method_types[]", "card")
	if req.PaymentMethodID != "" {
		values.Set("payment_method", req.PaymentMethodID)
	}
	values.Set("metadata[payment_id]", req.PaymentID)
	for key, value := range req.Metadata {
		if s, ok := value.(string); ok {
			values.Set("metadata["+key+"]", s)
		}
	}

	raw, intent, err := a.doRequest(ctx, http.MethodPost, "/v1/payment_intents", values, "payment:"+req.PaymentID)
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

	switch intent.Status {
	case "succeeded":
		return paymentdomain.ChargeResult{
			Success:           true,
			ProviderPaymentID: intent.ID,
			Status:            paymentdomain.ChargeStatusSucceeded,
			RawResponse:       raw,
		}, nil
	case "processing", "requires_action", "requires_confirmation":
		return paymentdomain.ChargeResult{
			Success:           false,
			ProviderPaymentID: intent.ID,
			Status:            paymentdomain.ChargeStatusPending,
			RawResponse:       raw,
		}, nil
	default:
		return paymentdomain.ChargeResult{
			Success:           false,
			ProviderPaymentID: intent.ID,
			Status:            paymentdomain.ChargeStatusFailed,
			Error:             intent.Status,
			RawResponse:       raw,
		}, nil
	}
}

func (a *Adapter) Refund(ctx context.Context, req paymentdomain.RefundRequest) (paymentdomain.RefundResult, error) {
	values := url.Values{}
	values.Set("payment_intent", req.ProviderPaymentID)
	values.Set("amount", strconv.FormatInt(req.Amount, 10))
	if req.Reason != "" {
		values.Set("metadata[reason]", req.Reason)
	}

	raw, refund, err := a.doRequest(ctx, http.MethodPost, "/v1/refunds", values, "")
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

	switch refund.Status {
	case "succeeded":
		return paymentdomain.RefundResult{
			Success:          true,
			ProviderRefundID: refund.ID,
			Status:           paymentdomain.RefundStatusCompleted,
			RawResponse:      raw,
		}, nil
	case "pending":
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

// VerifyWebhook checks the Stripe-Signature header against the raw request
// body. Stripe signs "<timestamp>.<body>" with HMAC-SHA256.
func (a *Adapter) VerifyWebhook(ctx context.Context, signable []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return paymentdomain.ErrInvalidConfig
	}
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(signable))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return paymentdomain.ErrInvalidSignature
}

// SignablePayload returns the raw wire bytes: Stripe signs the exact body.
func (a *Adapter) SignablePayload(raw []byte, canonical []byte) []byte {
	return raw
}

type stripeObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// declineError marks a 402-class rejection the gateway settled on. It is
// unwrapped into a failed result rather than propagated.
type declineError struct {
	Message string
	Raw     json.RawMessage
}

func (e *declineError) Error() string { return e.Message }

func (a *Adapter) doRequest(ctx context.Context, method string, path string, values url.Values, idempotencyKey string) (json.RawMessage, stripeObject, error) {
	body := ""
	if values != nil {
		body = values.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, strings.NewReader(body))
	if err != nil {
		return nil, stripeObject{}, err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, stripeObject{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, stripeObject{}, err
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, stripeObject{}, &resilience.StatusError{
			Code:    resp.StatusCode,
			Message: "stripe_request_failed",
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var stripeErr stripeErrorResponse
		_ = json.Unmarshal(raw, &stripeErr)
		message := strings.TrimSpace(stripeErr.Error.Message)
		if message == "" {
			message = "stripe_request_failed"
		}
		if resp.StatusCode == http.StatusPaymentRequired || stripeErr.Error.Type == "card_error" {
			return nil, stripeObject{}, &declineError{Message: message, Raw: raw}
		}
		return nil, stripeObject{}, &resilience.StatusError{Code: resp.StatusCode, Message: message}
	}

	var object stripeObject
	if err := json.Unmarshal(raw, &object); err != nil {
		return nil, stripeObject{}, err
	}
	if object.ID == "" {
		return nil, stripeObject{}, errors.New("stripe_response_invalid")
	}
	return raw, object, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}
