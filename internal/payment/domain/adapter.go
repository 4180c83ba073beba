package domain

import (
	"context"
	"encoding/json"
	"net/http"
)

// AdapterConfig carries the provider-specific settings an adapter factory
// needs. Config keys are provider-defined (api_key, webhook_secret, ...).
type AdapterConfig struct {
	Provider    string
	Environment string
	Config      map[string]any
}

type ChargeStatus string

const (
	ChargeStatusSucceeded ChargeStatus = "succeeded"
	ChargeStatusPending   ChargeStatus = "pending"
	ChargeStatusFailed    ChargeStatus = "failed"
)

type ChargeRequest struct {
	PaymentID       string
	Amount          int64
	Currency        string
	PaymentMethodID string
	Metadata        map[string]any
}

// ChargeResult is the adapter's verdict on a charge attempt. A decline is a
// result, not a Go error: the caller persists it as a failed transaction.
// Transport and gateway failures surface as errors so the caller can retry.
type ChargeResult struct {
	Success           bool
	ProviderPaymentID string
	Status            ChargeStatus
	Error             string
	RawResponse       json.RawMessage
}

type RefundStatus string

const (
	RefundStatusCompleted RefundStatus = "completed"
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusFailed    RefundStatus = "failed"
)

type RefundRequest struct {
	ProviderPaymentID string
	Amount            int64
	Currency          string
	Reason            string
	Metadata          map[string]any
}

type RefundResult struct {
	Success          bool
	ProviderRefundID string
	Status           RefundStatus
	Error            string
	RawResponse      json.RawMessage
}

// PaymentAdapter is the uniform capability contract each gateway satisfies.
type PaymentAdapter interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

// WebhookVerifier is the optional webhook capability. SignablePayload picks
// the representation the provider actually signed: raw wire bytes for
// providers that sign the exact body, a canonical re-serialization for
// providers that sign the parsed object.
type WebhookVerifier interface {
	VerifyWebhook(ctx context.Context, signable []byte, headers http.Header) error
	SignablePayload(raw []byte, canonical []byte) []byte
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}
