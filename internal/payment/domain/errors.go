package domain

import "errors"

var (
	ErrPaymentNotFound    = errors.New("payment_not_found")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidCurrency    = errors.New("invalid_currency")
	ErrInvalidOrder       = errors.New("invalid_order")
	ErrForbidden          = errors.New("forbidden")
	ErrDuplicatePayment   = errors.New("duplicate_active_payment")
	ErrAmountMismatch     = errors.New("amount_mismatch")
	ErrNotProcessable     = errors.New("payment_not_processable")
	ErrNotCancellable     = errors.New("payment_not_cancellable")
	ErrNotRefundable      = errors.New("payment_not_refundable")
	ErrRefundExceeded     = errors.New("refund_exceeds_balance")
	ErrInvalidProvider    = errors.New("invalid_provider")
	ErrProviderNotFound   = errors.New("provider_not_found")
	ErrInvalidConfig      = errors.New("invalid_provider_config")
	ErrInvalidPayload     = errors.New("invalid_payload")
	ErrInvalidEvent       = errors.New("invalid_event")
	ErrInvalidSignature   = errors.New("invalid_signature")
	ErrEventIgnored       = errors.New("event_ignored")
	ErrMissingProviderRef = errors.New("missing_provider_payment_id")
)
