package domain

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
)

type CreatePaymentRequest struct {
	OrderID         string
	UserID          string
	Amount          int64
	Currency        string
	PaymentMethodID string
	Description     string
	Metadata        map[string]any
	// IdempotencyKey collapses retried submissions onto one payment. When
	// empty a deterministic key is derived from the request itself.
	IdempotencyKey string
	// Token is the caller's bearer token, forwarded to the order service.
	Token string
}

// Service creates, processes, cancels and reads payments.
type Service interface {
	Create(ctx context.Context, req CreatePaymentRequest) (*Payment, error)
	Process(ctx context.Context, paymentID snowflake.ID, token string) (*Payment, error)
	Cancel(ctx context.Context, paymentID snowflake.ID, reason string) (*Payment, error)
	Get(ctx context.Context, paymentID snowflake.ID) (*Payment, error)
	List(ctx context.Context, filter ListPaymentsFilter) ([]Payment, error)
	Transactions(ctx context.Context, paymentID snowflake.ID) ([]Transaction, error)
}

// IngestWebhookRequest carries one provider delivery. RawPayload preserves
// the exact request bytes for providers that sign the wire body.
type IngestWebhookRequest struct {
	Provider        string
	EventType       string
	ProviderEventID string
	Payload         []byte
	RawPayload      []byte
	Headers         http.Header
}

// WebhookService reconciles asynchronous provider events onto payments.
type WebhookService interface {
	Ingest(ctx context.Context, req IngestWebhookRequest) (*Webhook, error)
	List(ctx context.Context, filter ListWebhooksFilter) ([]Webhook, error)
}
