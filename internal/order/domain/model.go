package domain

import (
	"context"
	"errors"
)

// Order is the collaborator's view of an order, fetched before a payment is
// created or processed.
type Order struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"order_number"`
	UserID        string `json:"user_id"`
	TotalAmount   int64  `json:"total_amount"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
}

// Payment statuses the order service accepts.
const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

var (
	ErrOrderNotFound = errors.New("order_not_found")
	ErrUnavailable   = errors.New("order_service_unavailable")
)

// Service is the outbound port to the order collaborator. Both calls go
// through the resilience layer.
type Service interface {
	GetOrder(ctx context.Context, orderID string, token string) (*Order, error)
	UpdatePaymentStatus(ctx context.Context, orderID string, paymentStatus string, reason string, token string) error
}
