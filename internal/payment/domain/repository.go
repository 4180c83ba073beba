package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the persistence port for payments, their transactions and
// webhook records. Status moves use guarded updates (current status in the
// WHERE clause) so racing units of work converge without row locks.
type Repository interface {
	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindPayment(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindActivePaymentByOrder(ctx context.Context, db *gorm.DB, orderID string) (*Payment, error)
	FindPaymentByProviderRef(ctx context.Context, db *gorm.DB, providerPaymentID string) (*Payment, error)
	// TransitionPayment moves id from one of the expected statuses to next,
	// reporting false when the payment was not in an expected status.
	TransitionPayment(ctx context.Context, db *gorm.DB, id snowflake.ID, expected []Status, next Status, updatedAt time.Time) (bool, error)
	SetProviderPaymentID(ctx context.Context, db *gorm.DB, id snowflake.ID, providerPaymentID string, updatedAt time.Time) error
	MarkPaymentProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
	// ReserveRefund adds amount to the payment's refunded total, reporting
	// false when the addition would exceed the payment amount. The guarded
	// update serializes concurrent refunds against the same payment.
	ReserveRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, amount int64, updatedAt time.Time) (bool, error)
	// ReleaseRefund returns a reservation after the provider rejected the
	// refund.
	ReleaseRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, amount int64, updatedAt time.Time) error

	InsertTransaction(ctx context.Context, db *gorm.DB, txn *Transaction) error
	FindPendingCharge(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (*Transaction, error)
	SettleTransaction(ctx context.Context, db *gorm.DB, id snowflake.ID, status TransactionStatus, providerTransactionID string, response []byte, processedAt *time.Time) error
	ListTransactions(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]Transaction, error)

	ListPayments(ctx context.Context, db *gorm.DB, filter ListPaymentsFilter) ([]Payment, error)

	FindWebhook(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*Webhook, error)
	// InsertWebhook dedupes on (provider, provider_event_id) and reports
	// whether the row was inserted.
	InsertWebhook(ctx context.Context, db *gorm.DB, webhook *Webhook) (bool, error)
	ResetWebhook(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	MarkWebhook(ctx context.Context, db *gorm.DB, id snowflake.ID, status WebhookStatus, errMessage string, paymentID *snowflake.ID, processedAt *time.Time) error
	ListWebhooks(ctx context.Context, db *gorm.DB, filter ListWebhooksFilter) ([]Webhook, error)
}

// ListPaymentsFilter narrows the payment listing. Zero values are ignored;
// Limit falls back to the repository default.
type ListPaymentsFilter struct {
	UserID  string
	OrderID string
	Status  Status
	Limit   int
}

// ListWebhooksFilter narrows the webhook record listing.
type ListWebhooksFilter struct {
	Provider string
	Status   WebhookStatus
	Limit    int
}
