package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status is the payment lifecycle state. Transitions only move forward:
// pending -> processing -> succeeded|failed, pending|processing -> cancelled
// (order-cancellation path only), succeeded -> refunded (full refund only).
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// Active reports whether the payment still occupies its order's single
// in-flight slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusProcessing
}

// CanTransitionTo enforces the forward-only transition table.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusCancelled
	case StatusProcessing:
		return next == StatusSucceeded || next == StatusFailed || next == StatusCancelled
	case StatusSucceeded:
		return next == StatusRefunded
	default:
		return false
	}
}

type Payment struct {
	ID                snowflake.ID      `json:"id" gorm:"primaryKey"`
	OrderID           string            `json:"order_id" gorm:"type:text;not null;index"`
	UserID            string            `json:"user_id" gorm:"type:text;not null"`
	PaymentMethodID   *string           `json:"payment_method_id,omitempty" gorm:"type:text"`
	Status            Status            `json:"status" gorm:"type:text;not null"`
	Provider          string            `json:"provider" gorm:"type:text;not null"`
	ProviderPaymentID *string           `json:"provider_payment_id,omitempty" gorm:"type:text"`
	Amount            int64             `json:"amount" gorm:"not null"`
	RefundedAmount    int64             `json:"refunded_amount" gorm:"not null;default:0"`
	Currency          string            `json:"currency" gorm:"type:text;not null"`
	Description       *string           `json:"description,omitempty" gorm:"type:text"`
	Metadata          datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	ProcessedAt       *time.Time        `json:"processed_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time         `json:"updated_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

// CanBeRefunded is true only for succeeded payments; partially refunded
// payments stay succeeded until the full amount is returned.
func (p *Payment) CanBeRefunded() bool {
	return p.Status == StatusSucceeded
}

type TransactionType string

const (
	TransactionTypeCharge TransactionType = "charge"
	TransactionTypeRefund TransactionType = "refund"
	TransactionTypeVoid   TransactionType = "void"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusSucceeded TransactionStatus = "succeeded"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Transaction is a ledger entry per attempted charge or refund against a
// payment. Every payment gets exactly one charge transaction at creation
// time, initially pending.
type Transaction struct {
	ID                    snowflake.ID      `json:"id" gorm:"primaryKey"`
	PaymentID             snowflake.ID      `json:"payment_id" gorm:"not null;index"`
	Type                  TransactionType   `json:"type" gorm:"type:text;not null"`
	Status                TransactionStatus `json:"status" gorm:"type:text;not null"`
	ProviderTransactionID *string           `json:"provider_transaction_id,omitempty" gorm:"type:text"`
	Amount                int64             `json:"amount" gorm:"not null"`
	Currency              string            `json:"currency" gorm:"type:text;not null"`
	ProviderResponse      datatypes.JSON    `json:"provider_response,omitempty" gorm:"type:jsonb"`
	ProcessedAt           *time.Time        `json:"processed_at,omitempty"`
	CreatedAt             time.Time         `json:"created_at" gorm:"not null"`
}

func (Transaction) TableName() string { return "payment_transactions" }

type WebhookStatus string

const (
	WebhookStatusPending   WebhookStatus = "pending"
	WebhookStatusProcessed WebhookStatus = "processed"
	WebhookStatusFailed    WebhookStatus = "failed"
)

// Webhook records one provider event delivery. ProviderEventID is unique
// per provider; redelivery converges on the stored record.
type Webhook struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_webhooks_provider_event"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_payment_webhooks_provider_event"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	Status          WebhookStatus  `json:"status" gorm:"type:text;not null"`
	Error           *string        `json:"error,omitempty" gorm:"type:text"`
	PaymentID       *snowflake.ID  `json:"payment_id,omitempty"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at" gorm:"not null"`
}

func (Webhook) TableName() string { return "payment_webhooks" }
