package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Refund is one attempt to return money against a succeeded payment.
// Partial refunds accumulate; only completed refunds count toward the
// refunded balance.
type Refund struct {
	ID               snowflake.ID      `json:"id" gorm:"primaryKey"`
	PaymentID        snowflake.ID      `json:"payment_id" gorm:"not null;index"`
	OrderID          string            `json:"order_id" gorm:"type:text;not null"`
	Reason           *string           `json:"reason,omitempty" gorm:"type:text"`
	Amount           int64             `json:"amount" gorm:"not null"`
	Currency         string            `json:"currency" gorm:"type:text;not null"`
	Status           Status            `json:"status" gorm:"type:text;not null"`
	ProviderRefundID *string           `json:"provider_refund_id,omitempty" gorm:"type:text"`
	ProviderResponse datatypes.JSON    `json:"provider_response,omitempty" gorm:"type:jsonb"`
	Metadata         datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	ProcessedAt      *time.Time        `json:"processed_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time         `json:"updated_at" gorm:"not null"`
}

func (Refund) TableName() string { return "refunds" }

var ErrRefundNotFound = errors.New("refund_not_found")

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, refund *Refund) error
	Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Refund, error)
	ListByPayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]Refund, error)
	Settle(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, providerRefundID string, response []byte, processedAt *time.Time, updatedAt time.Time) error
}

type CreateRefundRequest struct {
	PaymentID snowflake.ID
	// Amount in minor units; zero means refund the remaining balance.
	Amount   int64
	Reason   string
	Metadata map[string]any
	Token    string
}

type Service interface {
	Create(ctx context.Context, req CreateRefundRequest) (*Refund, error)
	Get(ctx context.Context, id snowflake.ID) (*Refund, error)
	ListByPayment(ctx context.Context, paymentID snowflake.ID) ([]Refund, error)
}
