package event

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Topics published by the payment engine. Delivery is at-least-once;
// consumers must dedupe on payment/refund id.
const (
	PaymentSucceededTopic = "payment.succeeded"
	PaymentFailedTopic    = "payment.failed"
	PaymentRefundedTopic  = "payment.refunded"
)

// PaymentEventPayload is the body of payment.succeeded / payment.failed.
type PaymentEventPayload struct {
	PaymentID         string `json:"payment_id"`
	OrderID           string `json:"order_id"`
	UserID            string `json:"user_id"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	PaymentMethodID   string `json:"payment_method_id,omitempty"`
	ProviderPaymentID string `json:"provider_payment_id,omitempty"`
	Error             string `json:"error,omitempty"`
	Timestamp         string `json:"timestamp"`
	Source            string `json:"source"`
}

// RefundEventPayload is the body of payment.refunded.
type RefundEventPayload struct {
	PaymentID string `json:"payment_id"`
	RefundID  string `json:"refund_id"`
	OrderID   string `json:"order_id"`
	UserID    string `json:"user_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// OutboxEvent is a pending event row awaiting relay.
type OutboxEvent struct {
	ID        snowflake.ID   `json:"id" gorm:"primaryKey"`
	Topic     string         `json:"topic" gorm:"type:text;not null"`
	Payload   datatypes.JSON `json:"payload" gorm:"not null"`
	Published bool           `json:"published" gorm:"not null"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null"`
}

func (OutboxEvent) TableName() string { return "payment_outbox_events" }

type outboxPublisher struct {
	db    *gorm.DB
	genID *snowflake.Node
	log   *zap.Logger
}

// NewOutboxPublisher writes events to the payment_outbox_events table in the
// same database; a relay drains the table out of process.
func NewOutboxPublisher(db *gorm.DB, genID *snowflake.Node, log *zap.Logger) Publisher {
	return &outboxPublisher{
		db:    db,
		genID: genID,
		log:   log.Named("event.outbox"),
	}
}

func (p *outboxPublisher) Publish(ctx context.Context, topic string, payload any) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return errors.New("missing topic")
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	return p.db.WithContext(ctx).Exec(
		`INSERT INTO payment_outbox_events (id, topic, payload, published, created_at)
		 VALUES (?, ?, ?, false, ?)`,
		p.genID.Generate(),
		topic,
		datatypes.JSON(encoded),
		now,
	).Error
}
