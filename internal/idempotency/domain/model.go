package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Record pins an idempotency key to the payment it created. While unexpired,
// the same key always resolves to the same payment.
type Record struct {
	Key       string       `json:"key" gorm:"primaryKey;type:text"`
	PaymentID snowflake.ID `json:"payment_id" gorm:"not null"`
	UserID    string       `json:"user_id" gorm:"type:text;not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
	ExpiresAt time.Time    `json:"expires_at" gorm:"not null;index"`
}

func (Record) TableName() string { return "idempotency_keys" }

type Repository interface {
	// Find returns the unexpired record for key, or nil.
	Find(ctx context.Context, db *gorm.DB, key string, now time.Time) (*Record, error)
	// Insert stores the record, clearing any expired row first. It reports
	// false when an unexpired record already holds the key; the insert is
	// the serialization point for racing creation attempts.
	Insert(ctx context.Context, db *gorm.DB, record *Record) (bool, error)
	// DeleteExpired removes records past their TTL.
	DeleteExpired(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
}
