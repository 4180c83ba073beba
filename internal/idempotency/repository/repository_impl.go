package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/payrail/internal/idempotency/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, key string, now time.Time) (*domain.Record, error) {
	var item domain.Record
	err := db.WithContext(ctx).Raw(
		`SELECT key, payment_id, user_id, created_at, expires_at
		 FROM idempotency_keys
		 WHERE key = ? AND expires_at > ?
		 LIMIT 1`,
		key,
		now,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.Key == "" {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.Record) (bool, error) {
	// An expired row must not block reuse of its key.
	if err := db.WithContext(ctx).Exec(
		`DELETE FROM idempotency_keys WHERE key = ? AND expires_at <= ?`,
		record.Key,
		record.CreatedAt,
	).Error; err != nil {
		return false, err
	}

	res := db.WithContext(ctx).Exec(
		`INSERT INTO idempotency_keys (key, payment_id, user_id, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (key) DO NOTHING`,
		record.Key,
		record.PaymentID,
		record.UserID,
		record.CreatedAt,
		record.ExpiresAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) DeleteExpired(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM idempotency_keys WHERE expires_at <= ?`,
		now,
	)
	return res.RowsAffected, res.Error
}
