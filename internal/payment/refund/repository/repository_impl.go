package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payrail/internal/payment/refund/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, refund *domain.Refund) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO refunds (
			id, payment_id, order_id, reason, amount, currency, status,
			provider_refund_id, provider_response, metadata, processed_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		refund.ID,
		refund.PaymentID,
		refund.OrderID,
		refund.Reason,
		refund.Amount,
		refund.Currency,
		refund.Status,
		refund.ProviderRefundID,
		refund.ProviderResponse,
		refund.Metadata,
		refund.ProcessedAt,
		refund.CreatedAt,
		refund.UpdatedAt,
	).Error
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Refund, error) {
	var item domain.Refund
	err := db.WithContext(ctx).Raw(
		`SELECT id, payment_id, order_id, reason, amount, currency, status,
			provider_refund_id, provider_response, metadata, processed_at,
			created_at, updated_at
		 FROM refunds
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListByPayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]domain.Refund, error) {
	var items []domain.Refund
	err := db.WithContext(ctx).Raw(
		`SELECT id, payment_id, order_id, reason, amount, currency, status,
			provider_refund_id, provider_response, metadata, processed_at,
			created_at, updated_at
		 FROM refunds
		 WHERE payment_id = ?
		 ORDER BY created_at ASC`,
		paymentID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Settle(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status, providerRefundID string, response []byte, processedAt *time.Time, updatedAt time.Time) error {
	var ref *string
	if providerRefundID != "" {
		ref = &providerRefundID
	}
	return db.WithContext(ctx).Exec(
		`UPDATE refunds
		 SET status = ?, provider_refund_id = ?, provider_response = ?, processed_at = ?, updated_at = ?
		 WHERE id = ?`,
		status,
		ref,
		response,
		processedAt,
		updatedAt,
		id,
	).Error
}
