package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payrail/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, order_id, user_id, payment_method_id, status, provider,
			provider_payment_id, amount, refunded_amount, currency, description,
			metadata, processed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.OrderID,
		payment.UserID,
		payment.PaymentMethodID,
		payment.Status,
		payment.Provider,
		payment.ProviderPaymentID,
		payment.Amount,
		payment.RefundedAmount,
		payment.Currency,
		payment.Description,
		payment.Metadata,
		payment.ProcessedAt,
		payment.CreatedAt,
		payment.UpdatedAt,
	).Error
}

func (r *repo) FindPayment(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT id, order_id, user_id, payment_method_id, status, provider,
			provider_payment_id, amount, refunded_amount, currency, description,
			metadata, processed_at, created_at, updated_at
		 FROM payments
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

func (r *repo) FindActivePaymentByOrder(ctx context.Context, db *gorm.DB, orderID string) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT id, order_id, user_id, payment_method_id, status, provider,
			provider_payment_id, amount, refunded_amount, currency, description,
			metadata, processed_at, created_at, updated_at
		 FROM payments
		 WHERE order_id = ? AND status IN (?, ?)
		 LIMIT 1`,
		orderID,
		domain.StatusPending,
		domain.StatusProcessing,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindPaymentByProviderRef(ctx context.Context, db *gorm.DB, providerPaymentID string) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT id, order_id, user_id, payment_method_id, status, provider,
			provider_payment_id, amount, refunded_amount, currency, description,
			metadata, processed_at, created_at, updated_at
		 FROM payments
		 WHERE provider_payment_id = ?
		 LIMIT 1`,
		providerPaymentID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) TransitionPayment(ctx context.Context, db *gorm.DB, id snowflake.ID, expected []domain.Status, next domain.Status, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status IN ?`,
		next,
		updatedAt,
		id,
		expected,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetProviderPaymentID(ctx context.Context, db *gorm.DB, id snowflake.ID, providerPaymentID string, updatedAt time.Time) error {
	// provider_payment_id is written at most once per payment.
	return db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET provider_payment_id = ?, updated_at = ?
		 WHERE id = ? AND provider_payment_id IS NULL`,
		providerPaymentID,
		updatedAt,
		id,
	).Error
}

func (r *repo) MarkPaymentProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET processed_at = ?, updated_at = ?
		 WHERE id = ?`,
		processedAt,
		processedAt,
		id,
	).Error
}

func (r *repo) ReserveRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, amount int64, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET refunded_amount = refunded_amount + ?, updated_at = ?
		 WHERE id = ? AND refunded_amount + ? <= amount`,
		amount,
		updatedAt,
		id,
		amount,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ReleaseRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, amount int64, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET refunded_amount = refunded_amount - ?, updated_at = ?
		 WHERE id = ?`,
		amount,
		updatedAt,
		id,
	).Error
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, txn *domain.Transaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_transactions (
			id, payment_id, type, status, provider_transaction_id,
			amount, currency, provider_response, processed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.PaymentID,
		txn.Type,
		txn.Status,
		txn.ProviderTransactionID,
		txn.Amount,
		txn.Currency,
		txn.ProviderResponse,
		txn.ProcessedAt,
		txn.CreatedAt,
	).Error
}

func (r *repo) FindPendingCharge(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (*domain.Transaction, error) {
	var item domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT id, payment_id, type, status, provider_transaction_id,
			amount, currency, provider_response, processed_at, created_at
		 FROM payment_transactions
		 WHERE payment_id = ? AND type = ? AND status = ?
		 LIMIT 1`,
		paymentID,
		domain.TransactionTypeCharge,
		domain.TransactionStatusPending,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) SettleTransaction(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.TransactionStatus, providerTransactionID string, response []byte, processedAt *time.Time) error {
	var ref *string
	if providerTransactionID != "" {
		ref = &providerTransactionID
	}
	return db.WithContext(ctx).Exec(
		`UPDATE payment_transactions
		 SET status = ?, provider_transaction_id = ?, provider_response = ?, processed_at = ?
		 WHERE id = ?`,
		status,
		ref,
		response,
		processedAt,
		id,
	).Error
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]domain.Transaction, error) {
	var items []domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT id, payment_id, type, status, provider_transaction_id,
			amount, currency, provider_response, processed_at, created_at
		 FROM payment_transactions
		 WHERE payment_id = ?
		 ORDER BY created_at ASC`,
		paymentID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindWebhook(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*domain.Webhook, error) {
	var item domain.Webhook
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, event_type, provider_event_id, payload, status,
			error, payment_id, processed_at, created_at
		 FROM payment_webhooks
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) InsertWebhook(ctx context.Context, db *gorm.DB, webhook *domain.Webhook) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_webhooks (
			id, provider, event_type, provider_event_id, payload, status,
			error, payment_id, processed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		webhook.ID,
		webhook.Provider,
		webhook.EventType,
		webhook.ProviderEventID,
		webhook.Payload,
		webhook.Status,
		webhook.Error,
		webhook.PaymentID,
		webhook.ProcessedAt,
		webhook.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ResetWebhook(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_webhooks
		 SET status = ?, error = NULL
		 WHERE id = ?`,
		domain.WebhookStatusPending,
		id,
	).Error
}

func (r *repo) MarkWebhook(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.WebhookStatus, errMessage string, paymentID *snowflake.ID, processedAt *time.Time) error {
	var errValue *string
	if errMessage != "" {
		errValue = &errMessage
	}
	return db.WithContext(ctx).Exec(
		`UPDATE payment_webhooks
		 SET status = ?, error = ?, payment_id = COALESCE(?, payment_id), processed_at = ?
		 WHERE id = ?`,
		status,
		errValue,
		paymentID,
		processedAt,
		id,
	).Error
}

const defaultListLimit = 50

func (r *repo) ListPayments(ctx context.Context, db *gorm.DB, filter domain.ListPaymentsFilter) ([]domain.Payment, error) {
	stmt := db.WithContext(ctx).Model(&domain.Payment{})
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		stmt = stmt.Where("user_id = ?", userID)
	}
	if orderID := strings.TrimSpace(filter.OrderID); orderID != "" {
		stmt = stmt.Where("order_id = ?", orderID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = defaultListLimit
	}

	var items []domain.Payment
	err := stmt.Order("created_at DESC").Limit(limit).Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListWebhooks(ctx context.Context, db *gorm.DB, filter domain.ListWebhooksFilter) ([]domain.Webhook, error) {
	stmt := db.WithContext(ctx).Model(&domain.Webhook{})
	if provider := strings.TrimSpace(filter.Provider); provider != "" {
		stmt = stmt.Where("provider = ?", provider)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = defaultListLimit
	}

	var items []domain.Webhook
	err := stmt.Order("created_at DESC").Limit(limit).Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
