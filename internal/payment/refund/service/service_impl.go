package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/payrail/internal/audit/domain"
	"github.com/smallbiznis/payrail/internal/clock"
	"github.com/smallbiznis/payrail/internal/event"
	"github.com/smallbiznis/payrail/internal/lock"
	obsmetrics "github.com/smallbiznis/payrail/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/payrail/internal/order/domain"
	paymentdomain "github.com/smallbiznis/payrail/internal/payment/domain"
	"github.com/smallbiznis/payrail/internal/payment/refund/domain"
	"github.com/smallbiznis/payrail/internal/resilience"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const refundLockTTL = 30 * time.Second

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	PaymentRepo paymentdomain.Repository
	OrderSvc    orderdomain.Service
	Adapter     paymentdomain.PaymentAdapter
	Retrier     *resilience.Retrier
	Breaker     *resilience.Breaker `name:"provider_breaker"`
	Locker      *lock.Locker        `optional:"true"`
	Events      event.Publisher     `optional:"true"`
	AuditSvc    auditdomain.Service `optional:"true"`
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	paymentRepo paymentdomain.Repository
	orderSvc    orderdomain.Service
	adapter     paymentdomain.PaymentAdapter
	retrier     *resilience.Retrier
	breaker     *resilience.Breaker
	locker      *lock.Locker
	events      event.Publisher
	auditSvc    auditdomain.Service
	metrics     *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("refund.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		paymentRepo: p.PaymentRepo,
		orderSvc:    p.OrderSvc,
		adapter:     p.Adapter,
		retrier:     p.Retrier,
		breaker:     p.Breaker,
		locker:      p.Locker,
		events:      p.Events,
		auditSvc:    p.AuditSvc,
		metrics:     p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRefundRequest) (*domain.Refund, error) {
	payment, err := s.paymentRepo.FindPayment(ctx, s.db, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	if !payment.CanBeRefunded() {
		return nil, paymentdomain.ErrNotRefundable
	}
	if payment.ProviderPaymentID == nil || *payment.ProviderPaymentID == "" {
		return nil, paymentdomain.ErrMissingProviderRef
	}
	if req.Amount < 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}

	lockKey := fmt.Sprintf("payment:refund:%s", req.PaymentID)
	lockToken, acquired, err := s.locker.TryLock(ctx, lockKey, refundLockTTL)
	if err != nil {
		s.log.Warn("refund lock unavailable", zap.Error(err))
	} else if !acquired {
		return nil, paymentdomain.ErrNotRefundable
	} else {
		defer func() {
			if releaseErr := s.locker.Release(context.WithoutCancel(ctx), lockKey, lockToken); releaseErr != nil {
				s.log.Warn("failed to release refund lock", zap.Error(releaseErr))
			}
		}()
	}

	refund := &domain.Refund{
		ID:        s.genID.Generate(),
		PaymentID: payment.ID,
		OrderID:   payment.OrderID,
		Amount:    req.Amount,
		Currency:  payment.Currency,
		Status:    domain.StatusPending,
		Metadata:  datatypes.JSONMap(req.Metadata),
	}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		refund.Reason = &reason
	}

	var fullyRefunded bool
	err = s.db.Transaction(func(tx *gorm.DB) error {
		current, err := s.paymentRepo.FindPayment(ctx, tx, payment.ID)
		if err != nil {
			return err
		}
		if current == nil || !current.CanBeRefunded() {
			return paymentdomain.ErrNotRefundable
		}
		remaining := current.Amount - current.RefundedAmount
		if remaining <= 0 {
			return paymentdomain.ErrRefundExceeded
		}
		if refund.Amount == 0 {
			refund.Amount = remaining
		}
		if refund.Amount > remaining {
			return paymentdomain.ErrRefundExceeded
		}

		now := s.clock.Now()
		// The reservation rechecks the bound under the row write lock, so a
		// racing refund that committed after the read above is still caught.
		reserved, err := s.paymentRepo.ReserveRefund(ctx, tx, payment.ID, refund.Amount, now)
		if err != nil {
			return err
		}
		if !reserved {
			return paymentdomain.ErrRefundExceeded
		}

		refund.CreatedAt = now
		refund.UpdatedAt = now
		if err := s.repo.Insert(ctx, tx, refund); err != nil {
			return err
		}

		// The refund holds its balance while the provider call is in flight.
		refund.Status = domain.StatusProcessing
		if err := s.repo.Settle(ctx, tx, refund.ID, domain.StatusProcessing, "", nil, nil, now); err != nil {
			return err
		}

		var result paymentdomain.RefundResult
		if err := s.retrier.Call(ctx, s.breaker, func() error {
			var refundErr error
			result, refundErr = s.adapter.Refund(ctx, paymentdomain.RefundRequest{
				ProviderPaymentID: *payment.ProviderPaymentID,
				Amount:            refund.Amount,
				Currency:          refund.Currency,
				Reason:            req.Reason,
				Metadata:          req.Metadata,
			})
			return refundErr
		}); err != nil {
			return err
		}

		now = s.clock.Now()
		if !result.Success {
			// The provider declined, so the reserved amount goes back.
			if err := s.paymentRepo.ReleaseRefund(ctx, tx, payment.ID, refund.Amount, now); err != nil {
				return err
			}
			refund.Status = domain.StatusFailed
			if err := s.repo.Settle(ctx, tx, refund.ID, domain.StatusFailed, result.ProviderRefundID, result.RawResponse, nil, now); err != nil {
				return err
			}
			return s.appendTransaction(ctx, tx, refund, paymentdomain.TransactionStatusFailed, result, now)
		}

		refund.Status = domain.StatusCompleted
		refund.ProcessedAt = &now
		if err := s.repo.Settle(ctx, tx, refund.ID, domain.StatusCompleted, result.ProviderRefundID, result.RawResponse, &now, now); err != nil {
			return err
		}
		if err := s.appendTransaction(ctx, tx, refund, paymentdomain.TransactionStatusSucceeded, result, now); err != nil {
			return err
		}

		if current.RefundedAmount+refund.Amount >= current.Amount {
			moved, err := s.paymentRepo.TransitionPayment(ctx, tx, payment.ID,
				[]paymentdomain.Status{paymentdomain.StatusSucceeded},
				paymentdomain.StatusRefunded, now)
			if err != nil {
				return err
			}
			fullyRefunded = moved
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordRefund(ctx, payment.Provider, string(refund.Status))
	s.log.Info("refund settled",
		zap.String("refund_id", refund.ID.String()),
		zap.String("payment_id", payment.ID.String()),
		zap.Int64("amount", refund.Amount),
		zap.String("status", string(refund.Status)),
	)
	s.audit(ctx, payment.UserID, refund)

	if fullyRefunded {
		s.afterFullRefund(ctx, payment, refund, req.Token)
	}

	return s.Get(ctx, refund.ID)
}

// appendTransaction records the refund attempt on the payment ledger.
func (s *Service) appendTransaction(ctx context.Context, tx *gorm.DB, refund *domain.Refund, status paymentdomain.TransactionStatus, result paymentdomain.RefundResult, now time.Time) error {
	var ref *string
	if result.ProviderRefundID != "" {
		ref = &result.ProviderRefundID
	}
	var processedAt *time.Time
	if status == paymentdomain.TransactionStatusSucceeded {
		processedAt = &now
	}
	return s.paymentRepo.InsertTransaction(ctx, tx, &paymentdomain.Transaction{
		ID:                    s.genID.Generate(),
		PaymentID:             refund.PaymentID,
		Type:                  paymentdomain.TransactionTypeRefund,
		Status:                status,
		ProviderTransactionID: ref,
		Amount:                refund.Amount,
		Currency:              refund.Currency,
		ProviderResponse:      datatypes.JSON(result.RawResponse),
		ProcessedAt:           processedAt,
		CreatedAt:             now,
	})
}

// afterFullRefund runs the best-effort side effects once the payment is
// fully returned.
func (s *Service) afterFullRefund(ctx context.Context, payment *paymentdomain.Payment, refund *domain.Refund, token string) {
	if err := s.orderSvc.UpdatePaymentStatus(ctx, payment.OrderID, orderdomain.PaymentStatusRefunded, "", token); err != nil {
		s.log.Warn("failed to notify order service of refund",
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err),
		)
	}

	if s.events == nil {
		return
	}
	payload := event.RefundEventPayload{
		PaymentID: payment.ID.String(),
		RefundID:  refund.ID.String(),
		OrderID:   payment.OrderID,
		UserID:    payment.UserID,
		Amount:    refund.Amount,
		Currency:  refund.Currency,
		Timestamp: s.clock.Now().Format(time.RFC3339),
		Source:    "refund.service",
	}
	if refund.Reason != nil {
		payload.Reason = *refund.Reason
	}
	if err := s.events.Publish(ctx, event.PaymentRefundedTopic, payload); err != nil {
		s.log.Warn("failed to publish refund event", zap.Error(err))
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Refund, error) {
	refund, err := s.repo.Find(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if refund == nil {
		return nil, domain.ErrRefundNotFound
	}
	return refund, nil
}

func (s *Service) ListByPayment(ctx context.Context, paymentID snowflake.ID) ([]domain.Refund, error) {
	payment, err := s.paymentRepo.FindPayment(ctx, s.db, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	return s.repo.ListByPayment(ctx, s.db, paymentID)
}

func (s *Service) audit(ctx context.Context, actor string, refund *domain.Refund) {
	if s.auditSvc == nil {
		return
	}
	metadata := map[string]any{
		"payment_id": refund.PaymentID.String(),
		"amount":     refund.Amount,
		"currency":   refund.Currency,
		"status":     string(refund.Status),
	}
	if refund.Reason != nil {
		metadata["reason"] = *refund.Reason
	}
	if err := s.auditSvc.AuditLog(ctx, actor, "refund.created", "refund", refund.ID.String(), metadata); err != nil {
		s.log.Warn("failed to write refund audit log", zap.Error(err))
	}
}
