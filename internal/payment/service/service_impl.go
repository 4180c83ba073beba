package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/payrail/internal/audit/domain"
	"github.com/smallbiznis/payrail/internal/clock"
	"github.com/smallbiznis/payrail/internal/config"
	"github.com/smallbiznis/payrail/internal/event"
	idemdomain "github.com/smallbiznis/payrail/internal/idempotency/domain"
	"github.com/smallbiznis/payrail/internal/lock"
	obsmetrics "github.com/smallbiznis/payrail/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/payrail/internal/order/domain"
	paymentdomain "github.com/smallbiznis/payrail/internal/payment/domain"
	"github.com/smallbiznis/payrail/internal/resilience"
	"github.com/smallbiznis/payrail/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const processLockTTL = 30 * time.Second

// errIdempotentReplay aborts the creation transaction when another request
// holding the same key won the insert race.
var errIdempotentReplay = errors.New("idempotent_replay")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Cfg      config.Config
	Clock    clock.Clock
	Repo     paymentdomain.Repository
	IdemRepo idemdomain.Repository
	OrderSvc orderdomain.Service
	Adapter  paymentdomain.PaymentAdapter
	Retrier  *resilience.Retrier
	Breaker  *resilience.Breaker `name:"provider_breaker"`
	Locker   *lock.Locker        `optional:"true"`
	Events   event.Publisher     `optional:"true"`
	AuditSvc auditdomain.Service `optional:"true"`
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	cfg      config.Config
	clock    clock.Clock
	repo     paymentdomain.Repository
	idemRepo idemdomain.Repository
	orderSvc orderdomain.Service
	adapter  paymentdomain.PaymentAdapter
	retrier  *resilience.Retrier
	breaker  *resilience.Breaker
	locker   *lock.Locker
	events   event.Publisher
	auditSvc auditdomain.Service
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.service"),
		genID:    p.GenID,
		cfg:      p.Cfg,
		clock:    p.Clock,
		repo:     p.Repo,
		idemRepo: p.IdemRepo,
		orderSvc: p.OrderSvc,
		adapter:  p.Adapter,
		retrier:  p.Retrier,
		breaker:  p.Breaker,
		locker:   p.Locker,
		events:   p.Events,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req paymentdomain.CreatePaymentRequest) (*paymentdomain.Payment, error) {
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.UserID = strings.TrimSpace(req.UserID)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.OrderID == "" || req.UserID == "" {
		return nil, paymentdomain.ErrInvalidOrder
	}
	if req.Amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}
	if len(req.Currency) != 3 {
		return nil, paymentdomain.ErrInvalidCurrency
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = deriveIdempotencyKey(req)
	}

	now := s.clock.Now()
	if existing, err := s.replayForKey(ctx, key, req.UserID, now); err != nil || existing != nil {
		return existing, err
	}

	order, err := s.orderSvc.GetOrder(ctx, req.OrderID, req.Token)
	if err != nil {
		return nil, err
	}
	if order.UserID != req.UserID {
		return nil, paymentdomain.ErrForbidden
	}
	if diff := order.TotalAmount - req.Amount; diff > s.cfg.AmountEpsilonMinor || diff < -s.cfg.AmountEpsilonMinor {
		return nil, paymentdomain.ErrAmountMismatch
	}

	payment := &paymentdomain.Payment{
		ID:        s.genID.Generate(),
		OrderID:   req.OrderID,
		UserID:    req.UserID,
		Status:    paymentdomain.StatusPending,
		Provider:  s.adapter.Name(),
		Amount:    req.Amount,
		Currency:  req.Currency,
		Metadata:  datatypes.JSONMap(req.Metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if method := strings.TrimSpace(req.PaymentMethodID); method != "" {
		payment.PaymentMethodID = &method
	}
	if description := strings.TrimSpace(req.Description); description != "" {
		payment.Description = &description
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		active, err := s.repo.FindActivePaymentByOrder(ctx, tx, req.OrderID)
		if err != nil {
			return err
		}
		if active != nil {
			return paymentdomain.ErrDuplicatePayment
		}

		inserted, err := s.idemRepo.Insert(ctx, tx, &idemdomain.Record{
			Key:       key,
			PaymentID: payment.ID,
			UserID:    req.UserID,
			CreatedAt: now,
			ExpiresAt: now.Add(s.cfg.IdempotencyTTL),
		})
		if err != nil {
			return err
		}
		if !inserted {
			return errIdempotentReplay
		}

		if err := s.repo.InsertPayment(ctx, tx, payment); err != nil {
			return err
		}

		return s.repo.InsertTransaction(ctx, tx, &paymentdomain.Transaction{
			ID:        s.genID.Generate(),
			PaymentID: payment.ID,
			Type:      paymentdomain.TransactionTypeCharge,
			Status:    paymentdomain.TransactionStatusPending,
			Amount:    req.Amount,
			Currency:  req.Currency,
			CreatedAt: now,
		})
	})
	if err != nil {
		if errors.Is(err, errIdempotentReplay) {
			existing, replayErr := s.replayForKey(ctx, key, req.UserID, now)
			if replayErr != nil {
				return nil, replayErr
			}
			if existing != nil {
				return existing, nil
			}
			return nil, paymentdomain.ErrDuplicatePayment
		}
		// Losing the race on the order's active-payment index means another
		// request created the payment between the check and the insert.
		if db.IsUniqueViolation(err) {
			return nil, paymentdomain.ErrDuplicatePayment
		}
		return nil, err
	}

	s.log.Info("payment created",
		zap.String("payment_id", payment.ID.String()),
		zap.String("order_id", payment.OrderID),
		zap.String("provider", payment.Provider),
		zap.Int64("amount", payment.Amount),
	)
	s.metrics.RecordPaymentCreated(ctx, payment.Provider)
	s.audit(ctx, req.UserID, "payment.created", payment, map[string]any{
		"order_id": payment.OrderID,
		"amount":   payment.Amount,
		"currency": payment.Currency,
	})

	return payment, nil
}

// replayForKey resolves an idempotency key to the payment it already
// created, scoped to the requesting user.
func (s *Service) replayForKey(ctx context.Context, key string, userID string, now time.Time) (*paymentdomain.Payment, error) {
	record, err := s.idemRepo.Find(ctx, s.db, key, now)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	if record.UserID != userID {
		return nil, paymentdomain.ErrForbidden
	}
	payment, err := s.repo.FindPayment(ctx, s.db, record.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Service) Process(ctx context.Context, paymentID snowflake.ID, token string) (*paymentdomain.Payment, error) {
	payment, err := s.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != paymentdomain.StatusPending {
		return nil, paymentdomain.ErrNotProcessable
	}

	lockKey := fmt.Sprintf("payment:process:%s", paymentID)
	lockToken, acquired, err := s.locker.TryLock(ctx, lockKey, processLockTTL)
	if err != nil {
		s.log.Warn("process lock unavailable", zap.Error(err))
	} else if !acquired {
		return nil, paymentdomain.ErrNotProcessable
	} else {
		defer func() {
			if releaseErr := s.locker.Release(context.WithoutCancel(ctx), lockKey, lockToken); releaseErr != nil {
				s.log.Warn("failed to release process lock", zap.Error(releaseErr))
			}
		}()
	}

	var result paymentdomain.ChargeResult
	err = s.db.Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		moved, err := s.repo.TransitionPayment(ctx, tx, paymentID, []paymentdomain.Status{paymentdomain.StatusPending}, paymentdomain.StatusProcessing, now)
		if err != nil {
			return err
		}
		if !moved {
			return paymentdomain.ErrNotProcessable
		}

		charge, err := s.repo.FindPendingCharge(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if charge == nil {
			return paymentdomain.ErrNotProcessable
		}

		chargeReq := paymentdomain.ChargeRequest{
			PaymentID: paymentID.String(),
			Amount:    payment.Amount,
			Currency:  payment.Currency,
			Metadata:  map[string]any{"order_id": payment.OrderID},
		}
		if payment.PaymentMethodID != nil {
			chargeReq.PaymentMethodID = *payment.PaymentMethodID
		}

		// A transport failure rolls the transition back and leaves the
		// payment pending for a later attempt. The provider-side
		// idempotency key keeps a delivered-but-unanswered charge from
		// duplicating.
		if err := s.retrier.Call(ctx, s.breaker, func() error {
			var chargeErr error
			result, chargeErr = s.adapter.Charge(ctx, chargeReq)
			return chargeErr
		}); err != nil {
			return err
		}

		now = s.clock.Now()
		switch {
		case result.Success:
			if err := s.repo.SettleTransaction(ctx, tx, charge.ID, paymentdomain.TransactionStatusSucceeded, result.ProviderPaymentID, result.RawResponse, &now); err != nil {
				return err
			}
			if result.ProviderPaymentID != "" {
				if err := s.repo.SetProviderPaymentID(ctx, tx, paymentID, result.ProviderPaymentID, now); err != nil {
					return err
				}
			}
			moved, err := s.repo.TransitionPayment(ctx, tx, paymentID, []paymentdomain.Status{paymentdomain.StatusProcessing}, paymentdomain.StatusSucceeded, now)
			if err != nil {
				return err
			}
			if !moved {
				return paymentdomain.ErrNotProcessable
			}
			return s.repo.MarkPaymentProcessed(ctx, tx, paymentID, now)

		case result.Status == paymentdomain.ChargeStatusPending:
			// Awaiting provider confirmation; the webhook settles it.
			if result.ProviderPaymentID != "" {
				return s.repo.SetProviderPaymentID(ctx, tx, paymentID, result.ProviderPaymentID, now)
			}
			return nil

		default:
			if err := s.repo.SettleTransaction(ctx, tx, charge.ID, paymentdomain.TransactionStatusFailed, result.ProviderPaymentID, result.RawResponse, &now); err != nil {
				return err
			}
			moved, err := s.repo.TransitionPayment(ctx, tx, paymentID, []paymentdomain.Status{paymentdomain.StatusProcessing}, paymentdomain.StatusFailed, now)
			if err != nil {
				return err
			}
			if !moved {
				return paymentdomain.ErrNotProcessable
			}
			// processed_at marks a settled charge only; declines keep it empty.
			return nil
		}
	})
	if err != nil {
		return nil, err
	}

	payment, err = s.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordCharge(ctx, payment.Provider, string(payment.Status))
	s.afterProcess(ctx, payment, result, token)
	return payment, nil
}

// afterProcess runs the post-commit side effects. They are best-effort: the
// webhook reconciler converges anything missed here.
func (s *Service) afterProcess(ctx context.Context, payment *paymentdomain.Payment, result paymentdomain.ChargeResult, token string) {
	switch payment.Status {
	case paymentdomain.StatusSucceeded:
		if err := s.orderSvc.UpdatePaymentStatus(ctx, payment.OrderID, orderdomain.PaymentStatusPaid, "", token); err != nil {
			s.log.Warn("failed to notify order service", zap.String("payment_id", payment.ID.String()), zap.Error(err))
		}
		s.publishPaymentEvent(ctx, event.PaymentSucceededTopic, payment, "")
		s.audit(ctx, payment.UserID, "payment.succeeded", payment, nil)
	case paymentdomain.StatusFailed:
		if err := s.orderSvc.UpdatePaymentStatus(ctx, payment.OrderID, orderdomain.PaymentStatusFailed, result.Error, token); err != nil {
			s.log.Warn("failed to notify order service", zap.String("payment_id", payment.ID.String()), zap.Error(err))
		}
		s.publishPaymentEvent(ctx, event.PaymentFailedTopic, payment, result.Error)
		s.audit(ctx, payment.UserID, "payment.failed", payment, map[string]any{"error": result.Error})
	}
}

func (s *Service) Cancel(ctx context.Context, paymentID snowflake.ID, reason string) (*paymentdomain.Payment, error) {
	payment, err := s.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		moved, err := s.repo.TransitionPayment(ctx, tx, paymentID,
			[]paymentdomain.Status{paymentdomain.StatusPending, paymentdomain.StatusProcessing},
			paymentdomain.StatusCancelled, now)
		if err != nil {
			return err
		}
		if !moved {
			return paymentdomain.ErrNotCancellable
		}

		return s.repo.InsertTransaction(ctx, tx, &paymentdomain.Transaction{
			ID:          s.genID.Generate(),
			PaymentID:   paymentID,
			Type:        paymentdomain.TransactionTypeVoid,
			Status:      paymentdomain.TransactionStatusSucceeded,
			Amount:      payment.Amount,
			Currency:    payment.Currency,
			ProcessedAt: &now,
			CreatedAt:   now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("payment cancelled",
		zap.String("payment_id", paymentID.String()),
		zap.String("reason", reason),
	)
	s.audit(ctx, payment.UserID, "payment.cancelled", payment, map[string]any{"reason": reason})

	return s.Get(ctx, paymentID)
}

func (s *Service) Get(ctx context.Context, paymentID snowflake.ID) (*paymentdomain.Payment, error) {
	payment, err := s.repo.FindPayment(ctx, s.db, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Service) List(ctx context.Context, filter paymentdomain.ListPaymentsFilter) ([]paymentdomain.Payment, error) {
	return s.repo.ListPayments(ctx, s.db, filter)
}

func (s *Service) Transactions(ctx context.Context, paymentID snowflake.ID) ([]paymentdomain.Transaction, error) {
	if _, err := s.Get(ctx, paymentID); err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, s.db, paymentID)
}

func (s *Service) publishPaymentEvent(ctx context.Context, topic string, payment *paymentdomain.Payment, chargeErr string) {
	if s.events == nil {
		return
	}
	payload := event.PaymentEventPayload{
		PaymentID: payment.ID.String(),
		OrderID:   payment.OrderID,
		UserID:    payment.UserID,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		Error:     chargeErr,
		Timestamp: s.clock.Now().Format(time.RFC3339),
		Source:    "payment.service",
	}
	if payment.PaymentMethodID != nil {
		payload.PaymentMethodID = *payment.PaymentMethodID
	}
	if payment.ProviderPaymentID != nil {
		payload.ProviderPaymentID = *payment.ProviderPaymentID
	}
	if err := s.events.Publish(ctx, topic, payload); err != nil {
		s.log.Warn("failed to publish payment event", zap.String("topic", topic), zap.Error(err))
	}
}

func (s *Service) audit(ctx context.Context, actor string, action string, payment *paymentdomain.Payment, extra map[string]any) {
	if s.auditSvc == nil {
		return
	}
	metadata := map[string]any{
		"provider": payment.Provider,
		"status":   string(payment.Status),
	}
	for key, value := range extra {
		metadata[key] = value
	}
	if err := s.auditSvc.AuditLog(ctx, actor, action, "payment", payment.ID.String(), metadata); err != nil {
		s.log.Warn("failed to write payment audit log", zap.String("action", action), zap.Error(err))
	}
}

func deriveIdempotencyKey(req paymentdomain.CreatePaymentRequest) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		req.UserID,
		req.OrderID,
		fmt.Sprintf("%d", req.Amount),
		req.PaymentMethodID,
	}, "|")))
	return "derived:" + hex.EncodeToString(sum[:])
}
