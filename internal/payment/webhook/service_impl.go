package webhook

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payrail/internal/clock"
	"github.com/smallbiznis/payrail/internal/config"
	"github.com/smallbiznis/payrail/internal/event"
	obsmetrics "github.com/smallbiznis/payrail/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/payrail/internal/order/domain"
	paymentdomain "github.com/smallbiznis/payrail/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const invalidSignatureMessage = "Invalid signature"

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Cfg      config.Config
	Clock    clock.Clock
	Repo     paymentdomain.Repository
	Adapter  paymentdomain.PaymentAdapter
	OrderSvc orderdomain.Service
	Events   event.Publisher     `optional:"true"`
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	cfg      config.Config
	clock    clock.Clock
	repo     paymentdomain.Repository
	adapter  paymentdomain.PaymentAdapter
	orderSvc orderdomain.Service
	events   event.Publisher
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.WebhookService {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.webhook"),
		genID:    p.GenID,
		cfg:      p.Cfg,
		clock:    p.Clock,
		repo:     p.Repo,
		adapter:  p.Adapter,
		orderSvc: p.OrderSvc,
		events:   p.Events,
		metrics:  p.Metrics,
	}
}

// Ingest records and applies one provider delivery. Redeliveries converge
// on the stored record; a processing failure is captured on the record and
// never propagated to the provider beyond the returned status.
func (s *Service) Ingest(ctx context.Context, req paymentdomain.IngestWebhookRequest) (*paymentdomain.Webhook, error) {
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	if req.Provider == "" {
		return nil, paymentdomain.ErrInvalidProvider
	}
	// Only the configured gateway's deliveries are verifiable here.
	if req.Provider != s.adapter.Name() {
		return nil, paymentdomain.ErrInvalidProvider
	}
	if len(req.Payload) == 0 || !json.Valid(req.Payload) {
		return nil, paymentdomain.ErrInvalidPayload
	}

	parsed := parseProviderEvent(req.Payload)
	if req.ProviderEventID == "" {
		req.ProviderEventID = parsed.ID
	}
	if req.EventType == "" {
		req.EventType = parsed.Type
	}
	req.ProviderEventID = strings.TrimSpace(req.ProviderEventID)
	req.EventType = strings.TrimSpace(req.EventType)
	if req.ProviderEventID == "" || req.EventType == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	stored, err := s.repo.FindWebhook(ctx, s.db, req.Provider, req.ProviderEventID)
	if err != nil {
		return nil, err
	}
	if stored != nil && stored.Status == paymentdomain.WebhookStatusProcessed {
		return stored, nil
	}

	if !s.verify(ctx, req) {
		return s.recordFailure(ctx, stored, req, invalidSignatureMessage)
	}

	stored, err = s.upsert(ctx, stored, req)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordWebhookEvent(ctx, req.Provider, req.EventType)

	result := s.apply(ctx, stored, req.EventType, parsed)

	now := s.clock.Now()
	if result.err != nil {
		s.log.Warn("webhook processing failed",
			zap.String("provider", req.Provider),
			zap.String("provider_event_id", req.ProviderEventID),
			zap.Error(result.err),
		)
		if markErr := s.repo.MarkWebhook(ctx, s.db, stored.ID, paymentdomain.WebhookStatusFailed, result.err.Error(), result.paymentID, nil); markErr != nil {
			return nil, markErr
		}
		return s.repo.FindWebhook(ctx, s.db, req.Provider, req.ProviderEventID)
	}

	if markErr := s.repo.MarkWebhook(ctx, s.db, stored.ID, paymentdomain.WebhookStatusProcessed, "", result.paymentID, &now); markErr != nil {
		return nil, markErr
	}
	s.afterApply(ctx, result)
	return s.repo.FindWebhook(ctx, s.db, req.Provider, req.ProviderEventID)
}

// verify reports whether the delivery may be applied. Verification problems
// other than a bad signature are bypassed outside production.
func (s *Service) verify(ctx context.Context, req paymentdomain.IngestWebhookRequest) bool {
	verifier, ok := s.adapter.(paymentdomain.WebhookVerifier)
	if !ok {
		return true
	}

	signable := verifier.SignablePayload(req.RawPayload, req.Payload)
	err := verifier.VerifyWebhook(ctx, signable, req.Headers)
	if err == nil {
		return true
	}
	if err == paymentdomain.ErrInvalidSignature {
		return false
	}
	if s.cfg.IsProduction() {
		return false
	}
	s.log.Warn("webhook verification bypassed",
		zap.String("provider", req.Provider),
		zap.Error(err),
	)
	return true
}

func (s *Service) recordFailure(ctx context.Context, stored *paymentdomain.Webhook, req paymentdomain.IngestWebhookRequest, message string) (*paymentdomain.Webhook, error) {
	var err error
	stored, err = s.upsert(ctx, stored, req)
	if err != nil {
		return nil, err
	}
	if err := s.repo.MarkWebhook(ctx, s.db, stored.ID, paymentdomain.WebhookStatusFailed, message, nil, nil); err != nil {
		return nil, err
	}
	return s.repo.FindWebhook(ctx, s.db, req.Provider, req.ProviderEventID)
}

// upsert stores the delivery as pending, converging with concurrent
// deliveries of the same event on the row that won the insert.
func (s *Service) upsert(ctx context.Context, stored *paymentdomain.Webhook, req paymentdomain.IngestWebhookRequest) (*paymentdomain.Webhook, error) {
	if stored != nil {
		if err := s.repo.ResetWebhook(ctx, s.db, stored.ID); err != nil {
			return nil, err
		}
		stored.Status = paymentdomain.WebhookStatusPending
		stored.Error = nil
		return stored, nil
	}

	record := &paymentdomain.Webhook{
		ID:              s.genID.Generate(),
		Provider:        req.Provider,
		EventType:       req.EventType,
		ProviderEventID: req.ProviderEventID,
		Payload:         datatypes.JSON(req.Payload),
		Status:          paymentdomain.WebhookStatusPending,
		CreatedAt:       s.clock.Now(),
	}
	inserted, err := s.repo.InsertWebhook(ctx, s.db, record)
	if err != nil {
		return nil, err
	}
	if inserted {
		return record, nil
	}

	stored, err = s.repo.FindWebhook(ctx, s.db, req.Provider, req.ProviderEventID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, paymentdomain.ErrInvalidEvent
	}
	return stored, nil
}

// List exposes stored webhook records for reconciliation inspection.
func (s *Service) List(ctx context.Context, filter paymentdomain.ListWebhooksFilter) ([]paymentdomain.Webhook, error) {
	return s.repo.ListWebhooks(ctx, s.db, filter)
}

type applyResult struct {
	err       error
	paymentID *snowflake.ID
	payment   *paymentdomain.Payment
	topic     string
	orderNote string
}

// apply dispatches the normalized event type onto the matched payment.
func (s *Service) apply(ctx context.Context, stored *paymentdomain.Webhook, eventType string, parsed providerEvent) applyResult {
	switch normalizeEventType(eventType) {
	case "succeeded":
		return s.applyOutcome(ctx, parsed, paymentdomain.StatusSucceeded)
	case "failed":
		return s.applyOutcome(ctx, parsed, paymentdomain.StatusFailed)
	case "refunded":
		// Refund settlement is driven by the refund manager; the event is
		// recorded for reconciliation only.
		s.log.Info("refund webhook recorded",
			zap.String("provider", stored.Provider),
			zap.String("provider_event_id", stored.ProviderEventID),
		)
		return applyResult{}
	default:
		s.log.Info("ignoring unhandled webhook event",
			zap.String("provider", stored.Provider),
			zap.String("event_type", eventType),
		)
		return applyResult{}
	}
}

func (s *Service) applyOutcome(ctx context.Context, parsed providerEvent, outcome paymentdomain.Status) applyResult {
	payment, err := s.matchPayment(ctx, parsed)
	if err != nil {
		return applyResult{err: err}
	}

	result := applyResult{paymentID: &payment.ID}
	if !payment.Status.Active() {
		// Already settled, usually by the synchronous processor. The
		// delivery still counts as handled.
		return result
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		expected := []paymentdomain.Status{paymentdomain.StatusPending, paymentdomain.StatusProcessing}
		moved, err := s.repo.TransitionPayment(ctx, tx, payment.ID, expected, outcome, now)
		if err != nil {
			return err
		}
		if !moved {
			// Lost the race to another unit of work; nothing to reconcile.
			return nil
		}

		charge, err := s.repo.FindPendingCharge(ctx, tx, payment.ID)
		if err != nil {
			return err
		}
		if charge != nil {
			status := paymentdomain.TransactionStatusSucceeded
			if outcome == paymentdomain.StatusFailed {
				status = paymentdomain.TransactionStatusFailed
			}
			if err := s.repo.SettleTransaction(ctx, tx, charge.ID, status, parsed.Data.Object.ID, parsed.raw, &now); err != nil {
				return err
			}
		}

		if parsed.Data.Object.ID != "" {
			if err := s.repo.SetProviderPaymentID(ctx, tx, payment.ID, parsed.Data.Object.ID, now); err != nil {
				return err
			}
		}
		if outcome == paymentdomain.StatusSucceeded {
			if err := s.repo.MarkPaymentProcessed(ctx, tx, payment.ID, now); err != nil {
				return err
			}
		}

		payment.Status = outcome
		result.payment = payment
		if outcome == paymentdomain.StatusSucceeded {
			result.topic = event.PaymentSucceededTopic
			result.orderNote = orderdomain.PaymentStatusPaid
		} else {
			result.topic = event.PaymentFailedTopic
			result.orderNote = orderdomain.PaymentStatusFailed
		}
		return nil
	})
	if err != nil {
		return applyResult{err: err, paymentID: &payment.ID}
	}
	return result
}

// afterApply runs the best-effort post-commit side effects for a state
// change the reconciler made.
func (s *Service) afterApply(ctx context.Context, result applyResult) {
	if result.payment == nil || result.topic == "" {
		return
	}
	payment := result.payment

	if err := s.orderSvc.UpdatePaymentStatus(ctx, payment.OrderID, result.orderNote, "", ""); err != nil {
		s.log.Warn("failed to notify order service from webhook",
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err),
		)
	}

	if s.events == nil {
		return
	}
	payload := event.PaymentEventPayload{
		PaymentID: payment.ID.String(),
		OrderID:   payment.OrderID,
		UserID:    payment.UserID,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		Timestamp: s.clock.Now().Format(time.RFC3339),
		Source:    "payment.webhook",
	}
	if payment.ProviderPaymentID != nil {
		payload.ProviderPaymentID = *payment.ProviderPaymentID
	}
	if err := s.events.Publish(ctx, result.topic, payload); err != nil {
		s.log.Warn("failed to publish webhook event", zap.String("topic", result.topic), zap.Error(err))
	}
}

// matchPayment resolves the delivery to a payment, preferring the payment
// id the charge metadata carried over the provider-side reference.
func (s *Service) matchPayment(ctx context.Context, parsed providerEvent) (*paymentdomain.Payment, error) {
	if raw := strings.TrimSpace(parsed.Data.Object.Metadata["payment_id"]); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err == nil {
			payment, err := s.repo.FindPayment(ctx, s.db, id)
			if err != nil {
				return nil, err
			}
			if payment != nil {
				return payment, nil
			}
		}
	}

	if parsed.Data.Object.ID != "" {
		payment, err := s.repo.FindPaymentByProviderRef(ctx, s.db, parsed.Data.Object.ID)
		if err != nil {
			return nil, err
		}
		if payment != nil {
			return payment, nil
		}
	}

	return nil, paymentdomain.ErrPaymentNotFound
}

type providerEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`

	raw []byte
}

func parseProviderEvent(payload []byte) providerEvent {
	var parsed providerEvent
	_ = json.Unmarshal(payload, &parsed)
	parsed.ID = strings.TrimSpace(parsed.ID)
	parsed.Type = strings.TrimSpace(parsed.Type)
	parsed.raw = payload
	return parsed
}

// normalizeEventType folds provider-specific event names onto the three
// outcomes the reconciler acts on.
func normalizeEventType(eventType string) string {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "payment.succeeded", "charge.succeeded", "payment_intent.succeeded", "payment.capture.completed":
		return "succeeded"
	case "payment.failed", "charge.failed", "payment_intent.payment_failed", "payment.capture.denied":
		return "failed"
	case "payment.refunded", "refund.succeeded", "charge.refunded", "payment.capture.refunded":
		return "refunded"
	default:
		return ""
	}
}
