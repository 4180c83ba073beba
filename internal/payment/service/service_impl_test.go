package service_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/payrail/internal/clock"
	"github.com/smallbiznis/payrail/internal/config"
	idemrepo "github.com/smallbiznis/payrail/internal/idempotency/repository"
	orderdomain "github.com/smallbiznis/payrail/internal/order/domain"
	"github.com/smallbiznis/payrail/internal/payment/adapters/mock"
	paymentdomain "github.com/smallbiznis/payrail/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/payrail/internal/payment/repository"
	paymentservice "github.com/smallbiznis/payrail/internal/payment/service"
	"github.com/smallbiznis/payrail/internal/resilience"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// One generator per package; parallel generators with the same node id can
// collide within a millisecond.
var idGen *snowflake.Node

func init() {
	node, err := snowflake.NewNode(21)
	if err != nil {
		panic(err)
	}
	idGen = node
}

type stubOrderService struct {
	order   *orderdomain.Order
	err     error
	updates []string
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string, token string) (*orderdomain.Order, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.order, nil
}

func (s *stubOrderService) UpdatePaymentStatus(ctx context.Context, orderID string, paymentStatus string, reason string, token string) error {
	s.updates = append(s.updates, paymentStatus)
	return nil
}

// countingAdapter records how many charges reach the gateway.
type countingAdapter struct {
	paymentdomain.PaymentAdapter
	charges int
}

func (a *countingAdapter) Charge(ctx context.Context, req paymentdomain.ChargeRequest) (paymentdomain.ChargeResult, error) {
	a.charges++
	return a.PaymentAdapter.Charge(ctx, req)
}

// unreachableAdapter simulates a gateway outage on every charge.
type unreachableAdapter struct {
	paymentdomain.PaymentAdapter
	charges int
}

func (a *unreachableAdapter) Charge(ctx context.Context, req paymentdomain.ChargeRequest) (paymentdomain.ChargeResult, error) {
	a.charges++
	return paymentdomain.ChargeResult{}, &resilience.StatusError{Code: http.StatusServiceUnavailable, Message: "gateway unavailable"}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE payments (
			id BIGINT PRIMARY KEY,
			order_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			payment_method_id TEXT,
			status TEXT NOT NULL,
			provider TEXT NOT NULL,
			provider_payment_id TEXT,
			amount BIGINT NOT NULL,
			refunded_amount BIGINT NOT NULL DEFAULT 0,
			currency TEXT NOT NULL,
			description TEXT,
			metadata TEXT,
			processed_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE payment_transactions (
			id BIGINT PRIMARY KEY,
			payment_id BIGINT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			provider_transaction_id TEXT,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			provider_response TEXT,
			processed_at DATETIME,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE idempotency_keys (
			key TEXT PRIMARY KEY,
			payment_id BIGINT NOT NULL,
			user_id TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func testResilienceConfig() config.ResilienceConfig {
	return config.ResilienceConfig{
		MaxAttempts:      2,
		InitialInterval:  time.Millisecond,
		MaxInterval:      2 * time.Millisecond,
		FailureThreshold: 100,
		SuccessThreshold: 1,
		ResetTimeout:     time.Second,
	}
}

func mockAdapter(t *testing.T, chargeFailRate float64) paymentdomain.PaymentAdapter {
	t.Helper()

	adapter, err := mock.NewFactory().NewAdapter(paymentdomain.AdapterConfig{
		Provider: "mock",
		Config: map[string]any{
			"charge_fail_rate": chargeFailRate,
			"refund_fail_rate": 0.0,
		},
	})
	if err != nil {
		t.Fatalf("new mock adapter: %v", err)
	}
	return adapter
}

func newTestService(t *testing.T, db *gorm.DB, adapter paymentdomain.PaymentAdapter, orders orderdomain.Service) paymentdomain.Service {
	t.Helper()

	holder := config.NewStaticResilienceConfigHolder(testResilienceConfig())
	return paymentservice.NewService(paymentservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: idGen,
		Cfg: config.Config{
			Environment:        "test",
			IdempotencyTTL:     24 * time.Hour,
			AmountEpsilonMinor: 1,
		},
		Clock:    clock.NewSystemClock(),
		Repo:     paymentrepo.Provide(),
		IdemRepo: idemrepo.Provide(),
		OrderSvc: orders,
		Adapter:  adapter,
		Retrier:  resilience.NewRetrier(holder),
		Breaker:  resilience.NewBreaker("provider:test", holder.Get(), zap.NewNop(), nil),
	})
}

func testOrder() *orderdomain.Order {
	return &orderdomain.Order{
		ID:            "order-1",
		OrderNumber:   "ORD-0001",
		UserID:        "user-1",
		TotalAmount:   5000,
		Currency:      "USD",
		Status:        "confirmed",
		PaymentStatus: orderdomain.PaymentStatusPending,
	}
}

func createRequest() paymentdomain.CreatePaymentRequest {
	return paymentdomain.CreatePaymentRequest{
		OrderID:         "order-1",
		UserID:          "user-1",
		Amount:          5000,
		Currency:        "USD",
		PaymentMethodID: "pm_test",
	}
}

func TestCreatePaymentReplaysIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newTestService(t, db, mockAdapter(t, 0), &stubOrderService{order: testOrder()})

	req := createRequest()
	req.IdempotencyKey = "idem-abc"

	first, err := svc.Create(ctx, req)
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	if first.Status != paymentdomain.StatusPending {
		t.Fatalf("expected pending, got %s", first.Status)
	}

	second, err := svc.Create(ctx, req)
	if err != nil {
		t.Fatalf("replay create: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected replay to return payment %s, got %s", first.ID, second.ID)
	}

	assertCount(t, db, "SELECT COUNT(1) FROM payments", 1)
	assertCount(t, db, "SELECT COUNT(1) FROM payment_transactions WHERE type = 'charge'", 1)
}

func TestCreatePaymentDerivesKeyFromRequest(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newTestService(t, db, mockAdapter(t, 0), &stubOrderService{order: testOrder()})

	first, err := svc.Create(ctx, createRequest())
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	second, err := svc.Create(ctx, createRequest())
	if err != nil {
		t.Fatalf("retried create: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected identical retry to collapse onto %s, got %s", first.ID, second.ID)
	}
	assertCount(t, db, "SELECT COUNT(1) FROM payments", 1)
}

func TestCreatePaymentRejectsSecondActivePayment(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newTestService(t, db, mockAdapter(t, 0), &stubOrderService{order: testOrder()})

	req := createRequest()
	req.IdempotencyKey = "idem-1"
	if _, err := svc.Create(ctx, req); err != nil {
		t.Fatalf("create payment: %v", err)
	}

	req.IdempotencyKey = "idem-2"
	if _, err := svc.Create(ctx, req); !errors.Is(err, paymentdomain.ErrDuplicatePayment) {
		t.Fatalf("expected duplicate payment error, got %v", err)
	}
	assertCount(t, db, "SELECT COUNT(1) FROM payments", 1)
}

func TestCreatePaymentValidation(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	orders := &stubOrderService{order: testOrder()}
	svc := newTestService(t, db, mockAdapter(t, 0), orders)

	cases := []struct {
		name    string
		mutate  func(*paymentdomain.CreatePaymentRequest)
		mutateO func(*stubOrderService)
		want    error
	}{
		{
			name:   "zero amount",
			mutate: func(r *paymentdomain.CreatePaymentRequest) { r.Amount = 0 },
			want:   paymentdomain.ErrInvalidAmount,
		},
		{
			name:   "bad currency",
			mutate: func(r *paymentdomain.CreatePaymentRequest) { r.Currency = "DOLLARS" },
			want:   paymentdomain.ErrInvalidCurrency,
		},
		{
			name:   "missing order",
			mutate: func(r *paymentdomain.CreatePaymentRequest) { r.OrderID = "" },
			want:   paymentdomain.ErrInvalidOrder,
		},
		{
			name:    "order not found",
			mutate:  func(r *paymentdomain.CreatePaymentRequest) {},
			mutateO: func(o *stubOrderService) { o.err = orderdomain.ErrOrderNotFound },
			want:    orderdomain.ErrOrderNotFound,
		},
		{
			name:   "amount mismatch",
			mutate: func(r *paymentdomain.CreatePaymentRequest) { r.Amount = 4000 },
			want:   paymentdomain.ErrAmountMismatch,
		},
		{
			name:   "foreign order",
			mutate: func(r *paymentdomain.CreatePaymentRequest) { r.UserID = "user-2" },
			want:   paymentdomain.ErrForbidden,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orders.err = nil
			if tc.mutateO != nil {
				tc.mutateO(orders)
			}
			req := createRequest()
			tc.mutate(&req)
			if _, err := svc.Create(ctx, req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	assertCount(t, db, "SELECT COUNT(1) FROM payments", 0)
}

func TestCreatePaymentToleratesAmountEpsilon(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newTestService(t, db, mockAdapter(t, 0), &stubOrderService{order: testOrder()})

	req := createRequest()
	req.Amount = 4999
	if _, err := svc.Create(ctx, req); err != nil {
		t.Fatalf("create within epsilon: %v", err)
	}
}

func TestProcessPaymentSucceeds(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	orders := &stubOrderService{order: testOrder()}
	svc := newTestService(t, db, mockAdapter(t, 0), orders)

	payment, err := svc.Create(ctx, createRequest())
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}

	processed, err := svc.Process(ctx, payment.ID, "token")
	if err != nil {
		t.Fatalf("process payment: %v", err)
	}
	if processed.Status != paymentdomain.StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", processed.Status)
	}
	if processed.ProviderPaymentID == nil || *processed.ProviderPaymentID != fmt.Sprintf("mock_pi_%s", payment.ID) {
		t.Fatalf("expected provider payment id to be recorded, got %v", processed.ProviderPaymentID)
	}
	if processed.ProcessedAt == nil {
		t.Fatalf("expected processed_at to be set")
	}

	assertCount(t, db, "SELECT COUNT(1) FROM payment_transactions WHERE type = 'charge' AND status = 'succeeded'", 1)
	if len(orders.updates) != 1 || orders.updates[0] != orderdomain.PaymentStatusPaid {
		t.Fatalf("expected one paid notification, got %v", orders.updates)
	}
}

func TestProcessPaymentDeclined(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	orders := &stubOrderService{order: testOrder()}
	svc := newTestService(t, db, mockAdapter(t, 1), orders)

	payment, err := svc.Create(ctx, createRequest())
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}

	processed, err := svc.Process(ctx, payment.ID, "token")
	if err != nil {
		t.Fatalf("process declined payment: %v", err)
	}
	if processed.Status != paymentdomain.StatusFailed {
		t.Fatalf("expected failed, got %s", processed.Status)
	}
	if processed.ProcessedAt != nil {
		t.Fatalf("expected no processed timestamp on a declined payment, got %v", processed.ProcessedAt)
	}

	assertCount(t, db, "SELECT COUNT(1) FROM payment_transactions WHERE type = 'charge' AND status = 'failed'", 1)
	if len(orders.updates) != 1 || orders.updates[0] != orderdomain.PaymentStatusFailed {
		t.Fatalf("expected one failed notification, got %v", orders.updates)
	}

	// A decline is final. The payment cannot be retried.
	if _, err := svc.Process(ctx, payment.ID, "token"); !errors.Is(err, paymentdomain.ErrNotProcessable) {
		t.Fatalf("expected not processable after decline, got %v", err)
	}
}

func TestProcessPaymentGatewayOutageLeavesPending(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	orders := &stubOrderService{order: testOrder()}
	outage := &unreachableAdapter{PaymentAdapter: mockAdapter(t, 0)}
	svc := newTestService(t, db, outage, orders)

	payment, err := svc.Create(ctx, createRequest())
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}

	if _, err := svc.Process(ctx, payment.ID, "token"); err == nil {
		t.Fatalf("expected transport error to surface")
	}
	if outage.charges != 2 {
		t.Fatalf("expected the retry budget to be spent, got %d attempts", outage.charges)
	}

	// The transition rolled back, so a later attempt against a healthy
	// gateway settles the same payment.
	stuck, err := svc.Get(ctx, payment.ID)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if stuck.Status != paymentdomain.StatusPending {
		t.Fatalf("expected pending after outage, got %s", stuck.Status)
	}
	assertCount(t, db, "SELECT COUNT(1) FROM payment_transactions WHERE status = 'pending'", 1)

	recovered := newTestService(t, db, mockAdapter(t, 0), orders)
	processed, err := recovered.Process(ctx, payment.ID, "token")
	if err != nil {
		t.Fatalf("process after recovery: %v", err)
	}
	if processed.Status != paymentdomain.StatusSucceeded {
		t.Fatalf("expected succeeded after recovery, got %s", processed.Status)
	}
}

func TestProcessPaymentChargesOnce(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	counter := &countingAdapter{PaymentAdapter: mockAdapter(t, 0)}
	svc := newTestService(t, db, counter, &stubOrderService{order: testOrder()})

	payment, err := svc.Create(ctx, createRequest())
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	if _, err := svc.Process(ctx, payment.ID, "token"); err != nil {
		t.Fatalf("process payment: %v", err)
	}
	if _, err := svc.Process(ctx, payment.ID, "token"); !errors.Is(err, paymentdomain.ErrNotProcessable) {
		t.Fatalf("expected second process to be rejected, got %v", err)
	}
	if counter.charges != 1 {
		t.Fatalf("expected exactly one charge, got %d", counter.charges)
	}
	assertCount(t, db, "SELECT COUNT(1) FROM payment_transactions WHERE type = 'charge'", 1)
}

func TestCancelPendingPayment(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newTestService(t, db, mockAdapter(t, 0), &stubOrderService{order: testOrder()})

	payment, err := svc.Create(ctx, createRequest())
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}

	cancelled, err := svc.Cancel(ctx, payment.ID, "customer request")
	if err != nil {
		t.Fatalf("cancel payment: %v", err)
	}
	if cancelled.Status != paymentdomain.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	assertCount(t, db, "SELECT COUNT(1) FROM payment_transactions WHERE type = 'void'", 1)

	if _, err := svc.Cancel(ctx, payment.ID, "again"); !errors.Is(err, paymentdomain.ErrNotCancellable) {
		t.Fatalf("expected second cancel to be rejected, got %v", err)
	}
	if _, err := svc.Process(ctx, payment.ID, "token"); !errors.Is(err, paymentdomain.ErrNotProcessable) {
		t.Fatalf("expected cancelled payment to be unprocessable, got %v", err)
	}
}

func TestTransactionsListsLedger(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newTestService(t, db, mockAdapter(t, 0), &stubOrderService{order: testOrder()})

	payment, err := svc.Create(ctx, createRequest())
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	if _, err := svc.Process(ctx, payment.ID, "token"); err != nil {
		t.Fatalf("process payment: %v", err)
	}

	txns, err := svc.Transactions(ctx, payment.ID)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txns) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(txns))
	}
	if txns[0].Type != paymentdomain.TransactionTypeCharge || txns[0].Status != paymentdomain.TransactionStatusSucceeded {
		t.Fatalf("unexpected ledger entry: %s/%s", txns[0].Type, txns[0].Status)
	}

	if _, err := svc.Transactions(ctx, payment.ID+1); !errors.Is(err, paymentdomain.ErrPaymentNotFound) {
		t.Fatalf("expected payment not found, got %v", err)
	}
}

func TestListPaymentsFiltersByUser(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newTestService(t, db, mockAdapter(t, 0), &stubOrderService{order: testOrder()})

	payment, err := svc.Create(ctx, createRequest())
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}

	mine, err := svc.List(ctx, paymentdomain.ListPaymentsFilter{UserID: "user-1"})
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != payment.ID {
		t.Fatalf("expected the caller's payment, got %v", mine)
	}

	theirs, err := svc.List(ctx, paymentdomain.ListPaymentsFilter{UserID: "user-2"})
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	if len(theirs) != 0 {
		t.Fatalf("expected no payments for another user, got %d", len(theirs))
	}

	pending, err := svc.List(ctx, paymentdomain.ListPaymentsFilter{UserID: "user-1", Status: paymentdomain.StatusPending})
	if err != nil {
		t.Fatalf("list pending payments: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected pending filter to match, got %d", len(pending))
	}
}

func assertCount(t *testing.T, db *gorm.DB, query string, expected int64) {
	t.Helper()

	var count int64
	if err := db.Raw(query).Scan(&count).Error; err != nil {
		t.Fatalf("query count: %v", err)
	}
	if count != expected {
		t.Fatalf("expected %d, got %d", expected, count)
	}
}
