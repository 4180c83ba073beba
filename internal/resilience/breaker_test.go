package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/payrail/internal/config"
	"go.uber.org/zap"
)

func testResilienceConfig() config.ResilienceConfig {
	return config.ResilienceConfig{
		MaxAttempts:      3,
		InitialInterval:  time.Millisecond,
		MaxInterval:      5 * time.Millisecond,
		FailureThreshold: 2,
		SuccessThreshold: 1,
		ResetTimeout:     50 * time.Millisecond,
	}
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	breaker := NewBreaker("order-service", testResilienceConfig(), zap.NewNop(), nil)

	boom := errors.New("boom")
	calls := 0
	failing := func() error {
		calls++
		return boom
	}

	for i := 0; i < 2; i++ {
		if err := breaker.Execute(failing); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: expected boom, got %v", i, err)
		}
	}
	if breaker.State() != "open" {
		t.Fatalf("expected open state, got %s", breaker.State())
	}

	err := breaker.Execute(failing)
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("expected breaker_open, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected no call while open, got %d calls", calls)
	}
}

func TestBreakerAllowsTrialCallAfterReset(t *testing.T) {
	cfg := testResilienceConfig()
	breaker := NewBreaker("order-service", cfg, zap.NewNop(), nil)

	boom := errors.New("boom")
	for i := 0; i < int(cfg.FailureThreshold); i++ {
		_ = breaker.Execute(func() error { return boom })
	}
	if breaker.State() != "open" {
		t.Fatalf("expected open state, got %s", breaker.State())
	}

	time.Sleep(cfg.ResetTimeout + 10*time.Millisecond)

	called := false
	if err := breaker.Execute(func() error {
		called = true
		return nil
	}); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if !called {
		t.Fatalf("expected trial call to reach collaborator")
	}
	if breaker.State() != "closed" {
		t.Fatalf("expected closed after trial success, got %s", breaker.State())
	}
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cfg := testResilienceConfig()
	breaker := NewBreaker("order-service", cfg, zap.NewNop(), nil)

	boom := errors.New("boom")
	for i := 0; i < int(cfg.FailureThreshold); i++ {
		_ = breaker.Execute(func() error { return boom })
	}

	time.Sleep(cfg.ResetTimeout + 10*time.Millisecond)

	if err := breaker.Execute(func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected trial failure, got %v", err)
	}
	if breaker.State() != "open" {
		t.Fatalf("expected open after trial failure, got %s", breaker.State())
	}
}
