package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/payrail/internal/config"
	obsmetrics "github.com/smallbiznis/payrail/internal/observability/metrics"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// ErrBreakerOpen reports that the collaborator's circuit is open and the
// call was rejected without going out on the network.
var ErrBreakerOpen = errors.New("breaker_open")

// Breaker is a per-collaborator circuit breaker. CLOSED trips to OPEN after
// a configured number of consecutive failures, OPEN admits nothing until the
// reset timeout elapses, HALF_OPEN closes again after a configured number of
// consecutive trial successes and reopens on any failure.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker[any]
}

func NewBreaker(name string, cfg config.ResilienceConfig, log *zap.Logger, metrics *obsmetrics.Metrics) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.SuccessThreshold,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if log != nil {
				log.Warn("circuit breaker state change",
					zap.String("collaborator", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			}
			metrics.RecordBreakerTransition(context.Background(), name, from.String(), to.String())
		},
	}

	return &Breaker{
		name: name,
		cb:   gobreaker.NewCircuitBreaker[any](settings),
	}
}

func (b *Breaker) Name() string { return b.name }

// Execute runs fn through the breaker. A rejected call is reported as
// ErrBreakerOpen so callers can tell it apart from a collaborator failure.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", b.name, ErrBreakerOpen)
	}
	return err
}

// State reports the current breaker state (closed, half-open, open).
func (b *Breaker) State() string {
	return b.cb.State().String()
}
