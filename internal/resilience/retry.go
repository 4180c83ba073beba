package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/payrail/internal/config"
)

// StatusError carries an HTTP status from a collaborator response so the
// retry layer can classify it.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("collaborator returned status %d", e.Code)
	}
	return fmt.Sprintf("collaborator returned status %d: %s", e.Code, e.Message)
}

// IsTransient reports whether an outcome is worth retrying: 5xx responses,
// timeouts and connection resets. Everything else is treated as permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= http.StatusInternalServerError
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return false
}

// Retrier retries transient failures with exponential backoff, bounded by
// the configured attempt budget.
type Retrier struct {
	holder *config.ResilienceConfigHolder
}

func NewRetrier(holder *config.ResilienceConfigHolder) *Retrier {
	return &Retrier{holder: holder}
}

// Do runs fn up to the configured number of attempts. Non-transient errors
// and breaker rejections stop immediately without consuming the budget.
func (r *Retrier) Do(ctx context.Context, fn func() error) error {
	cfg := r.holder.Get()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.MaxInterval = cfg.MaxInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn()
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, ErrBreakerOpen) || !IsTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(cfg.MaxAttempts),
	)
	return err
}

// Call wraps fn with the breaker and the retry budget: each attempt goes
// through the breaker, and an open breaker ends the retry loop immediately.
func (r *Retrier) Call(ctx context.Context, breaker *Breaker, fn func() error) error {
	return r.Do(ctx, func() error {
		return breaker.Execute(fn)
	})
}
