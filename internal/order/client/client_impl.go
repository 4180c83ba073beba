package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/smallbiznis/payrail/internal/config"
	orderdomain "github.com/smallbiznis/payrail/internal/order/domain"
	"github.com/smallbiznis/payrail/internal/resilience"
	obsmetrics "github.com/smallbiznis/payrail/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg        config.Config
	Holder     *config.ResilienceConfigHolder
	Log        *zap.Logger
	Retrier    *resilience.Retrier
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Client struct {
	baseURL string
	log     *zap.Logger
	client  *http.Client
	retrier *resilience.Retrier
	breaker *resilience.Breaker
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func New(p Params) orderdomain.Service {
	return &Client{
		baseURL: p.Cfg.OrderServiceURL,
		log:     p.Log.Named("order.client"),
		client:  &http.Client{Timeout: p.Cfg.OrderServiceTimeout},
		retrier: p.Retrier,
		breaker: resilience.NewBreaker("order-service", p.Holder.Get(), p.Log, p.ObsMetrics),
	}
}

func (c *Client) GetOrder(ctx context.Context, orderID string, token string) (*orderdomain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, orderdomain.ErrOrderNotFound
	}

	var found *orderdomain.Order
	err := c.retrier.Call(ctx, c.breaker, func() error {
		order, err := c.fetchOrder(ctx, orderID, token)
		if err != nil {
			return err
		}
		found = order
		return nil
	})
	if err != nil {
		var statusErr *resilience.StatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
			return nil, orderdomain.ErrOrderNotFound
		}
		if errors.Is(err, resilience.ErrBreakerOpen) {
			return nil, fmt.Errorf("%w: %w", orderdomain.ErrUnavailable, err)
		}
		if resilience.IsTransient(err) {
			return nil, fmt.Errorf("%w: %w", orderdomain.ErrUnavailable, err)
		}
		return nil, err
	}
	return found, nil
}

func (c *Client) UpdatePaymentStatus(ctx context.Context, orderID string, paymentStatus string, reason string, token string) error {
	body := map[string]string{"payment_status": paymentStatus}
	if reason != "" {
		body["reason"] = reason
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}

	target := fmt.Sprintf("%s/v1/orders/%s/payment-status", c.baseURL, url.PathEscape(orderID))
	err = c.retrier.Call(ctx, c.breaker, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPatch, target, bytes.NewReader(encoded))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		setAuth(req, token)

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusBadRequest {
			return readStatusError(resp)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	})
	if err != nil {
		if errors.Is(err, resilience.ErrBreakerOpen) || resilience.IsTransient(err) {
			return fmt.Errorf("%w: %w", orderdomain.ErrUnavailable, err)
		}
		return err
	}
	return nil
}

func (c *Client) fetchOrder(ctx context.Context, orderID string, token string) (*orderdomain.Order, error) {
	target := fmt.Sprintf("%s/v1/orders/%s", c.baseURL, url.PathEscape(orderID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	setAuth(req, token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, readStatusError(resp)
	}

	var order orderdomain.Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	if strings.TrimSpace(order.ID) == "" {
		return nil, &resilience.StatusError{Code: http.StatusNotFound, Message: "order missing"}
	}
	return &order, nil
}

func setAuth(req *http.Request, token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}

func readStatusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed errorBody
	message := ""
	if err := json.Unmarshal(raw, &parsed); err == nil {
		message = parsed.Error.Message
	}
	return &resilience.StatusError{Code: resp.StatusCode, Message: message}
}
