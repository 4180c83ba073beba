package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	paymentsCreated    metric.Int64Counter
	chargeOutcomes     metric.Int64Counter
	refundOutcomes     metric.Int64Counter
	webhookEvents      metric.Int64Counter
	breakerTransitions metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "payrail"
	}
	meter := provider.Meter(name)

	paymentsCreated, err := meter.Int64Counter("payrail_payments_created_total")
	if err != nil {
		return nil, err
	}
	chargeOutcomes, err := meter.Int64Counter("payrail_charges_total")
	if err != nil {
		return nil, err
	}
	refundOutcomes, err := meter.Int64Counter("payrail_refunds_total")
	if err != nil {
		return nil, err
	}
	webhookEvents, err := meter.Int64Counter("payrail_webhook_events_total")
	if err != nil {
		return nil, err
	}
	breakerTransitions, err := meter.Int64Counter("payrail_breaker_transitions_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		paymentsCreated:    paymentsCreated,
		chargeOutcomes:     chargeOutcomes,
		refundOutcomes:     refundOutcomes,
		webhookEvents:      webhookEvents,
		breakerTransitions: breakerTransitions,
	}, nil
}

// RecordPaymentCreated increments created payment counts.
func (m *Metrics) RecordPaymentCreated(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	attrs := filterAttributes(attribute.String("provider", strings.TrimSpace(provider)))
	m.paymentsCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCharge increments charge attempt counts by outcome.
func (m *Metrics) RecordCharge(ctx context.Context, provider, status string) {
	if m == nil {
		return
	}
	attrs := filterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.chargeOutcomes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRefund increments refund counts by outcome.
func (m *Metrics) RecordRefund(ctx context.Context, provider, status string) {
	if m == nil {
		return
	}
	attrs := filterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.refundOutcomes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordWebhookEvent increments webhook event counts.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, eventType string) {
	if m == nil {
		return
	}
	attrs := filterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBreakerTransition increments breaker state transition counts.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, collaborator, from, to string) {
	if m == nil {
		return
	}
	attrs := filterAttributes(
		attribute.String("collaborator", strings.TrimSpace(collaborator)),
		attribute.String("from", strings.TrimSpace(from)),
		attribute.String("to", strings.TrimSpace(to)),
	)
	m.breakerTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"provider":     {},
	"status":       {},
	"event_type":   {},
	"collaborator": {},
	"from":         {},
	"to":           {},
}

func filterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		if attr.Value.AsString() == "" {
			continue
		}
		out = append(out, attr)
	}
	return out
}
