package payment

import (
	"github.com/smallbiznis/payrail/internal/config"
	obsmetrics "github.com/smallbiznis/payrail/internal/observability/metrics"
	"github.com/smallbiznis/payrail/internal/payment/adapters"
	"github.com/smallbiznis/payrail/internal/payment/domain"
	refundrepo "github.com/smallbiznis/payrail/internal/payment/refund/repository"
	refundservice "github.com/smallbiznis/payrail/internal/payment/refund/service"
	"github.com/smallbiznis/payrail/internal/payment/repository"
	paymentservice "github.com/smallbiznis/payrail/internal/payment/service"
	"github.com/smallbiznis/payrail/internal/payment/webhook"
	"github.com/smallbiznis/payrail/internal/resilience"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(refundrepo.Provide),
	fx.Provide(adapters.DefaultRegistry),
	fx.Provide(func(registry *adapters.Registry, cfg config.Config, log *zap.Logger) domain.PaymentAdapter {
		return registry.Resolve(cfg, log)
	}),
	// One breaker per provider, shared by the payment and refund services.
	fx.Provide(fx.Annotate(
		func(adapter domain.PaymentAdapter, holder *config.ResilienceConfigHolder, log *zap.Logger, metrics *obsmetrics.Metrics) *resilience.Breaker {
			return resilience.NewBreaker("provider:"+adapter.Name(), holder.Get(), log, metrics)
		},
		fx.ParamTags(``, ``, ``, `optional:"true"`),
		fx.ResultTags(`name:"provider_breaker"`),
	)),
	fx.Provide(paymentservice.NewService),
	fx.Provide(refundservice.NewService),
	fx.Provide(webhook.NewService),
)
