package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/payrail/internal/config"
	paymentdomain "github.com/smallbiznis/payrail/internal/payment/domain"
	refunddomain "github.com/smallbiznis/payrail/internal/payment/refund/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(IdentityMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	paymentSvc paymentdomain.Service
	webhookSvc paymentdomain.WebhookService
	refundSvc  refunddomain.Service
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	PaymentSvc paymentdomain.Service
	WebhookSvc paymentdomain.WebhookService
	RefundSvc  refunddomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("server"),
		paymentSvc: p.PaymentSvc,
		webhookSvc: p.WebhookSvc,
		refundSvc:  p.RefundSvc,
	}

	svc.registerPaymentRoutes()
	svc.registerRefundRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) registerPaymentRoutes() {
	group := s.engine.Group("/v1/payments")
	group.POST("", s.HandleCreatePayment)
	group.GET("", s.HandleListPayments)
	group.GET("/:id", s.HandleGetPayment)
	group.POST("/:id/process", s.HandleProcessPayment)
	group.POST("/:id/cancel", s.HandleCancelPayment)
	group.GET("/:id/transactions", s.HandleListTransactions)
	group.GET("/:id/refunds", s.HandleListRefunds)
}

func (s *Server) registerRefundRoutes() {
	group := s.engine.Group("/v1/refunds")
	group.POST("", s.HandleCreateRefund)
	group.GET("/:id", s.HandleGetRefund)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/v1/webhooks/:provider", s.HandlePaymentWebhook)
	s.engine.GET("/v1/webhooks", s.HandleListPaymentWebhooks)
}

func run(lc fx.Lifecycle, cfg config.Config, srv *Server) {
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: srv.engine,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	})
}
