package migration

import (
	auditdomain "github.com/smallbiznis/payrail/internal/audit/domain"
	"github.com/smallbiznis/payrail/internal/config"
	"github.com/smallbiznis/payrail/internal/event"
	idemdomain "github.com/smallbiznis/payrail/internal/idempotency/domain"
	paymentdomain "github.com/smallbiznis/payrail/internal/payment/domain"
	refunddomain "github.com/smallbiznis/payrail/internal/payment/refund/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if cfg.DBType != "postgres" {
			// The embedded SQL migrations are postgres-specific. Other
			// databases derive their schema from the models.
			log.Info("bootstrapping schema from models",
				zap.String("db_type", cfg.DBType))
			return conn.AutoMigrate(
				&paymentdomain.Payment{},
				&paymentdomain.Transaction{},
				&paymentdomain.Webhook{},
				&refunddomain.Refund{},
				&idemdomain.Record{},
				&event.OutboxEvent{},
				&auditdomain.AuditLog{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
