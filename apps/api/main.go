package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payrail/internal/audit"
	"github.com/smallbiznis/payrail/internal/clock"
	"github.com/smallbiznis/payrail/internal/config"
	"github.com/smallbiznis/payrail/internal/event"
	"github.com/smallbiznis/payrail/internal/idempotency"
	"github.com/smallbiznis/payrail/internal/lock"
	"github.com/smallbiznis/payrail/internal/logger"
	"github.com/smallbiznis/payrail/internal/migration"
	"github.com/smallbiznis/payrail/internal/observability"
	"github.com/smallbiznis/payrail/internal/order"
	"github.com/smallbiznis/payrail/internal/payment"
	"github.com/smallbiznis/payrail/internal/resilience"
	"github.com/smallbiznis/payrail/internal/server"
	"github.com/smallbiznis/payrail/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		resilience.Module,
		lock.Module,
		event.Module,
		audit.Module,
		order.Module,
		idempotency.Module,
		payment.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
