package order

import (
	"github.com/smallbiznis/payrail/internal/order/client"
	"go.uber.org/fx"
)

var Module = fx.Module("order.client",
	fx.Provide(client.New),
)
