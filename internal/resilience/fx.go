package resilience

import (
	"go.uber.org/fx"
)

var Module = fx.Module("resilience",
	fx.Provide(NewRetrier),
)
