package idempotency

import (
	"github.com/smallbiznis/payrail/internal/idempotency/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("idempotency",
	fx.Provide(repository.Provide),
)
