package event

import "go.uber.org/fx"

var Module = fx.Module("event.outbox",
	fx.Provide(NewOutboxPublisher),
)
