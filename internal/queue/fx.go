package queue

import (
	"go.uber.org/fx"
)

var Module = fx.Module("queue",
	fx.Provide(NewTransport),
	fx.Provide(NewPublisher),
	fx.Provide(func(p *Publisher) Enqueuer { return p }),
)
