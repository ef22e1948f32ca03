package dispatcher

import "go.uber.org/fx"

var Module = fx.Module("outbox.dispatcher",
	fx.Provide(New),
	fx.Provide(func(d *Dispatcher) *Pruner { return &Pruner{Dispatcher: d} }),
)
