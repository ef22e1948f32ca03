package worker

import (
	"github.com/smallbiznis/leaguetracker/internal/registration/processing"
	"go.uber.org/fx"
)

// Module wires the job consumer. Add fx.Invoke(worker.Start) to run it.
var Module = fx.Module("registration.worker",
	fx.Provide(processing.New),
	fx.Provide(NewProcessor),
	fx.Provide(NewSupervisor),
)
