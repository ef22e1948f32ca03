package outbox

import (
	"github.com/smallbiznis/leaguetracker/internal/outbox/repository"
	"github.com/smallbiznis/leaguetracker/internal/outbox/service"
	"go.uber.org/fx"
)

// Module provides the outbox writer. The dispatcher lives in the
// dispatcher package so API-only processes never publish.
var Module = fx.Module("outbox",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
