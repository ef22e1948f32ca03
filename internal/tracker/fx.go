package tracker

import (
	"github.com/smallbiznis/leaguetracker/internal/tracker/repository"
	"github.com/smallbiznis/leaguetracker/internal/tracker/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tracker.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
