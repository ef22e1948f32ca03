package trackerurl

import (
	"github.com/smallbiznis/leaguetracker/internal/trackerurl/repository"
	"github.com/smallbiznis/leaguetracker/internal/trackerurl/service"
	"go.uber.org/fx"
)

var Module = fx.Module("trackerurl.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
