package registration

import (
	"github.com/smallbiznis/leaguetracker/internal/registration/repository"
	"github.com/smallbiznis/leaguetracker/internal/registration/service"
	"go.uber.org/fx"
)

// RepositoryModule is enough for worker-only processes.
var RepositoryModule = fx.Module("registration.repository",
	fx.Provide(repository.Provide),
)

// Module is the submission and moderation service. It includes RepositoryModule.
var Module = fx.Module("registration.service",
	RepositoryModule,
	fx.Provide(service.New),
)
