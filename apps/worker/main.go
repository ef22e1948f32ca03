package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leaguetracker/internal/audit"
	"github.com/smallbiznis/leaguetracker/internal/clock"
	"github.com/smallbiznis/leaguetracker/internal/config"
	"github.com/smallbiznis/leaguetracker/internal/idempotency"
	"github.com/smallbiznis/leaguetracker/internal/notification"
	"github.com/smallbiznis/leaguetracker/internal/observability"
	"github.com/smallbiznis/leaguetracker/internal/outbox"
	"github.com/smallbiznis/leaguetracker/internal/outbox/dispatcher"
	"github.com/smallbiznis/leaguetracker/internal/queue"
	"github.com/smallbiznis/leaguetracker/internal/ratelimit"
	"github.com/smallbiznis/leaguetracker/internal/registration"
	"github.com/smallbiznis/leaguetracker/internal/registration/worker"
	"github.com/smallbiznis/leaguetracker/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		ratelimit.Module,

		audit.Module,
		registration.RepositoryModule,
		outbox.Module,
		idempotency.Module,
		queue.Module,
		dispatcher.Module,
		notification.Module,
		worker.Module,

		// No server module!
		fx.Invoke(worker.Start),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
