package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leaguetracker/internal/audit"
	"github.com/smallbiznis/leaguetracker/internal/clock"
	"github.com/smallbiznis/leaguetracker/internal/config"
	"github.com/smallbiznis/leaguetracker/internal/migration"
	"github.com/smallbiznis/leaguetracker/internal/observability"
	"github.com/smallbiznis/leaguetracker/internal/outbox"
	"github.com/smallbiznis/leaguetracker/internal/ratelimit"
	"github.com/smallbiznis/leaguetracker/internal/registration"
	"github.com/smallbiznis/leaguetracker/internal/server"
	"github.com/smallbiznis/leaguetracker/internal/tracker"
	"github.com/smallbiznis/leaguetracker/internal/trackerurl"
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
		migration.Module,
		ratelimit.Module,

		// Writes registrations and outbox rows only; apps/worker publishes them.
		audit.Module,
		trackerurl.Module,
		tracker.Module,
		outbox.Module,
		registration.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
