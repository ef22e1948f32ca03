package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leaguetracker/internal/audit"
	"github.com/smallbiznis/leaguetracker/internal/clock"
	"github.com/smallbiznis/leaguetracker/internal/config"
	"github.com/smallbiznis/leaguetracker/internal/idempotency"
	"github.com/smallbiznis/leaguetracker/internal/migration"
	"github.com/smallbiznis/leaguetracker/internal/notification"
	"github.com/smallbiznis/leaguetracker/internal/observability"
	"github.com/smallbiznis/leaguetracker/internal/outbox"
	"github.com/smallbiznis/leaguetracker/internal/outbox/dispatcher"
	"github.com/smallbiznis/leaguetracker/internal/queue"
	"github.com/smallbiznis/leaguetracker/internal/ratelimit"
	"github.com/smallbiznis/leaguetracker/internal/registration"
	"github.com/smallbiznis/leaguetracker/internal/registration/worker"
	"github.com/smallbiznis/leaguetracker/internal/server"
	"github.com/smallbiznis/leaguetracker/internal/tracker"
	"github.com/smallbiznis/leaguetracker/internal/trackerurl"
	"github.com/smallbiznis/leaguetracker/pkg/db"
	"go.uber.org/fx"
)

// API and worker in one process. With the memory queue driver this is the
// only layout where published jobs reach a consumer.
func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		ratelimit.Module,

		// Registration pipeline
		audit.Module,
		trackerurl.Module,
		tracker.Module,
		outbox.Module,
		registration.Module,
		idempotency.Module,
		queue.Module,
		dispatcher.Module,
		notification.Module,
		worker.Module,

		server.Module,
		fx.Invoke(worker.Start),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
