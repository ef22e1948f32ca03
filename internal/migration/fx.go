package migration

import (
	"strings"

	"github.com/smallbiznis/leaguetracker/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(migrateOnStart),
)

func migrateOnStart(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	log = log.Named("migration")
	if !cfg.DBAutoMigrate {
		log.Info("database auto-migrate disabled")
		return nil
	}
	if !strings.EqualFold(cfg.DBType, "postgres") {
		log.Warn("embedded migrations target postgres; skipping", zap.String("db_type", cfg.DBType))
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	res, err := RunMigrations(sqlDB)
	if err != nil {
		log.Error("schema migration failed", zap.Error(err))
		return err
	}
	log.Info("schema ready", zap.Uint("version", res.Version), zap.Bool("applied", res.Applied))
	return nil
}
