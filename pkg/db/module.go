package db

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/leaguetracker/internal/config"
	obslogger "github.com/smallbiznis/leaguetracker/internal/observability/logger"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	gormprometheus "gorm.io/plugin/prometheus"
)

var Module = fx.Module("db",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Lc  fx.Lifecycle
	Cfg config.Config
	Log *zap.Logger
}

// New opens the primary gorm connection with logging, tracing and pool metrics.
func New(p Params) (*gorm.DB, error) {
	dialector, err := Dialect(p.Cfg)
	if err != nil {
		return nil, err
	}

	loggerCfg := obslogger.DefaultGormLoggerConfig()
	if !p.Cfg.IsProduction() {
		loggerCfg.Level = gormlogger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: obslogger.NewGormLogger(p.Log, loggerCfg, IsDuplicateKeyErr),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, err
	}

	if err := db.Use(otelgorm.NewPlugin(otelgorm.WithDBName(p.Cfg.DBName))); err != nil {
		return nil, err
	}

	promCfg := gormprometheus.Config{
		DBName:          p.Cfg.DBName,
		RefreshInterval: 15,
		StartServer:     false,
		Labels: map[string]string{
			"service": p.Cfg.AppName,
		},
	}
	if strings.EqualFold(p.Cfg.DBType, DialectMySQL) {
		promCfg.MetricsCollector = []gormprometheus.MetricsCollector{
			&gormprometheus.MySQL{VariableNames: []string{"Threads_running"}},
		}
	}
	if err := db.Use(gormprometheus.New(promCfg)); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(p.Cfg.DBMaxIdleConn)
	sqlDB.SetMaxOpenConns(p.Cfg.DBMaxOpenConn)
	sqlDB.SetConnMaxLifetime(time.Duration(p.Cfg.DBConnMaxLifetime) * time.Second)
	sqlDB.SetConnMaxIdleTime(time.Duration(p.Cfg.DBConnMaxIdleTime) * time.Second)

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return sqlDB.PingContext(ctx)
		},
		OnStop: func(ctx context.Context) error {
			_ = ctx
			p.Log.Info("closing database connection")
			return sqlDB.Close()
		},
	})

	return db, nil
}
