package notification

import (
	"github.com/smallbiznis/leaguetracker/internal/config"
	obsmetrics "github.com/smallbiznis/leaguetracker/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification",
	fx.Provide(NewFromConfig),
)

type Params struct {
	fx.In

	Cfg     config.Config
	Holder  *config.PipelineConfigHolder
	Log     *zap.Logger
	Metrics *obsmetrics.PipelineMetrics `optional:"true"`
}

func NewFromConfig(p Params) Sender {
	if p.Cfg.Notification.DiscordWebhookURL == "" {
		p.Log.Named("notification").Info("no discord webhook configured; notifications disabled")
		return NoOpSender{}
	}
	return NewDiscordSender(DiscordConfig{
		WebhookURL:    p.Cfg.Notification.DiscordWebhookURL,
		Timeout:       p.Cfg.Notification.Timeout,
		RatePerSecond: p.Cfg.Notification.RatePerSecond,
		Burst:         p.Cfg.Notification.Burst,
	}, p.Holder, p.Log, p.Metrics)
}
