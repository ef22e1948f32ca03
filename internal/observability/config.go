package observability

import (
	"strings"

	"github.com/smallbiznis/leaguetracker/internal/config"
)

// Config is the slice of application config the observability providers read.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel              string
	LogFormat             string
	LogSamplingInitial    int
	LogSamplingThereafter int

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "leaguetracker"
	}
	obs := cfg.Observability

	return Config{
		ServiceName:           serviceName,
		Environment:           strings.TrimSpace(cfg.Environment),
		Version:               strings.TrimSpace(cfg.AppVersion),
		LogLevel:              obs.LogLevel,
		LogFormat:             obs.LogFormat,
		LogSamplingInitial:    obs.LogSamplingInitial,
		LogSamplingThereafter: obs.LogSamplingThereafter,
		OtelEnabled:           obs.OtelEnabled && obs.OtelEndpoint != "",
		OtelExporterEndpoint:  obs.OtelEndpoint,
		OtelExporterProtocol:  obs.OtelProtocol,
		OtelSamplingRatio:     obs.OtelSamplingRatio,
	}
}

// Debug enables verbose request logging and stack traces on errors.
func (c Config) Debug() bool {
	if strings.EqualFold(c.LogLevel, "debug") {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
