package observability

import (
	"testing"

	"github.com/smallbiznis/leaguetracker/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigFromApplicationConfig(t *testing.T) {
	cfg := LoadConfig(config.Config{
		Environment: "production",
		Observability: config.ObservabilityConfig{
			LogLevel:     "debug",
			OtelEnabled:  true,
			OtelEndpoint: "collector:4317",
			OtelProtocol: "http",
		},
	})

	assert.Equal(t, "leaguetracker", cfg.ServiceName)
	assert.Equal(t, "http", cfg.OtelExporterProtocol)
	assert.Equal(t, "collector:4317", cfg.OtelExporterEndpoint)
	assert.True(t, cfg.OtelEnabled)
	assert.True(t, cfg.Debug())
}

func TestOtelDisabledWithoutEndpoint(t *testing.T) {
	cfg := LoadConfig(config.Config{
		Observability: config.ObservabilityConfig{OtelEnabled: true},
	})
	assert.False(t, cfg.OtelEnabled)
}

func TestDebugFollowsEnvironment(t *testing.T) {
	assert.True(t, Config{Environment: "local", LogLevel: "info"}.Debug())
	assert.False(t, Config{Environment: "production", LogLevel: "info"}.Debug())
}
