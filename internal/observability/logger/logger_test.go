package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	obscontext "github.com/smallbiznis/leaguetracker/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithActor(ctx, "user", "42")
	ctx = obscontext.WithMessageID(ctx, "01HZX")

	WithContext(ctx, base).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "user", fields["actor_type"])
	assert.Equal(t, "42", fields["actor_id"])
	assert.Equal(t, "01HZX", fields["message_id"])
	assert.NotContains(t, fields, "guild_id")
}

func TestDescribeSQL(t *testing.T) {
	cases := []struct {
		sql, op, table string
	}{
		{`WITH owned AS (SELECT 1) SELECT * FROM owned`, "SELECT", "owned"},
		{`  update "registrations" set status = 'COMPLETED'`, "UPDATE", "registrations"},
		{`INSERT INTO idempotency_records (message_id) VALUES ($1)`, "INSERT", "idempotency_records"},
		{``, "UNKNOWN", ""},
	}
	for _, tc := range cases {
		op, table := describeSQL(tc.sql)
		assert.Equal(t, tc.op, op, tc.sql)
		assert.Equal(t, tc.table, table, tc.sql)
	}
}

func TestGormLoggerIgnoresRecordNotFound(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	gl := NewGormLogger(zap.New(core), DefaultGormLoggerConfig(), nil)

	gl.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT * FROM trackers", 0 }, gormlogger.ErrRecordNotFound)

	assert.Equal(t, 0, logs.Len())
}

func TestGormLoggerDowngradesExpectedErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	expected := errors.New("duplicate")
	gl := NewGormLogger(zap.New(core), DefaultGormLoggerConfig(), func(err error) bool {
		return errors.Is(err, expected)
	})

	gl.Trace(context.Background(), time.Now(), func() (string, int64) { return "INSERT INTO registrations", 0 }, expected)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.DebugLevel, logs.All()[0].Level)
}

func TestWatermillAdapterWithFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	adapter := NewWatermillAdapter(zap.New(core)).With(watermill.LogFields{"topic": "registrations"})

	adapter.Error("publish failed", errors.New("nats down"), watermill.LogFields{"attempt": 2})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "watermill", entry.LoggerName)
	assert.Equal(t, "registrations", entry.ContextMap()["topic"])
	assert.Equal(t, "nats down", entry.ContextMap()["error"])
}

func TestSamplingNeverDropsWarnings(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cfg := Config{SamplingInitial: 1, SamplingThereafter: 1000}.withDefaults()
	log := zap.New(sampleBelowWarn(core, cfg))

	for i := 0; i < 5; i++ {
		log.Info("job processed")
		log.Warn("job failed")
	}

	assert.Equal(t, 1, logs.FilterMessage("job processed").Len())
	assert.Equal(t, 5, logs.FilterMessage("job failed").Len())
}

func TestRequestLevel(t *testing.T) {
	const submit = "/api/guilds/:guildID/registrations"
	assert.Equal(t, zapcore.DebugLevel, requestLevel("/health", 200, ""))
	assert.Equal(t, zapcore.DebugLevel, requestLevel(submit, 409, "conflict"))
	assert.Equal(t, zapcore.DebugLevel, requestLevel(submit+"/batch", 400, "validation_error"))
	assert.Equal(t, zapcore.InfoLevel, requestLevel(submit+"/:id/approve", 409, "invalid_state"))
	assert.Equal(t, zapcore.InfoLevel, requestLevel(submit, 201, ""))
	assert.Equal(t, zapcore.ErrorLevel, requestLevel(submit, 500, "internal_error"))
}
