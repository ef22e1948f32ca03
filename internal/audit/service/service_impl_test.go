package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/leaguetracker/internal/audit/domain"
	"github.com/smallbiznis/leaguetracker/internal/audit/repository"
	"github.com/smallbiznis/leaguetracker/internal/clock"
	obscontext "github.com/smallbiznis/leaguetracker/internal/observability/context"
	"github.com/smallbiznis/leaguetracker/pkg/db/dbtest"
	"github.com/smallbiznis/leaguetracker/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (auditdomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db := dbtest.Open(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(Params{DB: db, Log: zap.NewNop(), GenID: node, Clock: fake, Repo: repository.Provide()})
	return svc, db, fake
}

func TestRecordResolvesActorAndClientFromContext(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := obscontext.WithActor(context.Background(), "admin", "admin-1")
	ctx = obscontext.WithClient(ctx, "10.0.0.1", "curl/8")
	ctx = obscontext.WithRequestID(ctx, "req-1")

	err := svc.Record(ctx, nil, auditdomain.Entry{
		GuildID:    "guild-1",
		Action:     auditdomain.ActionRegistrationRejected,
		TargetType: auditdomain.TargetRegistration,
		TargetID:   "42",
		Metadata:   map[string]any{"reason": "duplicate account", "token": "abcdefghijkl"},
	})
	require.NoError(t, err)

	var stored auditdomain.AuditLog
	require.NoError(t, db.First(&stored).Error)
	assert.Equal(t, "admin", stored.ActorType)
	require.NotNil(t, stored.ActorID)
	assert.Equal(t, "admin-1", *stored.ActorID)
	require.NotNil(t, stored.IPAddress)
	assert.Equal(t, "10.0.0.1", *stored.IPAddress)
	assert.Equal(t, "duplicate account", stored.Metadata["reason"])
	assert.Equal(t, "****ijkl", stored.Metadata["token"])
	assert.Equal(t, "req-1", stored.Metadata["request_id"])
}

func TestRecordDefaultsToSystemActorAndRollsBackWithTx(t *testing.T) {
	svc, db, _ := newTestService(t)

	_ = db.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, svc.Record(context.Background(), tx, auditdomain.Entry{
			GuildID: "guild-1",
			Action:  auditdomain.ActionRegistrationFailed,
		}))
		return gorm.ErrInvalidTransaction
	})

	var count int64
	require.NoError(t, db.Model(&auditdomain.AuditLog{}).Count(&count).Error)
	assert.Zero(t, count)

	require.NoError(t, svc.Record(context.Background(), nil, auditdomain.Entry{GuildID: "guild-1", Action: auditdomain.ActionRegistrationFailed}))
	var stored auditdomain.AuditLog
	require.NoError(t, db.First(&stored).Error)
	assert.Equal(t, string(auditdomain.ActorTypeSystem), stored.ActorType)
	assert.Equal(t, "unknown", stored.TargetType)

	assert.ErrorIs(t, svc.Record(context.Background(), nil, auditdomain.Entry{}), auditdomain.ErrInvalidAction)
}

func TestListPaginatesNewestFirst(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Record(ctx, nil, auditdomain.Entry{GuildID: "guild-1", Action: auditdomain.ActionTrackerDeleted, TargetID: string(rune('a' + i))}))
		fake.Advance(time.Second)
	}
	require.NoError(t, svc.Record(ctx, nil, auditdomain.Entry{GuildID: "guild-2", Action: auditdomain.ActionTrackerDeleted}))

	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{GuildID: "guild-1", Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	assert.True(t, first.HasMore)
	assert.Equal(t, "c", *first.AuditLogs[0].TargetID)

	second, err := svc.List(ctx, auditdomain.ListAuditLogRequest{GuildID: "guild-1", Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 1)
	assert.False(t, second.HasMore)
	assert.Equal(t, "a", *second.AuditLogs[0].TargetID)

	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidGuild)
	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{GuildID: "guild-1", Pagination: pagination.Pagination{PageToken: "%%%"}})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)
}
