package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leaguetracker/internal/clock"
	"github.com/smallbiznis/leaguetracker/internal/tracker/domain"
	"github.com/smallbiznis/leaguetracker/internal/tracker/repository"
	"github.com/smallbiznis/leaguetracker/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db := dbtest.Open(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := New(Params{DB: db, Log: zap.NewNop(), Clock: fake, Repo: repository.Provide()})
	return svc, db, fake
}

func seedTracker(t *testing.T, db *gorm.DB, id snowflake.ID, userID, url string) {
	t.Helper()
	now := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	require.NoError(t, repository.Provide().Insert(context.Background(), db, &domain.Tracker{
		ID:             id,
		URL:            url,
		Game:           "ROCKET_LEAGUE",
		Platform:       "STEAM",
		Username:       "player",
		UserID:         userID,
		IsActive:       true,
		ScrapingStatus: domain.ScrapingPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}))
}

func TestGetAndListTrackers(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	seedTracker(t, db, 101, "user-1", "https://rocketleague.tracker.network/rocket-league/profile/steam/a/overview")
	seedTracker(t, db, 102, "user-1", "https://rocketleague.tracker.network/rocket-league/profile/steam/b/overview")
	seedTracker(t, db, 103, "user-2", "https://rocketleague.tracker.network/rocket-league/profile/steam/c/overview")

	tracker, err := svc.GetTracker(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, "user-1", tracker.UserID)

	_, err = svc.GetTracker(ctx, "999")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.GetTracker(ctx, "abc")
	assert.ErrorIs(t, err, domain.ErrInvalidID)

	trackers, err := svc.ListTrackersByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, trackers, 2)

	count, err := svc.CountActiveByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	_, err = svc.ListTrackersByUser(ctx, " ")
	assert.ErrorIs(t, err, domain.ErrInvalidUser)
}

func TestDeleteTrackerIsSoft(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	seedTracker(t, db, 201, "user-1", "https://rocketleague.tracker.network/rocket-league/profile/epic/x/overview")

	require.NoError(t, svc.DeleteTracker(ctx, "201"))

	_, err := svc.GetTracker(ctx, "201")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteTracker(ctx, "201"), domain.ErrNotFound)

	var row domain.Tracker
	require.NoError(t, db.First(&row, "id = ?", 201).Error)
	assert.True(t, row.IsDeleted)
	assert.False(t, row.IsActive)

	count, err := svc.CountActiveByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUpdateScrapingStatusTransitions(t *testing.T) {
	svc, db, fake := newTestService(t)
	ctx := context.Background()
	seedTracker(t, db, 301, "user-1", "https://rocketleague.tracker.network/rocket-league/profile/psn/y/overview")

	tracker, err := svc.UpdateScrapingStatus(ctx, "301", domain.ScrapingInProgress, "")
	require.NoError(t, err)
	assert.Equal(t, domain.ScrapingInProgress, tracker.ScrapingStatus)
	assert.Equal(t, 1, tracker.ScrapingAttempts)

	tracker, err = svc.UpdateScrapingStatus(ctx, "301", domain.ScrapingFailed, "profile private")
	require.NoError(t, err)
	require.NotNil(t, tracker.ScrapingError)
	assert.Equal(t, "profile private", *tracker.ScrapingError)
	assert.Nil(t, tracker.LastScrapedAt)

	fake.Advance(time.Minute)
	_, err = svc.UpdateScrapingStatus(ctx, "301", "in_progress", "")
	require.NoError(t, err)
	tracker, err = svc.UpdateScrapingStatus(ctx, "301", domain.ScrapingCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, 2, tracker.ScrapingAttempts)
	assert.Nil(t, tracker.ScrapingError)
	require.NotNil(t, tracker.LastScrapedAt)
	assert.True(t, tracker.LastScrapedAt.Equal(fake.Now()))

	_, err = svc.UpdateScrapingStatus(ctx, "301", "DONE", "")
	assert.ErrorIs(t, err, domain.ErrInvalidScrapingStatus)
	_, err = svc.UpdateScrapingStatus(ctx, "999", domain.ScrapingCompleted, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
