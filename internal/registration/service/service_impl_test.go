package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/leaguetracker/internal/audit/domain"
	auditrepository "github.com/smallbiznis/leaguetracker/internal/audit/repository"
	auditservice "github.com/smallbiznis/leaguetracker/internal/audit/service"
	"github.com/smallbiznis/leaguetracker/internal/clock"
	"github.com/smallbiznis/leaguetracker/internal/config"
	outboxdomain "github.com/smallbiznis/leaguetracker/internal/outbox/domain"
	outboxrepository "github.com/smallbiznis/leaguetracker/internal/outbox/repository"
	outboxservice "github.com/smallbiznis/leaguetracker/internal/outbox/service"
	"github.com/smallbiznis/leaguetracker/internal/registration/domain"
	"github.com/smallbiznis/leaguetracker/internal/registration/repository"
	trackerdomain "github.com/smallbiznis/leaguetracker/internal/tracker/domain"
	trackerrepository "github.com/smallbiznis/leaguetracker/internal/tracker/repository"
	trackerurl "github.com/smallbiznis/leaguetracker/internal/trackerurl/domain"
	trackerurlrepository "github.com/smallbiznis/leaguetracker/internal/trackerurl/repository"
	trackerurlservice "github.com/smallbiznis/leaguetracker/internal/trackerurl/service"
	"github.com/smallbiznis/leaguetracker/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	guildID    = "guild-1"
	profileURL = "https://rocketleague.tracker.network/rocket-league/profile/"
)

type fixture struct {
	svc   domain.Service
	db    *gorm.DB
	clock *clock.FakeClock
	audit auditdomain.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	return newFixtureWithURLService(t, func(db *gorm.DB) trackerurl.Service {
		return trackerurlservice.New(trackerurlservice.Params{DB: db, Log: zap.NewNop(), Repo: trackerurlrepository.Provide()})
	})
}

func newFixtureWithURLService(t *testing.T, urlSvc func(*gorm.DB) trackerurl.Service) fixture {
	t.Helper()

	db := dbtest.Open(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()

	audit := auditservice.NewService(auditservice.Params{
		DB: db, Log: log, GenID: node, Clock: fake, Repo: auditrepository.Provide(),
	})
	svc := New(Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       fake,
		Repo:        repository.Provide(),
		TrackerRepo: trackerrepository.Provide(),
		URLSvc:      urlSvc(db),
		Outbox:      outboxservice.New(outboxservice.Params{Log: log, Clock: fake, Repo: outboxrepository.Provide()}),
		Pipeline:    config.NewStaticPipelineConfigHolder(config.DefaultPipelineConfig()),
		AuditSvc:    audit,
	})
	return fixture{svc: svc, db: db, clock: fake, audit: audit}
}

func steamURL(username string) string {
	return profileURL + "steam/" + username + "/overview"
}

func (f fixture) register(t *testing.T, userID, url string) domain.RegisterResult {
	t.Helper()
	result, err := f.svc.RegisterTracker(context.Background(), userID, guildID, url)
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	return result
}

func (f fixture) outboxEvents(t *testing.T) []outboxdomain.Event {
	t.Helper()
	events, err := outboxrepository.Provide().FetchUnpublished(context.Background(), f.db, 100, false)
	require.NoError(t, err)
	return events
}

func (f fixture) setStatus(t *testing.T, id string, status domain.Status) {
	t.Helper()
	require.NoError(t, f.db.Model(&domain.Registration{}).Where("id = ?", id).Update("status", status).Error)
}

func TestRegisterTrackerCreatesPendingRegistration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result := f.register(t, "user-1", steamURL("testuser"))
	assert.Equal(t, domain.StatusPending, result.Status)
	assert.Equal(t, steamURL("testuser"), result.URL)
	assert.NotEmpty(t, result.Message)

	registration, err := f.svc.GetRegistrationByID(ctx, result.RegistrationID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", registration.UserID)
	assert.Equal(t, guildID, registration.GuildID)
	assert.Equal(t, "ROCKET_LEAGUE", registration.Game)
	require.NotNil(t, registration.Platform)
	assert.Equal(t, "STEAM", *registration.Platform)
	require.NotNil(t, registration.Username)
	assert.Equal(t, "testuser", *registration.Username)
	assert.Nil(t, registration.NotificationSentAt)

	events := f.outboxEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, outboxdomain.EventRegistrationCreated, events[0].EventType)
	assert.Equal(t, result.RegistrationID, events[0].AggregateID)
	assert.Contains(t, string(events[0].Payload), `"registration_id":"`+result.RegistrationID+`"`)

	logs, err := f.audit.List(ctx, auditdomain.ListAuditLogRequest{GuildID: guildID})
	require.NoError(t, err)
	require.Len(t, logs.AuditLogs, 1)
	assert.Equal(t, auditdomain.ActionRegistrationSubmitted, logs.AuditLogs[0].Action)
}

func TestRegisterTrackerRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RegisterTracker(ctx, "user-1", guildID, "https://example.com/profile")
	reason, ok := trackerurl.ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, trackerurl.ReasonFormat, reason)

	_, err = f.svc.RegisterTracker(ctx, " ", guildID, steamURL("a"))
	assert.ErrorIs(t, err, domain.ErrInvalidUser)
	_, err = f.svc.RegisterTracker(ctx, "user-1", "", steamURL("a"))
	assert.ErrorIs(t, err, domain.ErrInvalidGuild)

	assert.Empty(t, f.outboxEvents(t))
}

func TestRegisterTrackerRejectsDuplicateURL(t *testing.T) {
	f := newFixture(t)
	f.register(t, "user-1", steamURL("testuser"))

	_, err := f.svc.RegisterTracker(context.Background(), "user-2", guildID, profileURL+"STEAM/testuser/overview/")
	reason, ok := trackerurl.ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, trackerurl.ReasonNotUnique, reason)
	assert.Len(t, f.outboxEvents(t), 1)
}

func TestRegisterAfterRejectionSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.register(t, "user-1", steamURL("testuser"))

	_, err := f.svc.RejectRegistration(ctx, first.RegistrationID, "wrong account", "mod-1")
	require.NoError(t, err)

	second := f.register(t, "user-1", steamURL("testuser"))
	assert.NotEqual(t, first.RegistrationID, second.RegistrationID)
	assert.Equal(t, domain.StatusPending, second.Status)
}

func TestRegisterTrackerEnforcesUserLimit(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 4; i++ {
		f.register(t, "user-1", steamURL(fmt.Sprintf("player%d", i)))
	}

	_, err := f.svc.RegisterTracker(context.Background(), "user-1", guildID, steamURL("player4"))
	reason, ok := trackerurl.ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, trackerurl.ReasonLimitExceeded, reason)

	f.register(t, "user-2", steamURL("player4"))
}

func TestRegisterTrackersBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.RegisterTrackers(ctx, "user-1", guildID, []string{
		steamURL("alpha"),
		profileURL + "epic/beta/overview",
	})
	require.NoError(t, err)
	require.Len(t, result.Registrations, 2)
	assert.Len(t, f.outboxEvents(t), 2)

	t.Run("empty", func(t *testing.T) {
		_, err := f.svc.RegisterTrackers(ctx, "user-2", guildID, nil)
		reason, _ := trackerurl.ReasonOf(err)
		assert.Equal(t, trackerurl.ReasonBatchSize, reason)
	})
	t.Run("too_many", func(t *testing.T) {
		urls := []string{steamURL("a"), steamURL("b"), steamURL("c"), steamURL("d"), steamURL("e")}
		_, err := f.svc.RegisterTrackers(ctx, "user-2", guildID, urls)
		reason, _ := trackerurl.ReasonOf(err)
		assert.Equal(t, trackerurl.ReasonBatchSize, reason)
	})
	t.Run("duplicate_in_batch", func(t *testing.T) {
		_, err := f.svc.RegisterTrackers(ctx, "user-2", guildID, []string{steamURL("gamma"), profileURL + "Steam/gamma/overview"})
		reason, _ := trackerurl.ReasonOf(err)
		assert.Equal(t, trackerurl.ReasonDuplicateInBatch, reason)
	})
	t.Run("already_registered", func(t *testing.T) {
		_, err := f.svc.RegisterTrackers(ctx, "user-2", guildID, []string{steamURL("delta"), steamURL("alpha")})
		reason, _ := trackerurl.ReasonOf(err)
		assert.Equal(t, trackerurl.ReasonNotUnique, reason)
		var conflict *domain.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "url", conflict.Field)
	})
	t.Run("limit", func(t *testing.T) {
		_, err := f.svc.RegisterTrackers(ctx, "user-1", guildID, []string{steamURL("e1"), steamURL("e2"), steamURL("e3")})
		reason, _ := trackerurl.ReasonOf(err)
		assert.Equal(t, trackerurl.ReasonLimitExceeded, reason)
	})

	// Failed batches leave nothing behind.
	assert.Len(t, f.outboxEvents(t), 2)
}

func TestProcessRegistrationApproves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	submitted := f.register(t, "user-1", steamURL("testuser"))

	result, err := f.svc.ProcessRegistration(ctx, submitted.RegistrationID, "TestUser", "mod-1")
	require.NoError(t, err)

	require.NotNil(t, result.Registration)
	assert.Equal(t, domain.StatusCompleted, result.Registration.Status)
	require.NotNil(t, result.Registration.ProcessedBy)
	assert.Equal(t, "mod-1", *result.Registration.ProcessedBy)
	assert.NotNil(t, result.Registration.ProcessedAt)

	require.NotNil(t, result.Tracker)
	require.NotNil(t, result.Registration.TrackerID)
	assert.Equal(t, result.Tracker.ID, *result.Registration.TrackerID)
	require.NotNil(t, result.Tracker.DisplayName)
	assert.Equal(t, "TestUser", *result.Tracker.DisplayName)
	assert.Equal(t, "STEAM", result.Tracker.Platform)
	assert.Equal(t, "testuser", result.Tracker.Username)
	assert.True(t, result.Tracker.IsActive)

	stored, err := trackerrepository.Provide().FindByID(ctx, f.db, result.Tracker.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, steamURL("testuser"), stored.URL)

	_, err = f.svc.ProcessRegistration(ctx, submitted.RegistrationID, "", "mod-2")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestRejectedRegistrationCannotBeApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	submitted := f.register(t, "user-1", steamURL("testuser"))
	f.setStatus(t, submitted.RegistrationID, domain.StatusProcessing)

	rejected, err := f.svc.RejectRegistration(ctx, submitted.RegistrationID, "not your account", "mod-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "not your account", *rejected.RejectionReason)

	_, err = f.svc.ProcessRegistration(ctx, submitted.RegistrationID, "", "mod-2")
	require.ErrorIs(t, err, domain.ErrInvalidState)
	var stateErr *domain.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, domain.StatusRejected, stateErr.Current)

	var trackers int64
	require.NoError(t, f.db.Model(&trackerdomain.Tracker{}).Count(&trackers).Error)
	assert.Zero(t, trackers)
}

func TestProcessRegistrationConflictsWithExistingTracker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	submitted := f.register(t, "user-1", steamURL("testuser"))

	now := f.clock.Now()
	require.NoError(t, trackerrepository.Provide().Insert(ctx, f.db, &trackerdomain.Tracker{
		ID:             9001,
		URL:            steamURL("testuser"),
		Game:           "ROCKET_LEAGUE",
		Platform:       "STEAM",
		Username:       "testuser",
		UserID:         "user-9",
		IsActive:       true,
		ScrapingStatus: trackerdomain.ScrapingPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}))

	_, err := f.svc.ProcessRegistration(ctx, submitted.RegistrationID, "", "mod-1")
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "url", conflict.Field)

	registration, err := f.svc.GetRegistrationByID(ctx, submitted.RegistrationID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, registration.Status)
}

func TestProcessRegistrationRejectsMalformedRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	submitted := f.register(t, "user-1", steamURL("testuser"))
	require.NoError(t, f.db.Model(&domain.Registration{}).
		Where("id = ?", submitted.RegistrationID).
		Update("platform", nil).Error)

	_, err := f.svc.ProcessRegistration(ctx, submitted.RegistrationID, "", "mod-1")
	assert.ErrorIs(t, err, domain.ErrMalformedRegistration)
}

func TestLookupsAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.register(t, "user-1", steamURL("alpha"))
	second := f.register(t, "user-2", steamURL("beta"))
	third := f.register(t, "user-3", steamURL("gamma"))

	next, err := f.svc.GetNextRegistration(ctx, guildID)
	require.NoError(t, err)
	assert.Equal(t, first.RegistrationID, next.ID.String())

	_, err = f.svc.RejectRegistration(ctx, first.RegistrationID, "", "mod-1")
	require.NoError(t, err)
	_, err = f.svc.ProcessRegistration(ctx, second.RegistrationID, "", "mod-1")
	require.NoError(t, err)

	next, err = f.svc.GetNextRegistration(ctx, guildID)
	require.NoError(t, err)
	assert.Equal(t, third.RegistrationID, next.ID.String())

	byUser, err := f.svc.GetRegistrationByUser(ctx, guildID, "BETA")
	require.NoError(t, err)
	assert.Equal(t, second.RegistrationID, byUser.ID.String())

	_, err = f.svc.GetRegistrationByUser(ctx, guildID, "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.GetNextRegistration(ctx, "other-guild")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.GetRegistrationByID(ctx, "not-a-number")
	assert.ErrorIs(t, err, domain.ErrInvalidID)
	_, err = f.svc.GetRegistrationByID(ctx, "12345")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	stats, err := f.svc.GetQueueStats(ctx, guildID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStats{
		GuildID:   guildID,
		Pending:   1,
		Completed: 1,
		Rejected:  1,
		Total:     3,
	}, stats)

	list, err := f.svc.ListRegistrations(ctx, domain.ListRequest{GuildID: guildID, Status: "pending"})
	require.NoError(t, err)
	require.Len(t, list.Registrations, 1)
	assert.Equal(t, third.RegistrationID, list.Registrations[0].ID.String())

	_, err = f.svc.ListRegistrations(ctx, domain.ListRequest{GuildID: guildID, Status: "bogus"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

// uncheckedURLs parses URLs but reports every one as unique, leaving the
// unique index as the only duplicate guard.
type uncheckedURLs struct{}

func (uncheckedURLs) Validate(_ context.Context, raw string, _ trackerurl.ValidateOptions) (trackerurl.ParsedURL, error) {
	return trackerurl.Parse(raw)
}

func (uncheckedURLs) CheckURLsUnique(_ context.Context, urls []string, _ []snowflake.ID) (map[string]bool, error) {
	unique := make(map[string]bool, len(urls))
	for _, u := range urls {
		unique[u] = true
	}
	return unique, nil
}

func TestDuplicateURLIsConflictOnEveryPath(t *testing.T) {
	cases := []struct {
		name   string
		urlSvc func(*gorm.DB) trackerurl.Service
		submit func(f fixture) error
	}{
		{
			name: "single_precheck",
			submit: func(f fixture) error {
				_, err := f.svc.RegisterTracker(context.Background(), "user-2", guildID, steamURL("taken"))
				return err
			},
		},
		{
			name:   "single_unique_index",
			urlSvc: func(*gorm.DB) trackerurl.Service { return uncheckedURLs{} },
			submit: func(f fixture) error {
				_, err := f.svc.RegisterTracker(context.Background(), "user-2", guildID, steamURL("taken"))
				return err
			},
		},
		{
			name:   "batch_unique_index",
			urlSvc: func(*gorm.DB) trackerurl.Service { return uncheckedURLs{} },
			submit: func(f fixture) error {
				_, err := f.svc.RegisterTrackers(context.Background(), "user-2", guildID, []string{steamURL("fresh"), steamURL("taken")})
				return err
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var f fixture
			if tc.urlSvc != nil {
				f = newFixtureWithURLService(t, tc.urlSvc)
			} else {
				f = newFixture(t)
			}
			f.register(t, "user-1", steamURL("taken"))

			err := tc.submit(f)
			var conflict *domain.ConflictError
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, "url", conflict.Field)
			reason, ok := trackerurl.ReasonOf(err)
			require.True(t, ok)
			assert.Equal(t, trackerurl.ReasonNotUnique, reason)

			// The failed submission rolled back entirely.
			assert.Len(t, f.outboxEvents(t), 1)
		})
	}
}

func TestProcessRegistrationByStatus(t *testing.T) {
	cases := []struct {
		name    string
		status  domain.Status
		approve bool
	}{
		{"pending", domain.StatusPending, true},
		{"processing", domain.StatusProcessing, true},
		{"completed", domain.StatusCompleted, false},
		{"rejected", domain.StatusRejected, false},
		{"failed", domain.StatusFailed, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			submitted := f.register(t, "user-1", steamURL("testuser"))
			f.setStatus(t, submitted.RegistrationID, tc.status)

			result, err := f.svc.ProcessRegistration(ctx, submitted.RegistrationID, "", "mod-1")
			var trackers int64
			require.NoError(t, f.db.Model(&trackerdomain.Tracker{}).Count(&trackers).Error)

			if tc.approve {
				require.NoError(t, err)
				assert.Equal(t, domain.StatusCompleted, result.Registration.Status)
				assert.Equal(t, int64(1), trackers)
				return
			}
			require.ErrorIs(t, err, domain.ErrInvalidState)
			var stateErr *domain.InvalidStateError
			require.ErrorAs(t, err, &stateErr)
			assert.Equal(t, tc.status, stateErr.Current)
			assert.Zero(t, trackers)
		})
	}
}

func TestSubmitterCannotReviewOwnRegistration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	submitted := f.register(t, "user-1", steamURL("testuser"))

	_, err := f.svc.ProcessRegistration(ctx, submitted.RegistrationID, "", " user-1 ")
	assert.ErrorIs(t, err, domain.ErrSelfReview)
	_, err = f.svc.RejectRegistration(ctx, submitted.RegistrationID, "mine", "user-1")
	assert.ErrorIs(t, err, domain.ErrSelfReview)

	registration, err := f.svc.GetRegistrationByID(ctx, submitted.RegistrationID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, registration.Status)
}
