package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	auditrepository "github.com/smallbiznis/leaguetracker/internal/audit/repository"
	auditservice "github.com/smallbiznis/leaguetracker/internal/audit/service"
	"github.com/smallbiznis/leaguetracker/internal/config"
	outboxrepository "github.com/smallbiznis/leaguetracker/internal/outbox/repository"
	outboxservice "github.com/smallbiznis/leaguetracker/internal/outbox/service"
	"github.com/smallbiznis/leaguetracker/internal/ratelimit"
	registrationdomain "github.com/smallbiznis/leaguetracker/internal/registration/domain"
	registrationrepository "github.com/smallbiznis/leaguetracker/internal/registration/repository"
	registrationservice "github.com/smallbiznis/leaguetracker/internal/registration/service"
	trackerrepository "github.com/smallbiznis/leaguetracker/internal/tracker/repository"
	trackerservice "github.com/smallbiznis/leaguetracker/internal/tracker/service"
	trackerurlrepository "github.com/smallbiznis/leaguetracker/internal/trackerurl/repository"
	trackerurlservice "github.com/smallbiznis/leaguetracker/internal/trackerurl/service"
	"github.com/smallbiznis/leaguetracker/pkg/db/dbtest"
	"github.com/smallbiznis/leaguetracker/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret = "test-secret-with-enough-bytes"
	testGuild  = "guild-1"
	steamURL   = "https://rocketleague.tracker.network/rocket-league/profile/steam/testuser/overview"
)

func newTestServer(t *testing.T, limiter *ratelimit.SubmissionLimiter) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := dbtest.Open(t)
	log := zap.NewNop()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	audit := auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node, Repo: auditrepository.Provide()})
	trackerRepo := trackerrepository.Provide()
	registrations := registrationservice.New(registrationservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Repo:        registrationrepository.Provide(),
		TrackerRepo: trackerRepo,
		URLSvc:      trackerurlservice.New(trackerurlservice.Params{DB: db, Log: log, Repo: trackerurlrepository.Provide()}),
		Outbox:      outboxservice.New(outboxservice.Params{Log: log, Repo: outboxrepository.Provide()}),
		Pipeline:    config.NewStaticPipelineConfigHolder(config.DefaultPipelineConfig()),
		AuditSvc:    audit,
	})
	trackers := trackerservice.New(trackerservice.Params{DB: db, Log: log, Repo: trackerRepo, AuditSvc: audit})

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	return NewServer(ServerParams{
		Gin:               engine,
		Cfg:               config.Config{AuthJWTSecret: testSecret},
		RegistrationSvc:   registrations,
		TrackerSvc:        trackers,
		AuditSvc:          audit,
		SubmissionLimiter: limiter,
	})
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func doRequest(t *testing.T, s *Server, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+signToken(t, user))
	}
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *errorPayload   `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func profileURL(platform, username string) string {
	return "https://rocketleague.tracker.network/rocket-league/profile/" + platform + "/" + username + "/overview"
}

func registrationsPath(suffix string) string {
	return "/api/guilds/" + testGuild + "/registrations" + suffix
}

func submit(t *testing.T, s *Server, user, url string) registrationdomain.RegisterResult {
	t.Helper()
	rec := doRequest(t, s, http.MethodPost, registrationsPath(""), user, registerTrackerRequest{URL: url})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var result registrationdomain.RegisterResult
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &result))
	return result
}

func TestBearerAuthRequired(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodGet, registrationsPath("/stats"), "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decode(t, rec).Error.Type)

	req := httptest.NewRequest(http.MethodGet, registrationsPath("/stats"), nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, s, http.MethodGet, registrationsPath("/stats"), "user-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterTrackerEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	result := submit(t, s, "user-1", steamURL)
	assert.Equal(t, registrationdomain.StatusPending, result.Status)
	assert.NotEmpty(t, result.RegistrationID)

	rec := doRequest(t, s, http.MethodPost, registrationsPath(""), "user-2", registerTrackerRequest{URL: steamURL})
	assert.Equal(t, http.StatusConflict, rec.Code)
	env := decode(t, rec)
	require.NotNil(t, env.Error)
	require.Len(t, env.Error.Errors, 1)
	assert.Equal(t, "not_unique", env.Error.Errors[0].Code)

	rec = doRequest(t, s, http.MethodPost, registrationsPath(""), "user-2", registerTrackerRequest{URL: "https://example.com/x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env = decode(t, rec)
	assert.Equal(t, "validation_error", env.Error.Type)
	assert.Equal(t, "format", env.Error.Errors[0].Code)

	rec = doRequest(t, s, http.MethodPost, registrationsPath(""), "user-2", registerTrackerRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchRegistrationEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodPost, registrationsPath("/batch"), "user-1", registerTrackersRequest{URLs: []string{
		steamURL,
		"https://rocketleague.tracker.network/rocket-league/profile/epic/other/overview",
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var result registrationdomain.BatchRegisterResult
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &result))
	assert.Len(t, result.Registrations, 2)

	rec = doRequest(t, s, http.MethodPost, registrationsPath("/batch"), "user-1", registerTrackersRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "batch_size", decode(t, rec).Error.Errors[0].Code)
}

func TestModerationFlow(t *testing.T) {
	s := newTestServer(t, nil)
	submitted := submit(t, s, "user-1", steamURL)

	rec := doRequest(t, s, http.MethodGet, registrationsPath("/next"), "mod-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var next registrationdomain.Registration
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &next))
	assert.Equal(t, submitted.RegistrationID, next.ID.String())

	rec = doRequest(t, s, http.MethodGet, registrationsPath("/by-user/TestUser"), "mod-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodPost, registrationsPath("/"+submitted.RegistrationID+"/approve"), "user-1",
		approveRegistrationRequest{DisplayName: "TestUser"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decode(t, rec).Error.Type)

	rec = doRequest(t, s, http.MethodPost, registrationsPath("/"+submitted.RegistrationID+"/approve"), "mod-1",
		approveRegistrationRequest{DisplayName: "TestUser"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var approved registrationdomain.ApproveResult
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &approved))
	assert.Equal(t, registrationdomain.StatusCompleted, approved.Registration.Status)
	require.NotNil(t, approved.Tracker)
	assert.Equal(t, "user-1", approved.Tracker.UserID)

	rec = doRequest(t, s, http.MethodPost, registrationsPath("/"+submitted.RegistrationID+"/reject"), "mod-1",
		rejectRegistrationRequest{Reason: "late"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", decode(t, rec).Error.Type)

	rec = doRequest(t, s, http.MethodGet, "/api/guilds/other-guild/registrations/"+submitted.RegistrationID, "mod-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, s, http.MethodGet, registrationsPath("/stats"), "mod-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats registrationdomain.QueueStats
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &stats))
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Total)

	trackerPath := "/api/trackers/" + approved.Tracker.ID.String()
	rec = doRequest(t, s, http.MethodGet, trackerPath, "user-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodDelete, trackerPath, "user-2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = doRequest(t, s, http.MethodDelete, trackerPath, "user-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doRequest(t, s, http.MethodGet, trackerPath, "user-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/guilds/"+testGuild+"/audit-logs", "mod-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMalformedPageTokenIsValidationError(t *testing.T) {
	s := newTestServer(t, nil)
	submit(t, s, "user-1", steamURL)

	for _, path := range []string{
		registrationsPath("?page_token=garbage"),
		"/api/guilds/" + testGuild + "/audit-logs?page_token=garbage",
	} {
		rec := doRequest(t, s, http.MethodGet, path, "mod-1", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, path)
		env := decode(t, rec)
		assert.Equal(t, "validation_error", env.Error.Type, path)
		require.Len(t, env.Error.Errors, 1)
		assert.Equal(t, "invalid_page_token", env.Error.Errors[0].Code, path)
		assert.Equal(t, "page_token", env.Error.Errors[0].Field, path)
	}
}

func TestDuplicateSubmissionsConflictOnURL(t *testing.T) {
	s := newTestServer(t, nil)
	submit(t, s, "user-1", profileURL("steam", "t%C3%A9st"))

	for _, url := range []string{
		profileURL("steam", "t%c3%a9st"),
		profileURL("Steam", "tést"),
	} {
		rec := doRequest(t, s, http.MethodPost, registrationsPath(""), "user-2", registerTrackerRequest{URL: url})
		require.Equal(t, http.StatusConflict, rec.Code, url)
		env := decode(t, rec)
		assert.Equal(t, "conflict", env.Error.Type)
		require.Len(t, env.Error.Errors, 1)
		assert.Equal(t, "url", env.Error.Errors[0].Field)
		assert.Equal(t, "not_unique", env.Error.Errors[0].Code)
	}
}

func TestSubmissionRateLimit(t *testing.T) {
	limiter := ratelimit.NewSubmissionLimiter(config.Config{RateLimit: config.RateLimitConfig{
		SubmissionsPerMinute: 1,
		SubmissionBurst:      1,
	}}, nil)
	s := newTestServer(t, limiter)

	submit(t, s, "user-1", steamURL)

	rec := doRequest(t, s, http.MethodPost, registrationsPath(""), "user-1",
		registerTrackerRequest{URL: "https://rocketleague.tracker.network/rocket-league/profile/psn/second/overview"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Buckets are per user.
	submit(t, s, "user-2", "https://rocketleague.tracker.network/rocket-league/profile/psn/second/overview")
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{&registrationdomain.ConflictError{Field: "url", Message: "taken"}, http.StatusConflict, "conflict"},
		{registrationdomain.ErrInvalidPageToken, http.StatusBadRequest, "validation_error"},
		{registrationdomain.ErrSelfReview, http.StatusForbidden, "forbidden"},
		{pagination.ErrInvalidPageToken, http.StatusBadRequest, "validation_error"},
		{&registrationdomain.InvalidStateError{ID: "1", Current: registrationdomain.StatusRejected, Target: registrationdomain.StatusCompleted}, http.StatusConflict, "invalid_state"},
		{registrationdomain.ErrNotFound, http.StatusNotFound, "not_found"},
		{registrationdomain.ErrInvalidID, http.StatusBadRequest, "validation_error"},
		{registrationdomain.ErrMalformedRegistration, http.StatusUnprocessableEntity, "malformed_registration"},
		{registrationdomain.ErrRegistrationFailed, http.StatusInternalServerError, "internal_error"},
		{ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{context.DeadlineExceeded, http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		status, payload := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.kind, payload.Type, tc.err.Error())
	}
}
