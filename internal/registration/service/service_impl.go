package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/leaguetracker/internal/audit/domain"
	"github.com/smallbiznis/leaguetracker/internal/clock"
	"github.com/smallbiznis/leaguetracker/internal/config"
	"github.com/smallbiznis/leaguetracker/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/leaguetracker/internal/observability/metrics"
	outboxdomain "github.com/smallbiznis/leaguetracker/internal/outbox/domain"
	"github.com/smallbiznis/leaguetracker/internal/registration/domain"
	trackerdomain "github.com/smallbiznis/leaguetracker/internal/tracker/domain"
	trackerurl "github.com/smallbiznis/leaguetracker/internal/trackerurl/domain"
	"github.com/smallbiznis/leaguetracker/pkg/db"
	"github.com/smallbiznis/leaguetracker/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	msgSubmitted      = "Tracker registration submitted and pending approval"
	msgBatchSubmitted = "Tracker registrations submitted and pending approval"
	msgAlreadyExists  = "this tracker is already registered or pending approval"
	msgTrackerExists  = "this tracker is already registered"
)

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock `optional:"true"`
	Repo            domain.Repository
	TrackerRepo     trackerdomain.Repository
	URLSvc          trackerurl.Service
	Outbox          outboxdomain.Writer
	Pipeline        *config.PipelineConfigHolder
	AuditSvc        auditdomain.Service         `optional:"true"`
	Metrics         *obsmetrics.Metrics         `optional:"true"`
	PipelineMetrics *obsmetrics.PipelineMetrics `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	repo            domain.Repository
	trackerRepo     trackerdomain.Repository
	urlSvc          trackerurl.Service
	outbox          outboxdomain.Writer
	pipeline        *config.PipelineConfigHolder
	auditSvc        auditdomain.Service
	metrics         *obsmetrics.Metrics
	pipelineMetrics *obsmetrics.PipelineMetrics
}

func New(p Params) domain.Service {
	c := p.Clock
	if c == nil {
		c = clock.NewSystemClock()
	}
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("registration.service"),
		genID:           p.GenID,
		clock:           c,
		repo:            p.Repo,
		trackerRepo:     p.TrackerRepo,
		urlSvc:          p.URLSvc,
		outbox:          p.Outbox,
		pipeline:        p.Pipeline,
		auditSvc:        p.AuditSvc,
		metrics:         p.Metrics,
		pipelineMetrics: p.PipelineMetrics,
	}
}

// RegisterTracker validates a tracker URL and records a PENDING registration
// together with its registration.created outbox event.
func (s *Service) RegisterTracker(ctx context.Context, userID, guildID, rawURL string) (domain.RegisterResult, error) {
	userID, guildID, err := normalizeSubmitter(userID, guildID)
	if err != nil {
		return domain.RegisterResult{}, err
	}

	parsed, err := s.urlSvc.Validate(ctx, rawURL, trackerurl.ValidateOptions{})
	if err != nil {
		s.recordValidationError(ctx, err)
		return domain.RegisterResult{}, urlConflict(err)
	}

	results, err := s.create(ctx, userID, guildID, []trackerurl.ParsedURL{parsed})
	if err != nil {
		return domain.RegisterResult{}, err
	}
	return results[0], nil
}

// RegisterTrackers submits several URLs at once. Either every URL becomes a
// registration or none does.
func (s *Service) RegisterTrackers(ctx context.Context, userID, guildID string, rawURLs []string) (domain.BatchRegisterResult, error) {
	userID, guildID, err := normalizeSubmitter(userID, guildID)
	if err != nil {
		return domain.BatchRegisterResult{}, err
	}

	maxURLs := s.pipeline.Get().MaxBatchURLs
	if len(rawURLs) == 0 || len(rawURLs) > maxURLs {
		err := trackerurl.NewValidationError(trackerurl.ReasonBatchSize, "",
			fmt.Sprintf("between 1 and %d URLs can be submitted at once", maxURLs))
		s.recordValidationError(ctx, err)
		return domain.BatchRegisterResult{}, err
	}

	parsed := make([]trackerurl.ParsedURL, 0, len(rawURLs))
	urls := make([]string, 0, len(rawURLs))
	seen := make(map[string]struct{}, len(rawURLs))
	for _, raw := range rawURLs {
		p, err := trackerurl.Parse(raw)
		if err != nil {
			s.recordValidationError(ctx, err)
			return domain.BatchRegisterResult{}, err
		}
		if _, dup := seen[p.URL]; dup {
			err := trackerurl.NewValidationError(trackerurl.ReasonDuplicateInBatch, raw, "the same tracker appears more than once")
			s.recordValidationError(ctx, err)
			return domain.BatchRegisterResult{}, err
		}
		seen[p.URL] = struct{}{}
		parsed = append(parsed, p)
		urls = append(urls, p.URL)
	}

	unique, err := s.urlSvc.CheckURLsUnique(ctx, urls, nil)
	if err != nil {
		return domain.BatchRegisterResult{}, err
	}
	for _, p := range parsed {
		if !unique[p.URL] {
			err := trackerurl.NewValidationError(trackerurl.ReasonNotUnique, p.URL, msgAlreadyExists)
			s.recordValidationError(ctx, err)
			return domain.BatchRegisterResult{}, urlConflict(err)
		}
	}

	results, err := s.create(ctx, userID, guildID, parsed)
	if err != nil {
		return domain.BatchRegisterResult{}, err
	}
	return domain.BatchRegisterResult{Registrations: results, Message: msgBatchSubmitted}, nil
}

func (s *Service) create(ctx context.Context, userID, guildID string, parsed []trackerurl.ParsedURL) ([]domain.RegisterResult, error) {
	results := make([]domain.RegisterResult, 0, len(parsed))

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.enforceUserLimit(ctx, tx, userID, len(parsed)); err != nil {
			return err
		}

		now := s.clock.Now()
		for _, p := range parsed {
			platform := string(p.Platform)
			username := p.Username
			registration := &domain.Registration{
				ID:        s.genID.Generate(),
				UserID:    userID,
				GuildID:   guildID,
				URL:       p.URL,
				Game:      string(p.Game),
				Platform:  &platform,
				Username:  &username,
				Status:    domain.StatusPending,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := s.repo.Insert(ctx, tx, registration); err != nil {
				return err
			}

			job := domain.RegistrationJob{
				RegistrationID: registration.ID.String(),
				UserID:         userID,
				GuildID:        guildID,
				URL:            registration.URL,
				Game:           registration.Game,
				Platform:       platform,
				Username:       username,
				SubmittedAt:    now,
			}
			if _, err := s.outbox.CreateEvent(ctx, tx, outboxdomain.AggregateRegistration, registration.ID.String(), outboxdomain.EventRegistrationCreated, job); err != nil {
				return err
			}

			if err := s.audit(ctx, tx, auditdomain.Entry{
				GuildID:    guildID,
				ActorType:  auditdomain.ActorTypeUser,
				ActorID:    userID,
				Action:     auditdomain.ActionRegistrationSubmitted,
				TargetType: auditdomain.TargetRegistration,
				TargetID:   registration.ID.String(),
				Metadata:   map[string]any{"platform": platform},
			}); err != nil {
				return err
			}

			results = append(results, domain.RegisterResult{
				RegistrationID: registration.ID.String(),
				Status:         registration.Status,
				URL:            registration.URL,
				Message:        msgSubmitted,
			})
		}
		return nil
	})
	if err != nil {
		return nil, s.translateCreateError(ctx, userID, guildID, len(parsed), err)
	}

	for _, p := range parsed {
		s.metrics.RecordSubmission(ctx, string(p.Platform))
	}
	logger.WithContext(ctx, s.log).Info("tracker registration submitted",
		zap.String("guild_id", guildID),
		zap.Int("count", len(results)),
	)
	return results, nil
}

// enforceUserLimit counts active trackers and registrations still under
// review against the configured per-user cap.
func (s *Service) enforceUserLimit(ctx context.Context, tx *gorm.DB, userID string, adding int) error {
	limit := s.pipeline.Get().MaxTrackersPerUser

	active, err := s.trackerRepo.CountActiveByUser(ctx, tx, userID)
	if err != nil {
		return err
	}
	open, err := s.repo.CountOpenByUser(ctx, tx, userID)
	if err != nil {
		return err
	}
	if active+open+int64(adding) > int64(limit) {
		return trackerurl.NewValidationError(trackerurl.ReasonLimitExceeded, "",
			fmt.Sprintf("a user can link at most %d trackers (%d linked or pending)", limit, active+open))
	}
	return nil
}

func (s *Service) translateCreateError(ctx context.Context, userID, guildID string, count int, err error) error {
	var vErr *trackerurl.ValidationError
	if errors.As(err, &vErr) {
		s.recordValidationError(ctx, err)
		return urlConflict(err)
	}
	if db.IsDuplicateKeyErr(err) {
		field := db.DuplicateKeyField(err)
		if field == "" {
			field = "url"
		}
		s.metrics.RecordDuplicate(ctx, field)
		if field == "url" {
			return urlConflict(trackerurl.NewValidationError(trackerurl.ReasonNotUnique, "", msgAlreadyExists))
		}
		return &domain.ConflictError{Field: field, Message: msgAlreadyExists}
	}

	logger.WithContext(ctx, s.log).Error("failed to register tracker",
		zap.String("user_id", userID),
		zap.String("guild_id", guildID),
		zap.Int("count", count),
		zap.Error(err),
	)
	return domain.ErrRegistrationFailed
}

func (s *Service) GetNextRegistration(ctx context.Context, guildID string) (*domain.Registration, error) {
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return nil, domain.ErrInvalidGuild
	}
	return found(s.repo.FindNextOpen(ctx, s.db, guildID))
}

// GetRegistrationByUser returns the guild's newest registration for a
// tracker profile username.
func (s *Service) GetRegistrationByUser(ctx context.Context, guildID, username string) (*domain.Registration, error) {
	guildID = strings.TrimSpace(guildID)
	username = strings.TrimSpace(username)
	if guildID == "" {
		return nil, domain.ErrInvalidGuild
	}
	if username == "" {
		return nil, domain.ErrNotFound
	}
	return found(s.repo.FindLatestByUsername(ctx, s.db, guildID, username))
}

func (s *Service) GetRegistrationByID(ctx context.Context, id string) (*domain.Registration, error) {
	registrationID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return found(s.repo.FindByID(ctx, s.db, registrationID))
}

func (s *Service) ListRegistrations(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	guildID := strings.TrimSpace(req.GuildID)
	if guildID == "" {
		return domain.ListResponse{}, domain.ErrInvalidGuild
	}
	status := domain.Status(strings.ToUpper(strings.TrimSpace(string(req.Status))))
	if status != "" && !status.Valid() {
		return domain.ListResponse{}, domain.ErrInvalidStatus
	}

	items, err := s.repo.List(ctx, s.db, domain.ListFilter{
		GuildID: guildID,
		UserID:  strings.TrimSpace(req.UserID),
		Status:  status,
		Page:    req.Pagination,
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, req.Pagination.Size(), func(item *domain.Registration) pagination.Cursor {
		return pagination.Cursor{
			ID:        strconv.FormatInt(item.ID.Int64(), 10),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
	})

	registrations := make([]domain.Registration, 0, len(items))
	for _, item := range items {
		if item != nil {
			registrations = append(registrations, *item)
		}
	}
	return domain.ListResponse{PageInfo: pageInfo, Registrations: registrations}, nil
}

// ProcessRegistration approves a registration: the tracker insert and the
// COMPLETED transition commit together or not at all.
func (s *Service) ProcessRegistration(ctx context.Context, id, displayName, processedBy string) (domain.ApproveResult, error) {
	registrationID, err := parseID(id)
	if err != nil {
		return domain.ApproveResult{}, err
	}
	processedBy = strings.TrimSpace(processedBy)
	if processedBy == "" {
		return domain.ApproveResult{}, domain.ErrInvalidUser
	}

	current, err := found(s.repo.FindByID(ctx, s.db, registrationID))
	if err != nil {
		return domain.ApproveResult{}, err
	}
	if current.UserID == processedBy {
		return domain.ApproveResult{}, domain.ErrSelfReview
	}
	if !domain.CanTransition(current.Status, domain.StatusCompleted) {
		return domain.ApproveResult{}, invalidState(current, domain.StatusCompleted)
	}
	if current.Platform == nil || current.Username == nil || *current.Platform == "" || *current.Username == "" {
		return domain.ApproveResult{}, domain.ErrMalformedRegistration
	}

	now := s.clock.Now()
	tracker := &trackerdomain.Tracker{
		ID:             s.genID.Generate(),
		URL:            current.URL,
		Game:           current.Game,
		Platform:       *current.Platform,
		Username:       *current.Username,
		UserID:         current.UserID,
		RegistrationID: &current.ID,
		IsActive:       true,
		ScrapingStatus: trackerdomain.ScrapingPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if name := strings.TrimSpace(displayName); name != "" {
		tracker.DisplayName = &name
	}

	var approved *domain.Registration
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.trackerRepo.Insert(ctx, tx, tracker); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return urlConflict(trackerurl.NewValidationError(trackerurl.ReasonNotUnique, tracker.URL, msgTrackerExists))
			}
			return err
		}

		ok, err := s.repo.Transition(ctx, tx, registrationID, domain.Transition{
			From:        domain.OpenStatuses(),
			To:          domain.StatusCompleted,
			At:          now,
			ProcessedBy: &processedBy,
			TrackerID:   &tracker.ID,
		})
		if err != nil {
			return err
		}
		if !ok {
			return s.lostTransition(ctx, tx, registrationID, domain.StatusCompleted)
		}

		if err := s.audit(ctx, tx, auditdomain.Entry{
			GuildID:    current.GuildID,
			ActorType:  auditdomain.ActorTypeAdmin,
			ActorID:    processedBy,
			Action:     auditdomain.ActionRegistrationApproved,
			TargetType: auditdomain.TargetRegistration,
			TargetID:   registrationID.String(),
			Metadata:   map[string]any{"tracker_id": tracker.ID.String()},
		}); err != nil {
			return err
		}

		approved, err = s.repo.FindByID(ctx, tx, registrationID)
		return err
	})
	if err != nil {
		return domain.ApproveResult{}, s.translateAdminError(ctx, "approve", registrationID, err)
	}

	s.pipelineMetrics.IncTransition(string(current.Status), string(domain.StatusCompleted))
	logger.WithContext(ctx, s.log).Info("registration approved",
		zap.String("registration_id", registrationID.String()),
		zap.String("tracker_id", tracker.ID.String()),
	)
	return domain.ApproveResult{Registration: approved, Tracker: tracker}, nil
}

func (s *Service) RejectRegistration(ctx context.Context, id, reason, processedBy string) (*domain.Registration, error) {
	registrationID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	processedBy = strings.TrimSpace(processedBy)
	if processedBy == "" {
		return nil, domain.ErrInvalidUser
	}

	current, err := found(s.repo.FindByID(ctx, s.db, registrationID))
	if err != nil {
		return nil, err
	}
	if current.UserID == processedBy {
		return nil, domain.ErrSelfReview
	}
	if !domain.CanTransition(current.Status, domain.StatusRejected) {
		return nil, invalidState(current, domain.StatusRejected)
	}

	reason = strings.TrimSpace(reason)
	var rejected *domain.Registration
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		transition := domain.Transition{
			From:        domain.OpenStatuses(),
			To:          domain.StatusRejected,
			At:          s.clock.Now(),
			ProcessedBy: &processedBy,
		}
		if reason != "" {
			transition.RejectionReason = &reason
		}
		ok, err := s.repo.Transition(ctx, tx, registrationID, transition)
		if err != nil {
			return err
		}
		if !ok {
			return s.lostTransition(ctx, tx, registrationID, domain.StatusRejected)
		}

		if err := s.audit(ctx, tx, auditdomain.Entry{
			GuildID:    current.GuildID,
			ActorType:  auditdomain.ActorTypeAdmin,
			ActorID:    processedBy,
			Action:     auditdomain.ActionRegistrationRejected,
			TargetType: auditdomain.TargetRegistration,
			TargetID:   registrationID.String(),
			Metadata:   map[string]any{"reason": reason},
		}); err != nil {
			return err
		}

		rejected, err = s.repo.FindByID(ctx, tx, registrationID)
		return err
	})
	if err != nil {
		return nil, s.translateAdminError(ctx, "reject", registrationID, err)
	}

	s.pipelineMetrics.IncTransition(string(current.Status), string(domain.StatusRejected))
	logger.WithContext(ctx, s.log).Info("registration rejected",
		zap.String("registration_id", registrationID.String()),
	)
	return rejected, nil
}

func (s *Service) GetQueueStats(ctx context.Context, guildID string) (domain.QueueStats, error) {
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return domain.QueueStats{}, domain.ErrInvalidGuild
	}

	counts, err := s.repo.CountByStatus(ctx, s.db, guildID)
	if err != nil {
		return domain.QueueStats{}, err
	}

	stats := domain.QueueStats{
		GuildID:    guildID,
		Pending:    counts[domain.StatusPending],
		Processing: counts[domain.StatusProcessing],
		Completed:  counts[domain.StatusCompleted],
		Rejected:   counts[domain.StatusRejected],
		Failed:     counts[domain.StatusFailed],
	}
	for _, count := range counts {
		stats.Total += count
	}
	return stats, nil
}

// lostTransition explains a compare-and-swap that matched no row: another
// actor moved the registration first.
func (s *Service) lostTransition(ctx context.Context, tx *gorm.DB, id snowflake.ID, target domain.Status) error {
	latest, err := s.repo.FindByID(ctx, tx, id)
	if err != nil {
		return err
	}
	if latest == nil {
		return domain.ErrNotFound
	}
	return invalidState(latest, target)
}

func (s *Service) translateAdminError(ctx context.Context, op string, id snowflake.ID, err error) error {
	var conflict *domain.ConflictError
	switch {
	case errors.As(err, &conflict),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrNotFound):
		return err
	}
	logger.WithContext(ctx, s.log).Error("registration "+op+" failed",
		zap.String("registration_id", id.String()),
		zap.Error(err),
	)
	return fmt.Errorf("%s registration: %w", op, err)
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, entry auditdomain.Entry) error {
	if s.auditSvc == nil {
		return nil
	}
	return s.auditSvc.Record(ctx, tx, entry)
}

func (s *Service) recordValidationError(ctx context.Context, err error) {
	if reason, ok := trackerurl.ReasonOf(err); ok {
		s.metrics.RecordValidationError(ctx, string(reason))
	}
}

// urlConflict reports a not_unique URL as a conflict on "url" however the
// duplicate was found. Other errors pass through.
func urlConflict(err error) error {
	var vErr *trackerurl.ValidationError
	if !errors.As(err, &vErr) || vErr.Reason != trackerurl.ReasonNotUnique {
		return err
	}
	return &domain.ConflictError{Field: "url", Message: vErr.Message, Cause: vErr}
}

func invalidState(r *domain.Registration, target domain.Status) error {
	return &domain.InvalidStateError{ID: r.ID.String(), Current: r.Status, Target: target}
}

func normalizeSubmitter(userID, guildID string) (string, string, error) {
	userID = strings.TrimSpace(userID)
	guildID = strings.TrimSpace(guildID)
	if userID == "" {
		return "", "", domain.ErrInvalidUser
	}
	if guildID == "" {
		return "", "", domain.ErrInvalidGuild
	}
	return userID, guildID, nil
}

func parseID(id string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || parsed == 0 {
		return 0, domain.ErrInvalidID
	}
	return parsed, nil
}

func found(registration *domain.Registration, err error) (*domain.Registration, error) {
	if err != nil {
		return nil, err
	}
	if registration == nil {
		return nil, domain.ErrNotFound
	}
	return registration, nil
}
