package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/leaguetracker/internal/audit/domain"
	"github.com/smallbiznis/leaguetracker/internal/clock"
	"github.com/smallbiznis/leaguetracker/internal/observability/logger"
	"github.com/smallbiznis/leaguetracker/internal/tracker/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock `optional:"true"`
	Repo     domain.Repository
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     domain.Repository
	auditSvc auditdomain.Service
}

func New(p Params) domain.Service {
	c := p.Clock
	if c == nil {
		c = clock.NewSystemClock()
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("tracker.service"),
		clock:    c,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) GetTracker(ctx context.Context, id string) (*domain.Tracker, error) {
	trackerID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	tracker, err := s.repo.FindByID(ctx, s.db, trackerID)
	if err != nil {
		return nil, err
	}
	if tracker == nil {
		return nil, domain.ErrNotFound
	}
	return tracker, nil
}

func (s *Service) ListTrackersByUser(ctx context.Context, userID string) ([]domain.Tracker, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrInvalidUser
	}
	return s.repo.ListByUser(ctx, s.db, userID)
}

func (s *Service) CountActiveByUser(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, domain.ErrInvalidUser
	}
	return s.repo.CountActiveByUser(ctx, s.db, userID)
}

// DeleteTracker soft-deletes a tracker and releases its URL.
func (s *Service) DeleteTracker(ctx context.Context, id string) error {
	trackerID, err := parseID(id)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tracker, err := s.repo.FindByID(ctx, tx, trackerID)
		if err != nil {
			return err
		}
		if tracker == nil {
			return domain.ErrNotFound
		}

		deleted, err := s.repo.SoftDelete(ctx, tx, trackerID, s.clock.Now())
		if err != nil {
			return err
		}
		if !deleted {
			return domain.ErrNotFound
		}

		logger.WithContext(ctx, s.log).Info("tracker deleted",
			zap.String("tracker_id", trackerID.String()),
		)

		if s.auditSvc == nil {
			return nil
		}
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			Action:     auditdomain.ActionTrackerDeleted,
			TargetType: auditdomain.TargetTracker,
			TargetID:   trackerID.String(),
			Metadata: map[string]any{
				"user_id":  tracker.UserID,
				"platform": tracker.Platform,
			},
		})
	})
}

// UpdateScrapingStatus records scraper progress. IN_PROGRESS counts an
// attempt; COMPLETED stamps the scrape time and clears the last error.
func (s *Service) UpdateScrapingStatus(ctx context.Context, id string, status domain.ScrapingStatus, errMsg string) (*domain.Tracker, error) {
	trackerID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	status = domain.ScrapingStatus(strings.ToUpper(strings.TrimSpace(string(status))))
	if !status.Valid() {
		return nil, domain.ErrInvalidScrapingStatus
	}

	now := s.clock.Now()
	update := domain.ScrapingUpdate{Status: status, At: now}
	switch status {
	case domain.ScrapingInProgress:
		update.IncrementAttempt = true
	case domain.ScrapingCompleted:
		update.ScrapedAt = &now
	case domain.ScrapingFailed:
		if msg := strings.TrimSpace(errMsg); msg != "" {
			update.Error = &msg
		}
	}

	var tracker *domain.Tracker
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updated, err := s.repo.UpdateScrapingStatus(ctx, tx, trackerID, update)
		if err != nil {
			return err
		}
		if !updated {
			return domain.ErrNotFound
		}
		tracker, err = s.repo.FindByID(ctx, tx, trackerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if tracker == nil {
		return nil, domain.ErrNotFound
	}
	return tracker, nil
}

func parseID(id string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || parsed == 0 {
		return 0, domain.ErrInvalidID
	}
	return parsed, nil
}
