package processing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/leaguetracker/internal/audit/domain"
	"github.com/smallbiznis/leaguetracker/internal/clock"
	idempotencydomain "github.com/smallbiznis/leaguetracker/internal/idempotency/domain"
	"github.com/smallbiznis/leaguetracker/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/leaguetracker/internal/observability/metrics"
	"github.com/smallbiznis/leaguetracker/internal/registration/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	msgMovedToProcessing = "registration moved to processing"
	msgAlreadyHandled    = "registration already handled"
)

// NotificationLease bounds how long a claimed send blocks other deliveries.
// A worker that dies mid-send loses its claim after this long.
const NotificationLease = 2 * time.Minute

// Result describes what a single job delivery changed.
type Result struct {
	Success          bool
	RegistrationID   string
	Message          string
	AlreadyProcessed bool
	StatusChanged    bool
	// Registration is the row as it stood after processing.
	Registration *domain.Registration
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock `optional:"true"`
	Repo     domain.Repository
	Ledger   idempotencydomain.Ledger
	AuditSvc auditdomain.Service         `optional:"true"`
	Metrics  *obsmetrics.PipelineMetrics `optional:"true"`
}

// Service applies registration.created jobs exactly once per message id.
type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     domain.Repository
	ledger   idempotencydomain.Ledger
	auditSvc auditdomain.Service
	metrics  *obsmetrics.PipelineMetrics
}

func New(p Params) *Service {
	c := p.Clock
	if c == nil {
		c = clock.NewSystemClock()
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("registration.processing"),
		clock:    c,
		repo:     p.Repo,
		ledger:   p.Ledger,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

// ProcessRegistration moves a PENDING registration to PROCESSING and records
// messageID in the ledger on the same transaction. Redelivered or stale jobs
// report AlreadyProcessed without changing state.
func (s *Service) ProcessRegistration(ctx context.Context, job domain.RegistrationJob, messageID string) (Result, error) {
	id, err := job.ParseRegistrationID()
	if err != nil {
		return Result{}, err
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return Result{}, fmt.Errorf("%w: missing message id", domain.ErrMalformedJob)
	}

	result := Result{RegistrationID: id.String()}
	log := logger.WithContext(ctx, s.log).With(zap.String("registration_id", id.String()))

	processed, err := s.ledger.IsProcessed(ctx, messageID)
	if err != nil {
		return Result{}, err
	}
	if processed {
		registration, err := s.load(ctx, s.db, id)
		if err != nil {
			return Result{}, err
		}
		log.Debug("message already processed")
		return alreadyHandled(result, registration), nil
	}

	var (
		previous domain.Status
		current  *domain.Registration
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		registration, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		previous = registration.Status
		current = registration
		if registration.Status != domain.StatusPending {
			return nil
		}

		ok, err := s.repo.Transition(ctx, tx, id, domain.Transition{
			From:           []domain.Status{domain.StatusPending},
			To:             domain.StatusProcessing,
			At:             s.clock.Now(),
			StampProcessed: true,
		})
		if err != nil {
			return err
		}
		if !ok {
			// Another consumer won the race; report its outcome.
			current, err = s.load(ctx, tx, id)
			return err
		}

		if err := s.ledger.MarkProcessed(ctx, tx, messageID, idempotencydomain.OperationRegistrationProcessing, id.String(), map[string]any{
			"guild_id": job.GuildID,
		}); err != nil {
			return err
		}

		if registration.NotificationSentAt == nil {
			if err := s.repo.IncrementNotificationAttempts(ctx, tx, id); err != nil {
				return err
			}
		}

		current, err = s.load(ctx, tx, id)
		return err
	})
	if errors.Is(err, idempotencydomain.ErrAlreadyProcessed) {
		// The ledger insert lost to a concurrent delivery; the rollback undid our transition.
		registration, loadErr := s.load(ctx, s.db, id)
		if loadErr != nil {
			return Result{}, loadErr
		}
		return alreadyHandled(result, registration), nil
	}
	if err != nil {
		return Result{}, err
	}

	if current.Status != domain.StatusProcessing || previous != domain.StatusPending {
		return alreadyHandled(result, current), nil
	}

	s.metrics.IncTransition(string(domain.StatusPending), string(domain.StatusProcessing))
	log.Info("registration processing started")

	result.Success = true
	result.StatusChanged = true
	result.Message = msgMovedToProcessing
	result.Registration = current
	return result, nil
}

func (s *Service) GetRegistration(ctx context.Context, id snowflake.ID) (*domain.Registration, error) {
	return s.load(ctx, s.db, id)
}

// ClaimNotification takes the right to send the moderator notice. It
// returns ErrNotificationInFlight while another delivery holds a live claim
// and false when the notice was already recorded.
func (s *Service) ClaimNotification(ctx context.Context, id snowflake.ID) (bool, error) {
	now := s.clock.Now()
	ok, err := s.repo.ClaimNotification(ctx, s.db.WithContext(ctx), id, now, now.Add(-NotificationLease))
	if err != nil || ok {
		return ok, err
	}

	registration, err := s.load(ctx, s.db, id)
	if err != nil {
		return false, err
	}
	if registration.NotificationSentAt != nil {
		return false, nil
	}
	return false, domain.ErrNotificationInFlight
}

// ReleaseNotification drops a claim after a failed send so a retry can take it.
func (s *Service) ReleaseNotification(ctx context.Context, id snowflake.ID) error {
	return s.repo.ReleaseNotification(ctx, s.db.WithContext(ctx), id)
}

// MarkNotificationSent records delivery once. A second call is a no-op.
func (s *Service) MarkNotificationSent(ctx context.Context, id snowflake.ID) error {
	ok, err := s.repo.MarkNotificationSent(ctx, s.db.WithContext(ctx), id, s.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		logger.WithContext(ctx, s.log).Debug("notification already recorded",
			zap.String("registration_id", id.String()),
		)
	}
	return nil
}

// MarkFailed moves an open registration to FAILED. It reports false when the
// registration had already left the open states.
func (s *Service) MarkFailed(ctx context.Context, id snowflake.ID, cause error) (bool, error) {
	reason := "processing failed"
	if cause != nil {
		reason = truncate(cause.Error(), 512)
	}

	var (
		changed bool
		from    domain.Status
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		registration, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		from = registration.Status
		if registration.Status.Terminal() {
			return nil
		}

		changed, err = s.repo.Transition(ctx, tx, id, domain.Transition{
			From:            domain.OpenStatuses(),
			To:              domain.StatusFailed,
			At:              s.clock.Now(),
			RejectionReason: &reason,
		})
		if err != nil || !changed {
			return err
		}

		if s.auditSvc == nil {
			return nil
		}
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			GuildID:    registration.GuildID,
			ActorType:  auditdomain.ActorTypeSystem,
			ActorID:    "worker",
			Action:     auditdomain.ActionRegistrationFailed,
			TargetType: auditdomain.TargetRegistration,
			TargetID:   id.String(),
			Metadata:   map[string]any{"reason": reason},
		})
	})
	if err != nil {
		return false, err
	}
	if changed {
		s.metrics.IncTransition(string(from), string(domain.StatusFailed))
		logger.WithContext(ctx, s.log).Warn("registration marked failed",
			zap.String("registration_id", id.String()),
			zap.String("reason", reason),
		)
	}
	return changed, nil
}

func (s *Service) load(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Registration, error) {
	registration, err := s.repo.FindByID(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if registration == nil {
		return nil, domain.ErrNotFound
	}
	return registration, nil
}

func alreadyHandled(result Result, registration *domain.Registration) Result {
	result.Success = true
	result.AlreadyProcessed = true
	result.Message = msgAlreadyHandled
	result.Registration = registration
	return result
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
