package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/smallbiznis/leaguetracker/internal/notification"
	obscontext "github.com/smallbiznis/leaguetracker/internal/observability/context"
	"github.com/smallbiznis/leaguetracker/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/leaguetracker/internal/observability/metrics"
	"github.com/smallbiznis/leaguetracker/internal/queue"
	"github.com/smallbiznis/leaguetracker/internal/registration/domain"
	"github.com/smallbiznis/leaguetracker/internal/registration/processing"
	"go.uber.org/zap"
)

// Processor consumes registration.created jobs: it moves the registration to
// PROCESSING and notifies moderators. Returning an error hands the message
// back to the router for retry.
type Processor struct {
	log        *zap.Logger
	processing *processing.Service
	sender     notification.Sender
	metrics    *obsmetrics.PipelineMetrics
}

func NewProcessor(log *zap.Logger, svc *processing.Service, sender notification.Sender, metrics *obsmetrics.PipelineMetrics) *Processor {
	if sender == nil {
		sender = notification.NoOpSender{}
	}
	return &Processor{
		log:        log.Named("registration.processor"),
		processing: svc,
		sender:     sender,
		metrics:    metrics,
	}
}

// Handle is a watermill NoPublishHandlerFunc.
func (p *Processor) Handle(msg *message.Message) error {
	started := time.Now()

	ctx := queue.ExtractContext(msg)
	ctx = obscontext.WithMessageID(ctx, msg.UUID)
	ctx = obscontext.WithActor(ctx, "system", "worker")

	var job domain.RegistrationJob
	if err := queue.Decode(msg.Payload, &job); err != nil {
		p.malformed(ctx, msg, err)
		return queue.Permanent(fmt.Errorf("%w: %v", domain.ErrMalformedJob, err))
	}
	if err := validateJob(job); err != nil {
		p.malformed(ctx, msg, err)
		return queue.Permanent(err)
	}
	ctx = obscontext.WithGuildID(ctx, job.GuildID)

	log := logger.WithContext(ctx, p.log).With(
		zap.String("registration_id", job.RegistrationID),
		zap.String("message_id", msg.UUID),
	)

	result, err := p.processing.ProcessRegistration(ctx, job, msg.UUID)
	if err != nil {
		return p.fail(ctx, log, job, started, err)
	}

	outcome := obsmetrics.JobOutcomeTransitioned
	if result.AlreadyProcessed {
		outcome = obsmetrics.JobOutcomeAlreadyDone
	}

	registration := result.Registration
	if registration == nil || !registration.NotificationDue() {
		if result.AlreadyProcessed {
			p.metrics.IncNotification(obsmetrics.NotificationOutcomeSkipped)
		}
		p.metrics.ObserveJob(outcome, time.Since(started))
		log.Debug("registration job handled", zap.String("outcome", outcome))
		return nil
	}
	if result.AlreadyProcessed {
		outcome = obsmetrics.JobOutcomeNotificationDue
	}

	claimed, err := p.processing.ClaimNotification(ctx, registration.ID)
	if err != nil {
		// Another delivery is sending; retry until it records or loses the claim.
		p.metrics.IncJobError("notification", err)
		p.metrics.ObserveJob(obsmetrics.JobOutcomeFailed, time.Since(started))
		log.Debug("registration notification not claimed", zap.Error(err))
		return fmt.Errorf("claim registration notification: %w", err)
	}
	if !claimed {
		p.metrics.IncNotification(obsmetrics.NotificationOutcomeSkipped)
		p.metrics.ObserveJob(outcome, time.Since(started))
		log.Debug("registration notification already recorded")
		return nil
	}

	if err := p.sender.SendRegistrationNotification(ctx, registration.ID.String(), registration.GuildID, registration.UserID, registration.URL); err != nil {
		if releaseErr := p.processing.ReleaseNotification(ctx, registration.ID); releaseErr != nil {
			log.Error("failed to release notification claim", zap.Error(releaseErr))
		}
		p.metrics.IncJobError("notification", err)
		p.metrics.ObserveJob(obsmetrics.JobOutcomeFailed, time.Since(started))
		log.Warn("registration notification failed", zap.Error(err))
		return fmt.Errorf("send registration notification: %w", err)
	}

	if err := p.processing.MarkNotificationSent(ctx, registration.ID); err != nil {
		// The notice went out; a retry would send it twice.
		log.Error("failed to record notification delivery", zap.Error(err))
	}

	p.metrics.ObserveJob(outcome, time.Since(started))
	log.Info("registration job handled", zap.String("outcome", outcome))
	return nil
}

func (p *Processor) fail(ctx context.Context, log *zap.Logger, job domain.RegistrationJob, started time.Time, err error) error {
	p.metrics.IncJobError("processing", err)
	p.metrics.ObserveJob(obsmetrics.JobOutcomeFailed, time.Since(started))

	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrMalformedJob) {
		log.Warn("dropping registration job", zap.Error(err))
		return queue.Permanent(err)
	}

	log.Error("registration processing failed", zap.Error(err))

	if id, parseErr := job.ParseRegistrationID(); parseErr == nil {
		if _, markErr := p.processing.MarkFailed(ctx, id, err); markErr != nil {
			log.Error("failed to mark registration failed", zap.Error(markErr))
		}
	}
	return err
}

func (p *Processor) malformed(ctx context.Context, msg *message.Message, err error) {
	p.metrics.ObserveJob(obsmetrics.JobOutcomeMalformed, 0)
	logger.WithContext(ctx, p.log).Warn("malformed registration job",
		zap.String("message_id", msg.UUID),
		zap.Error(err),
	)
}

func validateJob(job domain.RegistrationJob) error {
	if _, err := job.ParseRegistrationID(); err != nil {
		return err
	}
	if strings.TrimSpace(job.GuildID) == "" || strings.TrimSpace(job.UserID) == "" || strings.TrimSpace(job.URL) == "" {
		return fmt.Errorf("%w: missing guild, user or url", domain.ErrMalformedJob)
	}
	return nil
}
