// Package dispatcher drains the transactional outbox onto the job queue.
package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/leaguetracker/internal/clock"
	"github.com/smallbiznis/leaguetracker/internal/config"
	idempotencydomain "github.com/smallbiznis/leaguetracker/internal/idempotency/domain"
	obsmetrics "github.com/smallbiznis/leaguetracker/internal/observability/metrics"
	"github.com/smallbiznis/leaguetracker/internal/observability/tracing"
	"github.com/smallbiznis/leaguetracker/internal/outbox/domain"
	"github.com/smallbiznis/leaguetracker/internal/queue"
	"github.com/smallbiznis/leaguetracker/internal/ratelimit"
	"github.com/smallbiznis/leaguetracker/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	dispatchLockKey = "outbox-dispatch"
	pruneLockKey    = "outbox-prune"
)

var ErrInvalidConfig = errors.New("invalid_dispatcher_config")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Cfg      config.Config
	Clock    clock.Clock
	Repo     domain.Repository
	Enqueuer queue.Enqueuer
	Ledger   idempotencydomain.Ledger    `optional:"true"`
	Locker   *ratelimit.Locker           `optional:"true"`
	Metrics  *obsmetrics.PipelineMetrics `optional:"true"`
}

type Config struct {
	Interval        time.Duration
	BatchSize       int
	CycleTimeout    time.Duration
	PruneInterval   time.Duration
	OutboxRetention time.Duration
	LedgerRetention time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:        2 * time.Second,
		BatchSize:       50,
		CycleTimeout:    30 * time.Second,
		PruneInterval:   time.Hour,
		OutboxRetention: 7 * 24 * time.Hour,
		LedgerRetention: 30 * 24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = defaults.Interval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = defaults.CycleTimeout
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = defaults.PruneInterval
	}
	if c.OutboxRetention <= 0 {
		c.OutboxRetention = defaults.OutboxRetention
	}
	if c.LedgerRetention <= 0 {
		c.LedgerRetention = defaults.LedgerRetention
	}
	return c
}

type Dispatcher struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      Config
	clock    clock.Clock
	repo     domain.Repository
	enqueuer queue.Enqueuer
	ledger   idempotencydomain.Ledger
	locker   *ratelimit.Locker
	metrics  *obsmetrics.PipelineMetrics
}

func New(p Params) (*Dispatcher, error) {
	if p.DB == nil || p.Log == nil || p.Repo == nil || p.Enqueuer == nil {
		return nil, ErrInvalidConfig
	}
	c := p.Clock
	if c == nil {
		c = clock.NewSystemClock()
	}
	cfg := Config{
		Interval:        p.Cfg.Queue.DispatchInterval,
		BatchSize:       p.Cfg.Queue.DispatchBatchSize,
		OutboxRetention: p.Cfg.Queue.OutboxRetention,
		LedgerRetention: p.Cfg.Queue.LedgerRetention,
	}.withDefaults()

	return &Dispatcher{
		db:       p.DB,
		log:      p.Log.Named("outbox.dispatcher"),
		cfg:      cfg,
		clock:    c,
		repo:     p.Repo,
		enqueuer: p.Enqueuer,
		ledger:   p.Ledger,
		locker:   p.Locker,
		metrics:  p.Metrics,
	}, nil
}

// DispatchOnce publishes one batch and reports how many events went out.
// When another instance holds the cluster lock the cycle is skipped.
func (d *Dispatcher) DispatchOnce(parent context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(parent, d.cfg.CycleTimeout)
	defer cancel()

	if !d.locker.Enabled() {
		return d.dispatchBatch(ctx)
	}

	var published int
	ran, err := d.locker.WithLock(ctx, dispatchLockKey, d.cfg.CycleTimeout, func(ctx context.Context) error {
		var err error
		published, err = d.dispatchBatch(ctx)
		return err
	})
	if err != nil {
		return published, err
	}
	if !ran {
		d.metrics.IncDispatchDeferred(obsmetrics.DispatchDeferredLockHeld)
	}
	return published, nil
}

func (d *Dispatcher) dispatchBatch(ctx context.Context) (int, error) {
	skipLocked := db.SupportsSkipLocked(d.db)
	published := 0

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		events, err := d.repo.FetchUnpublished(ctx, tx, d.cfg.BatchSize, skipLocked)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			d.metrics.IncDispatchDeferred(obsmetrics.DispatchDeferredEmpty)
			return nil
		}

		for _, event := range events {
			if err := d.publish(ctx, event); err != nil {
				d.metrics.IncOutboxFailed(event.EventType)
				d.log.Warn("outbox publish failed",
					zap.String("event_id", event.ID),
					zap.String("event_type", event.EventType),
					zap.Int("attempts", event.Attempts+1),
					zap.Error(err),
				)
				if markErr := d.repo.MarkFailed(ctx, tx, event.ID, err.Error()); markErr != nil {
					return markErr
				}
				continue
			}

			now := d.clock.Now()
			if err := d.repo.MarkPublished(ctx, tx, event.ID, now); err != nil {
				return err
			}
			d.metrics.ObserveOutboxPublished(event.EventType, now.Sub(event.CreatedAt))
			published++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if published > 0 {
		d.log.Debug("outbox batch dispatched", zap.Int("published", published))
	}
	return published, nil
}

func (d *Dispatcher) publish(ctx context.Context, event domain.Event) error {
	if len(event.TraceContext) > 0 {
		carrier := tracing.MapCarrier{}
		for k, v := range event.TraceContext {
			if s, ok := v.(string); ok {
				carrier[k] = s
			}
		}
		ctx = tracing.ExtractContext(ctx, carrier)
	}
	_, err := d.enqueuer.Enqueue(ctx, event.EventType, []byte(event.Payload), queue.EnqueueOptions{
		DedupeKey: event.ID,
		Metadata: map[string]string{
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID,
		},
	})
	return err
}

// Prune removes published events and ledger rows past their retention.
func (d *Dispatcher) Prune(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, d.cfg.CycleTimeout)
	defer cancel()

	prune := func(ctx context.Context) error {
		cutoff := d.clock.Now().Add(-d.cfg.OutboxRetention)
		deleted, err := d.repo.DeletePublishedBefore(ctx, d.db, cutoff)
		if err != nil {
			return err
		}
		d.metrics.AddOutboxPruned(deleted)
		if deleted > 0 {
			d.log.Info("pruned outbox events", zap.Int64("deleted", deleted), zap.Time("cutoff", cutoff))
		}
		if d.ledger == nil {
			return nil
		}
		_, err = d.ledger.Prune(ctx, d.cfg.LedgerRetention)
		return err
	}

	if !d.locker.Enabled() {
		return prune(ctx)
	}
	_, err := d.locker.WithLock(ctx, pruneLockKey, d.cfg.CycleTimeout, prune)
	return err
}
