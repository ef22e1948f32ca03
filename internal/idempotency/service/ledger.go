package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/leaguetracker/internal/clock"
	"github.com/smallbiznis/leaguetracker/internal/idempotency/domain"
	"github.com/smallbiznis/leaguetracker/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
}

type Ledger struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Ledger {
	c := p.Clock
	if c == nil {
		c = clock.NewSystemClock()
	}
	return &Ledger{
		db:    p.DB,
		log:   p.Log.Named("idempotency.ledger"),
		clock: c,
		repo:  p.Repo,
	}
}

func (l *Ledger) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return false, domain.ErrInvalidMessageID
	}
	return l.repo.Exists(ctx, l.db, messageID)
}

func (l *Ledger) MarkProcessed(ctx context.Context, tx *gorm.DB, messageID, operationType, targetID string, metadata map[string]any) error {
	if tx == nil {
		return domain.ErrTransactionMissing
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return domain.ErrInvalidMessageID
	}

	record := &domain.Record{
		MessageID:     messageID,
		OperationType: operationType,
		TargetID:      targetID,
		ProcessedAt:   l.clock.Now(),
	}
	if len(metadata) > 0 {
		record.Metadata = datatypes.JSONMap(metadata)
	}

	inserted, err := l.repo.Insert(ctx, tx, record)
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.ErrAlreadyProcessed
		}
		return err
	}
	if !inserted {
		return domain.ErrAlreadyProcessed
	}
	return nil
}

// Prune deletes ledger rows older than the retention window.
func (l *Ledger) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("retention must be positive")
	}
	cutoff := l.clock.Now().Add(-olderThan)
	deleted, err := l.repo.DeleteBefore(ctx, l.db, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		l.log.Info("pruned idempotency records", zap.Int64("deleted", deleted), zap.Time("cutoff", cutoff))
	}
	return deleted, nil
}
