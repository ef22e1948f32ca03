package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/leaguetracker/internal/outbox/domain"
	"gorm.io/gorm"
)

const maxErrorLength = 1024

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.Event) error {
	return db.WithContext(ctx).Create(event).Error
}

func (r *repo) FetchUnpublished(ctx context.Context, db *gorm.DB, limit int, skipLocked bool) ([]domain.Event, error) {
	query := `SELECT id, aggregate_type, aggregate_id, event_type, payload, trace_context, attempts, last_error, published_at, created_at
		 FROM outbox_events
		 WHERE published_at IS NULL
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`
	if skipLocked {
		query += ` FOR UPDATE SKIP LOCKED`
	}

	var events []domain.Event
	if err := db.WithContext(ctx).Raw(query, limit).Scan(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) MarkPublished(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE outbox_events SET published_at = ?, last_error = NULL WHERE id = ? AND published_at IS NULL`,
		at,
		id,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id string, reason string) error {
	if len(reason) > maxErrorLength {
		reason = reason[:maxErrorLength]
	}
	return db.WithContext(ctx).Exec(
		`UPDATE outbox_events SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
		reason,
		id,
	).Error
}

func (r *repo) DeletePublishedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`DELETE FROM outbox_events WHERE published_at IS NOT NULL AND published_at < ?`,
		cutoff,
	)
	return result.RowsAffected, result.Error
}
