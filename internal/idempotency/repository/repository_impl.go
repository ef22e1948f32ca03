package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/leaguetracker/internal/idempotency/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Exists(ctx context.Context, db *gorm.DB, messageID string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM idempotency_records WHERE message_id = ?`,
		messageID,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Insert relies on the primary key: the losing insert of a concurrent pair
// affects no rows instead of aborting the caller's transaction.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.Record) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) DeleteBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`DELETE FROM idempotency_records WHERE processed_at < ?`,
		cutoff,
	)
	return result.RowsAffected, result.Error
}
