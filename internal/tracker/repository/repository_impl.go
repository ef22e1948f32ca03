package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leaguetracker/internal/tracker/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, tracker *domain.Tracker) error {
	return db.WithContext(ctx).Create(tracker).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Tracker, error) {
	var tracker domain.Tracker
	err := db.WithContext(ctx).
		Where("id = ? AND is_deleted = ?", id, false).
		Take(&tracker).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tracker, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.Tracker, error) {
	var trackers []domain.Tracker
	err := db.WithContext(ctx).
		Where("user_id = ? AND is_deleted = ?", userID, false).
		Order("created_at ASC, id ASC").
		Find(&trackers).Error
	if err != nil {
		return nil, err
	}
	return trackers, nil
}

func (r *repo) CountActiveByUser(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM trackers WHERE user_id = ? AND is_deleted = ?`,
		userID,
		false,
	).Scan(&count).Error
	return count, err
}

func (r *repo) SoftDelete(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE trackers SET is_deleted = ?, is_active = ?, updated_at = ? WHERE id = ? AND is_deleted = ?`,
		true,
		false,
		at,
		id,
		false,
	)
	return result.RowsAffected == 1, result.Error
}

func (r *repo) UpdateScrapingStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, update domain.ScrapingUpdate) (bool, error) {
	attempts := 0
	if update.IncrementAttempt {
		attempts = 1
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE trackers
		 SET scraping_status = ?,
		     scraping_error = ?,
		     scraping_attempts = scraping_attempts + ?,
		     last_scraped_at = COALESCE(?, last_scraped_at),
		     updated_at = ?
		 WHERE id = ? AND is_deleted = ?`,
		update.Status,
		update.Error,
		attempts,
		update.ScrapedAt,
		update.At,
		id,
		false,
	)
	return result.RowsAffected == 1, result.Error
}
