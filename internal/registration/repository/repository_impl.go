package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leaguetracker/internal/registration/domain"
	"github.com/smallbiznis/leaguetracker/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, registration *domain.Registration) error {
	return db.WithContext(ctx).Create(registration).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Registration, error) {
	return first(db.WithContext(ctx).Where("id = ?", id))
}

// FindNextOpen returns the oldest registration still awaiting review.
func (r *repo) FindNextOpen(ctx context.Context, db *gorm.DB, guildID string) (*domain.Registration, error) {
	return first(db.WithContext(ctx).
		Where("guild_id = ? AND status IN ?", guildID, domain.OpenStatuses()).
		Order("created_at ASC, id ASC"))
}

func (r *repo) FindLatestByUsername(ctx context.Context, db *gorm.DB, guildID, username string) (*domain.Registration, error) {
	return first(db.WithContext(ctx).
		Where("guild_id = ? AND LOWER(username) = ?", guildID, strings.ToLower(username)).
		Order("created_at DESC, id DESC"))
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Registration, error) {
	stmt := db.WithContext(ctx).Model(&domain.Registration{}).
		Where("guild_id = ?", filter.GuildID)
	if filter.UserID != "" {
		stmt = stmt.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}

	stmt, err := pagination.Apply(stmt, filter.Page)
	if err != nil {
		return nil, domain.ErrInvalidPageToken
	}

	var items []*domain.Registration
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

type statusCount struct {
	Status domain.Status
	Count  int64
}

func (r *repo) CountByStatus(ctx context.Context, db *gorm.DB, guildID string) (map[domain.Status]int64, error) {
	var rows []statusCount
	err := db.WithContext(ctx).Raw(
		`SELECT status, COUNT(1) AS count
		 FROM registrations
		 WHERE guild_id = ?
		 GROUP BY status`,
		guildID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.Status]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *repo) CountOpenByUser(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM registrations WHERE user_id = ? AND status IN ?`,
		userID,
		domain.OpenStatuses(),
	).Scan(&count).Error
	return count, err
}

// Transition applies the status change only while the row is still in one of
// t.From; the affected row count tells the caller whether it won.
func (r *repo) Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, t domain.Transition) (bool, error) {
	if len(t.From) == 0 {
		return false, errors.New("transition requires a source status")
	}

	updates := map[string]any{
		"status":     t.To,
		"updated_at": t.At,
	}
	if t.ProcessedBy != nil {
		updates["processed_by"] = *t.ProcessedBy
		updates["processed_at"] = t.At
	}
	if t.TrackerID != nil {
		updates["tracker_id"] = *t.TrackerID
	}
	if t.RejectionReason != nil {
		updates["rejection_reason"] = *t.RejectionReason
	}
	if t.StampProcessed {
		updates["last_processed_at"] = t.At
	}

	result := db.WithContext(ctx).
		Model(&domain.Registration{}).
		Where("id = ? AND status IN ?", id, t.From).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) IncrementNotificationAttempts(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE registrations
		 SET notification_attempts = notification_attempts + 1
		 WHERE id = ? AND notification_sent_at IS NULL`,
		id,
	).Error
}

func (r *repo) ClaimNotification(ctx context.Context, db *gorm.DB, id snowflake.ID, at, staleBefore time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE registrations
		 SET notification_claimed_at = ?
		 WHERE id = ? AND notification_sent_at IS NULL
		   AND (notification_claimed_at IS NULL OR notification_claimed_at < ?)`,
		at,
		id,
		staleBefore,
	)
	return result.RowsAffected == 1, result.Error
}

func (r *repo) ReleaseNotification(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE registrations
		 SET notification_claimed_at = NULL
		 WHERE id = ? AND notification_sent_at IS NULL`,
		id,
	).Error
}

func (r *repo) MarkNotificationSent(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE registrations
		 SET notification_sent_at = ?, updated_at = ?
		 WHERE id = ? AND notification_sent_at IS NULL`,
		at,
		at,
		id,
	)
	return result.RowsAffected == 1, result.Error
}

func first(stmt *gorm.DB) (*domain.Registration, error) {
	var registration domain.Registration
	err := stmt.Take(&registration).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &registration, nil
}
