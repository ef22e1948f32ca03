package repository

import (
	"context"

	"github.com/smallbiznis/leaguetracker/internal/trackerurl/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// FindOwners resolves every owner of the given URLs in one round trip.
// Rejected or failed registrations release their URL. Trackers hold theirs
// after a soft delete, as does the completed registration behind them.
func (r *repo) FindOwners(ctx context.Context, db *gorm.DB, urls []string) ([]domain.URLOwner, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	var owners []domain.URLOwner
	err := db.WithContext(ctx).Raw(
		`SELECT url, id AS owner_id, 'registration' AS owner_type
		FROM registrations
		WHERE url IN ? AND status NOT IN ?
		UNION ALL
		SELECT url, id AS owner_id, 'tracker' AS owner_type
		FROM trackers
		WHERE url IN ?`,
		urls, []string{"REJECTED", "FAILED"},
		urls,
	).Scan(&owners).Error
	if err != nil {
		return nil, err
	}
	return owners, nil
}
