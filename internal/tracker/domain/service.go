package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrNotFound              = errors.New("tracker_not_found")
	ErrInvalidID             = errors.New("invalid_tracker_id")
	ErrInvalidUser           = errors.New("invalid_user_id")
	ErrInvalidScrapingStatus = errors.New("invalid_scraping_status")
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, tracker *Tracker) error
	// FindByID returns nil when the tracker is missing or soft-deleted.
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tracker, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID string) ([]Tracker, error)
	CountActiveByUser(ctx context.Context, db *gorm.DB, userID string) (int64, error)
	SoftDelete(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	UpdateScrapingStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, update ScrapingUpdate) (bool, error)
}

type ScrapingUpdate struct {
	Status           ScrapingStatus
	Error            *string
	IncrementAttempt bool
	ScrapedAt        *time.Time
	At               time.Time
}

type Service interface {
	GetTracker(ctx context.Context, id string) (*Tracker, error)
	ListTrackersByUser(ctx context.Context, userID string) ([]Tracker, error)
	CountActiveByUser(ctx context.Context, userID string) (int64, error)
	DeleteTracker(ctx context.Context, id string) error
	UpdateScrapingStatus(ctx context.Context, id string, status ScrapingStatus, errMsg string) (*Tracker, error)
}
