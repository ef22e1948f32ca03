package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type ScrapingStatus string

const (
	ScrapingPending    ScrapingStatus = "PENDING"
	ScrapingInProgress ScrapingStatus = "IN_PROGRESS"
	ScrapingCompleted  ScrapingStatus = "COMPLETED"
	ScrapingFailed     ScrapingStatus = "FAILED"
)

func (s ScrapingStatus) Valid() bool {
	switch s {
	case ScrapingPending, ScrapingInProgress, ScrapingCompleted, ScrapingFailed:
		return true
	}
	return false
}

// Tracker is an approved link between a user and a tracker profile.
type Tracker struct {
	ID               snowflake.ID   `gorm:"primaryKey" json:"id"`
	URL              string         `gorm:"column:url" json:"url"`
	Game             string         `gorm:"column:game" json:"game"`
	Platform         string         `gorm:"column:platform" json:"platform"`
	Username         string         `gorm:"column:username" json:"username"`
	UserID           string         `gorm:"column:user_id" json:"user_id"`
	RegistrationID   *snowflake.ID  `gorm:"column:registration_id" json:"registration_id,omitempty"`
	DisplayName      *string        `gorm:"column:display_name" json:"display_name,omitempty"`
	IsActive         bool           `gorm:"column:is_active" json:"is_active"`
	IsDeleted        bool           `gorm:"column:is_deleted" json:"is_deleted"`
	ScrapingStatus   ScrapingStatus `gorm:"column:scraping_status" json:"scraping_status"`
	ScrapingError    *string        `gorm:"column:scraping_error" json:"scraping_error,omitempty"`
	ScrapingAttempts int            `gorm:"column:scraping_attempts" json:"scraping_attempts"`
	LastScrapedAt    *time.Time     `gorm:"column:last_scraped_at" json:"last_scraped_at,omitempty"`
	CreatedAt        time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"column:updated_at" json:"updated_at"`
}

func (Tracker) TableName() string { return "trackers" }
