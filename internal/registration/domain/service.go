package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	trackerdomain "github.com/smallbiznis/leaguetracker/internal/tracker/domain"
	"github.com/smallbiznis/leaguetracker/pkg/db/pagination"
	"gorm.io/gorm"
)

// Transition describes a compare-and-swap status change.
type Transition struct {
	From            []Status
	To              Status
	At              time.Time
	ProcessedBy     *string
	TrackerID       *snowflake.ID
	RejectionReason *string
	// StampProcessed sets last_processed_at.
	StampProcessed bool
}

type ListFilter struct {
	GuildID string
	UserID  string
	Status  Status
	Page    pagination.Pagination
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, registration *Registration) error
	// FindByID returns nil when the registration does not exist.
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Registration, error)
	FindNextOpen(ctx context.Context, db *gorm.DB, guildID string) (*Registration, error)
	FindLatestByUsername(ctx context.Context, db *gorm.DB, guildID, username string) (*Registration, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Registration, error)
	CountByStatus(ctx context.Context, db *gorm.DB, guildID string) (map[Status]int64, error)
	CountOpenByUser(ctx context.Context, db *gorm.DB, userID string) (int64, error)
	// Transition reports false when the row was not in one of t.From.
	Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, t Transition) (bool, error)
	IncrementNotificationAttempts(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	// ClaimNotification takes the send lease when no notice was recorded and
	// any earlier claim is older than staleBefore. It reports false otherwise.
	ClaimNotification(ctx context.Context, db *gorm.DB, id snowflake.ID, at, staleBefore time.Time) (bool, error)
	ReleaseNotification(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	// MarkNotificationSent reports false when the notification was already recorded.
	MarkNotificationSent(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
}

type RegisterResult struct {
	RegistrationID string `json:"registration_id"`
	Status         Status `json:"status"`
	URL            string `json:"url"`
	Message        string `json:"message"`
}

type BatchRegisterResult struct {
	Registrations []RegisterResult `json:"registrations"`
	Message       string           `json:"message"`
}

type ApproveResult struct {
	Registration *Registration          `json:"registration"`
	Tracker      *trackerdomain.Tracker `json:"tracker"`
}

type ListRequest struct {
	pagination.Pagination
	GuildID string
	UserID  string
	Status  Status
}

type ListResponse struct {
	pagination.PageInfo
	Registrations []Registration `json:"registrations"`
}

type Service interface {
	RegisterTracker(ctx context.Context, userID, guildID, rawURL string) (RegisterResult, error)
	RegisterTrackers(ctx context.Context, userID, guildID string, rawURLs []string) (BatchRegisterResult, error)
	GetNextRegistration(ctx context.Context, guildID string) (*Registration, error)
	GetRegistrationByUser(ctx context.Context, guildID, username string) (*Registration, error)
	GetRegistrationByID(ctx context.Context, id string) (*Registration, error)
	ListRegistrations(ctx context.Context, req ListRequest) (ListResponse, error)
	ProcessRegistration(ctx context.Context, id, displayName, processedBy string) (ApproveResult, error)
	RejectRegistration(ctx context.Context, id, reason, processedBy string) (*Registration, error)
	GetQueueStats(ctx context.Context, guildID string) (QueueStats, error)
}
