package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusRejected   Status = "REJECTED"
	StatusFailed     Status = "FAILED"
)

// AllStatuses lists statuses in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusProcessing, StatusCompleted, StatusRejected, StatusFailed}
}

// OpenStatuses are the statuses an admin can still act on.
func OpenStatuses() []Status {
	return []Status{StatusPending, StatusProcessing}
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusRejected, StatusFailed:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusFailed
}

var transitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusProcessing: {},
		StatusCompleted:  {},
		StatusRejected:   {},
		StatusFailed:     {},
	},
	StatusProcessing: {
		StatusCompleted: {},
		StatusRejected:  {},
		StatusFailed:    {},
	},
}

// CanTransition reports whether from may move to to. Terminal statuses
// never move.
func CanTransition(from, to Status) bool {
	_, ok := transitions[from][to]
	return ok
}

// Registration is a user's request to link a tracker profile, awaiting review.
type Registration struct {
	ID                    snowflake.ID  `gorm:"primaryKey" json:"id"`
	UserID                string        `gorm:"column:user_id" json:"user_id"`
	GuildID               string        `gorm:"column:guild_id" json:"guild_id"`
	URL                   string        `gorm:"column:url" json:"url"`
	Game                  string        `gorm:"column:game" json:"game"`
	Platform              *string       `gorm:"column:platform" json:"platform,omitempty"`
	Username              *string       `gorm:"column:username" json:"username,omitempty"`
	Status                Status        `gorm:"column:status" json:"status"`
	RejectionReason       *string       `gorm:"column:rejection_reason" json:"rejection_reason,omitempty"`
	ProcessedBy           *string       `gorm:"column:processed_by" json:"processed_by,omitempty"`
	ProcessedAt           *time.Time    `gorm:"column:processed_at" json:"processed_at,omitempty"`
	TrackerID             *snowflake.ID `gorm:"column:tracker_id" json:"tracker_id,omitempty"`
	NotificationSentAt    *time.Time    `gorm:"column:notification_sent_at" json:"notification_sent_at,omitempty"`
	NotificationClaimedAt *time.Time    `gorm:"column:notification_claimed_at" json:"-"`
	NotificationAttempts  int           `gorm:"column:notification_attempts" json:"notification_attempts"`
	LastProcessedAt       *time.Time    `gorm:"column:last_processed_at" json:"last_processed_at,omitempty"`
	CreatedAt             time.Time     `gorm:"column:created_at" json:"created_at"`
	UpdatedAt             time.Time     `gorm:"column:updated_at" json:"updated_at"`
}

func (Registration) TableName() string { return "registrations" }

// NotificationDue reports whether moderators still need to hear about r.
func (r *Registration) NotificationDue() bool {
	return r.NotificationSentAt == nil && !r.Status.Terminal()
}

// RegistrationJob is the queue payload announcing a new registration.
// It is also the outbox event payload.
type RegistrationJob struct {
	RegistrationID string    `json:"registration_id"`
	UserID         string    `json:"user_id"`
	GuildID        string    `json:"guild_id"`
	URL            string    `json:"url"`
	Game           string    `json:"game"`
	Platform       string    `json:"platform"`
	Username       string    `json:"username"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// ParseRegistrationID validates the job's registration id.
func (j RegistrationJob) ParseRegistrationID() (snowflake.ID, error) {
	id, err := snowflake.ParseString(j.RegistrationID)
	if err != nil || id == 0 {
		return 0, ErrMalformedJob
	}
	return id, nil
}

type QueueStats struct {
	GuildID    string `json:"guild_id"`
	Pending    int64  `json:"pending"`
	Processing int64  `json:"processing"`
	Completed  int64  `json:"completed"`
	Rejected   int64  `json:"rejected"`
	Failed     int64  `json:"failed"`
	Total      int64  `json:"total"`
}
