package domain

import (
	"time"

	"gorm.io/datatypes"
)

const (
	AggregateRegistration = "registration"

	EventRegistrationCreated = "registration.created"
)

// Event is a state change recorded next to the write that caused it and
// handed to the queue later by the dispatcher.
type Event struct {
	ID            string         `gorm:"primaryKey;column:id" json:"id"`
	AggregateType string         `gorm:"column:aggregate_type" json:"aggregate_type"`
	AggregateID   string         `gorm:"column:aggregate_id" json:"aggregate_id"`
	EventType     string         `gorm:"column:event_type" json:"event_type"`
	Payload       datatypes.JSON `gorm:"column:payload" json:"payload"`
	// TraceContext holds the W3C propagation headers of the writing request.
	TraceContext datatypes.JSONMap `gorm:"column:trace_context" json:"trace_context,omitempty"`
	Attempts     int               `gorm:"column:attempts" json:"attempts"`
	LastError    *string           `gorm:"column:last_error" json:"last_error,omitempty"`
	PublishedAt  *time.Time        `gorm:"column:published_at" json:"published_at,omitempty"`
	CreatedAt    time.Time         `gorm:"column:created_at" json:"created_at"`
}

func (Event) TableName() string { return "outbox_events" }
