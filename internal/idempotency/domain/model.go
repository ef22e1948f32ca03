package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Record marks a delivered message as having produced its side effects.
type Record struct {
	MessageID     string            `gorm:"primaryKey;column:message_id" json:"message_id"`
	OperationType string            `gorm:"column:operation_type" json:"operation_type"`
	TargetID      string            `gorm:"column:target_id" json:"target_id"`
	Metadata      datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	ProcessedAt   time.Time         `gorm:"column:processed_at" json:"processed_at"`
}

func (Record) TableName() string { return "idempotency_records" }
