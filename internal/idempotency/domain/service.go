package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

const OperationRegistrationProcessing = "registration.processing"

var (
	ErrAlreadyProcessed   = errors.New("already_processed")
	ErrInvalidMessageID   = errors.New("invalid_message_id")
	ErrTransactionMissing = errors.New("transaction_required")
)

type Repository interface {
	Exists(ctx context.Context, db *gorm.DB, messageID string) (bool, error)
	// Insert returns false when the message id is already recorded.
	Insert(ctx context.Context, db *gorm.DB, record *Record) (bool, error)
	DeleteBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}

// Ledger makes at-least-once delivery behave as at-most-once for side effects.
type Ledger interface {
	IsProcessed(ctx context.Context, messageID string) (bool, error)
	// MarkProcessed must run on the transaction of the state change it guards.
	MarkProcessed(ctx context.Context, tx *gorm.DB, messageID, operationType, targetID string, metadata map[string]any) error
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}
