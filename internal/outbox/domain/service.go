package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	ErrTransactionMissing = errors.New("transaction_required")
	ErrInvalidEvent       = errors.New("invalid_outbox_event")
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *Event) error
	// FetchUnpublished returns the oldest unpublished events. With skipLocked
	// the rows stay locked by db until it commits.
	FetchUnpublished(ctx context.Context, db *gorm.DB, limit int, skipLocked bool) ([]Event, error)
	MarkPublished(ctx context.Context, db *gorm.DB, id string, at time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id string, reason string) error
	DeletePublishedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}

// Writer records events on the caller's transaction only.
type Writer interface {
	CreateEvent(ctx context.Context, tx *gorm.DB, aggregateType, aggregateID, eventType string, payload any) (*Event, error)
}
