package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type OwnerType string

const (
	OwnerRegistration OwnerType = "registration"
	OwnerTracker      OwnerType = "tracker"
)

// URLOwner is a persisted row currently holding a URL.
type URLOwner struct {
	URL       string
	OwnerID   snowflake.ID
	OwnerType OwnerType
}

type ValidateOptions struct {
	// ExcludeID ignores an owner that is being replaced in place.
	ExcludeID snowflake.ID
	// SkipUniqueness is set by callers that already ran CheckURLsUnique.
	SkipUniqueness bool
}

type Repository interface {
	FindOwners(ctx context.Context, db *gorm.DB, urls []string) ([]URLOwner, error)
}

type Service interface {
	Validate(ctx context.Context, raw string, opts ValidateOptions) (ParsedURL, error)
	CheckURLsUnique(ctx context.Context, urls []string, excludeIDs []snowflake.ID) (map[string]bool, error)
}
