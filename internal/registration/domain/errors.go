package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("registration_not_found")
	ErrInvalidState          = errors.New("invalid_registration_state")
	ErrMalformedRegistration = errors.New("malformed_registration")
	ErrMalformedJob          = errors.New("malformed_registration_job")
	ErrRegistrationFailed    = errors.New("failed_to_register")
	ErrInvalidID             = errors.New("invalid_registration_id")
	ErrInvalidGuild          = errors.New("invalid_guild_id")
	ErrInvalidUser           = errors.New("invalid_user_id")
	ErrInvalidStatus         = errors.New("invalid_status")
	ErrInvalidPageToken      = errors.New("invalid_page_token")
	ErrNotificationInFlight  = errors.New("notification_in_flight")
	ErrSelfReview            = errors.New("self_review_forbidden")
)

// ConflictError reports a uniqueness violation on a named field. Cause, when
// set, is the validation error that detected it.
type ConflictError struct {
	Field   string
	Message string
	Cause   error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Field, e.Message)
}

func (e *ConflictError) Unwrap() error {
	return e.Cause
}

// InvalidStateError is returned when a registration cannot move from its
// current status. It matches ErrInvalidState.
type InvalidStateError struct {
	ID      string
	Current Status
	Target  Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("registration %s is %s and cannot become %s", e.ID, e.Current, e.Target)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}
