package domain

import (
	"errors"
	"fmt"
)

type Reason string

const (
	ReasonFormat              Reason = "format"
	ReasonUnsupportedPlatform Reason = "unsupported_platform"
	ReasonInvalidUsername     Reason = "invalid_username"
	ReasonNotUnique           Reason = "not_unique"
	ReasonBatchSize           Reason = "batch_size"
	ReasonDuplicateInBatch    Reason = "duplicate_in_batch"
	ReasonLimitExceeded       Reason = "limit_exceeded"
)

// ValidationError reports which rule a submitted URL broke.
type ValidationError struct {
	Reason  Reason
	URL     string
	Message string
}

func (e *ValidationError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Reason, e.Message, e.URL)
}

func newValidationError(reason Reason, rawURL, message string) *ValidationError {
	return &ValidationError{Reason: reason, URL: rawURL, Message: message}
}

// NewValidationError builds a validation error for rules enforced outside Parse.
func NewValidationError(reason Reason, rawURL, message string) *ValidationError {
	return newValidationError(reason, rawURL, message)
}

// ReasonOf returns the validation reason carried by err, if any.
func ReasonOf(err error) (Reason, bool) {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr.Reason, true
	}
	return "", false
}
