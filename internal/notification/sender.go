// Package notification delivers registration notices to the guild's
// moderators.
package notification

import (
	"context"
	"errors"
)

var (
	ErrBreakerOpen  = errors.New("notification_breaker_open")
	ErrRateLimited  = errors.New("notification_rate_limited")
	ErrNotDelivered = errors.New("notification_not_delivered")
)

// Sender announces a new registration. Implementations may fail
// transiently; callers retry at the job level.
type Sender interface {
	SendRegistrationNotification(ctx context.Context, registrationID, guildID, userID, url string) error
}

type NoOpSender struct{}

func (NoOpSender) SendRegistrationNotification(ctx context.Context, registrationID, guildID, userID, url string) error {
	return nil
}
