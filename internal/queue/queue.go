// Package queue is the job queue boundary of the registration pipeline.
// Jobs are watermill messages whose UUID is the dedupe key, delivered at
// least once over NATS JetStream or an in-process channel.
package queue

import (
	"context"
	"errors"
)

// Topics.
const (
	TopicRegistrationCreated = "registration.created"
)

const (
	MetadataJobType    = "job_type"
	MetadataDedupeKey  = "dedupe_key"
	MetadataEnqueuedAt = "enqueued_at"
)

var (
	ErrEmptyJobType = errors.New("empty_job_type")
	ErrClosed       = errors.New("queue_closed")
)

type EnqueueOptions struct {
	// DedupeKey becomes the message id; redelivery and republish keep it.
	DedupeKey string
	Metadata  map[string]string
}

// Enqueuer hands jobs to the queue and returns the job id.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload []byte, opts EnqueueOptions) (string, error)
}

// PermanentError marks a job that can never succeed. It skips retries and
// goes straight to the dead-letter topic.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var pErr *PermanentError
	return errors.As(err, &pErr)
}
