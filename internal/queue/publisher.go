package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/leaguetracker/internal/observability/tracing"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Publisher enqueues jobs onto the watermill transport. Publishing runs
// behind a circuit breaker so a dead broker fails fast and the outbox keeps
// the events for the next dispatch cycle.
type Publisher struct {
	pub     message.Publisher
	log     *zap.Logger
	breaker *gobreaker.CircuitBreaker[struct{}]
	now     func() time.Time
}

func NewPublisher(transport *Transport, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("queue.publisher")
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "queue-publisher",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("publisher breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &Publisher{
		pub:     transport.Publisher,
		log:     log,
		breaker: breaker,
		now:     time.Now,
	}
}

func (p *Publisher) Enqueue(ctx context.Context, jobType string, payload []byte, opts EnqueueOptions) (string, error) {
	jobType = strings.TrimSpace(jobType)
	if jobType == "" {
		return "", ErrEmptyJobType
	}

	id := strings.TrimSpace(opts.DedupeKey)
	if id == "" {
		id = ulid.Make().String()
	}

	msg := message.NewMessage(id, payload)
	msg.SetContext(ctx)
	for key, value := range opts.Metadata {
		msg.Metadata.Set(key, value)
	}
	msg.Metadata.Set(MetadataJobType, jobType)
	msg.Metadata.Set(MetadataDedupeKey, id)
	msg.Metadata.Set(MetadataEnqueuedAt, p.now().UTC().Format(time.RFC3339Nano))
	msg.Metadata.Set(natsgo.MsgIdHdr, id)
	tracing.InjectContext(ctx, tracing.MapCarrier(msg.Metadata))

	_, err := p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.pub.Publish(jobType, msg)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			p.log.Debug("publish short-circuited", zap.String("job_type", jobType), zap.String("message_id", id))
		}
		return "", fmt.Errorf("publish %s: %w", jobType, err)
	}
	return id, nil
}
