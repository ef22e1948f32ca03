package queue

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/smallbiznis/leaguetracker/internal/config"
	"github.com/smallbiznis/leaguetracker/internal/observability/tracing"
	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
)

// NewRouter builds a router with the shared delivery policy: panics become
// errors, transient errors retry with backoff, and anything still failing
// lands on the poison topic. Permanent errors skip the retries.
func NewRouter(cfg config.QueueConfig, transport *Transport, logger watermill.LoggerAdapter) (*message.Router, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: 30 * time.Second,
	}, logger)
	if err != nil {
		return nil, err
	}

	poisonTopic := cfg.PoisonTopic
	if poisonTopic == "" {
		poisonTopic = "dlq." + TopicRegistrationCreated
	}

	exhausted, err := middleware.PoisonQueue(transport.Publisher, poisonTopic)
	if err != nil {
		return nil, err
	}
	permanent, err := middleware.PoisonQueueWithFilter(transport.Publisher, poisonTopic, IsPermanent)
	if err != nil {
		return nil, err
	}

	retry := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Multiplier:      2,
		Logger:          logger,
	}

	router.AddMiddleware(
		exhausted,
		retry.Middleware,
		permanent,
		middleware.Recoverer,
	)

	return router, nil
}

// ExtractContext restores the publisher's trace context onto a delivered message.
func ExtractContext(msg *message.Message) context.Context {
	ctx := msg.Context()
	return tracing.ExtractContext(ctx, tracing.MapCarrier(msg.Metadata))
}

// RouterService runs a router under a suture supervisor. A router cannot be
// restarted once closed, so a failed run terminates the supervisor tree.
type RouterService struct {
	Router *message.Router
	Log    *zap.Logger
}

func (s *RouterService) Serve(ctx context.Context) error {
	err := s.Router.Run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		s.Log.Error("queue router stopped", zap.Error(err))
	}
	return suture.ErrTerminateSupervisorTree
}

func (s *RouterService) String() string { return "queue-router" }

// Running waits until the router is consuming or ctx ends.
func (s *RouterService) Running(ctx context.Context) error {
	select {
	case <-s.Router.Running():
		return nil
	case <-ctx.Done():
		return errors.Join(ErrClosed, ctx.Err())
	}
}
