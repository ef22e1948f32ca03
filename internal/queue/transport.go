package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"
	"github.com/smallbiznis/leaguetracker/internal/config"
	"go.uber.org/fx"
)

// Transport is the broker pair shared by the enqueuer and the worker router.
type Transport struct {
	Driver     string
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

func NewTransport(lc fx.Lifecycle, cfg config.Config, logger watermill.LoggerAdapter) (*Transport, error) {
	transport, err := OpenTransport(cfg.Queue, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			_ = ctx
			return transport.Close()
		},
	})
	return transport, nil
}

// OpenTransport builds the configured driver. The memory driver only
// reaches consumers in the same process.
func OpenTransport(cfg config.QueueConfig, logger watermill.LoggerAdapter) (*Transport, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	switch cfg.Driver {
	case config.QueueDriverNATS:
		return openNATS(cfg, logger)
	default:
		pubSub := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            256,
			Persistent:                     true,
			BlockPublishUntilSubscriberAck: false,
		}, logger)
		return &Transport{
			Driver:     config.QueueDriverMemory,
			Publisher:  pubSub,
			Subscriber: pubSub,
		}, nil
	}
}

func openNATS(cfg config.QueueConfig, logger watermill.LoggerAdapter) (*Transport, error) {
	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.NATSURL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
			// Nats-Msg-Id dedupes republished outbox events inside the stream window.
			TrackMsgId: true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.NATSURL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: cfg.SubscribersCount,
		AckWaitTimeout:   cfg.AckWait,
		CloseTimeout:     30 * time.Second,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
			AckAsync:      false,
			DurablePrefix: cfg.DurableName,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.MaxDeliver(cfg.MaxDeliver),
				natsgo.AckWait(cfg.AckWait),
				natsgo.DeliverAll(),
			},
		},
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("create nats subscriber: %w", err)
	}

	return &Transport{
		Driver:     config.QueueDriverNATS,
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

func (t *Transport) Close() error {
	if t == nil {
		return nil
	}
	pubErr := t.Publisher.Close()
	if t.Subscriber != nil && any(t.Subscriber) != any(t.Publisher) {
		if err := t.Subscriber.Close(); err != nil {
			return err
		}
	}
	return pubErr
}
