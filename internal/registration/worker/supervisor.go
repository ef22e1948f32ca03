package worker

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/smallbiznis/leaguetracker/internal/config"
	"github.com/smallbiznis/leaguetracker/internal/outbox/dispatcher"
	"github.com/smallbiznis/leaguetracker/internal/queue"
	"github.com/thejerf/suture/v4"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const handlerName = "registration-processor"

type SupervisorParams struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	WMLogger   watermill.LoggerAdapter
	Transport  *queue.Transport
	Processor  *Processor
	Dispatcher *dispatcher.Dispatcher `optional:"true"`
	Pruner     *dispatcher.Pruner     `optional:"true"`
}

// Supervisor runs the job consumer and the outbox loops under one suture tree.
type Supervisor struct {
	root   *suture.Supervisor
	router *queue.RouterService
	log    *zap.Logger
}

func NewSupervisor(p SupervisorParams) (*Supervisor, error) {
	log := p.Log.Named("registration.worker")

	router, err := queue.NewRouter(p.Cfg.Queue, p.Transport, p.WMLogger)
	if err != nil {
		return nil, err
	}
	router.AddConsumerHandler(
		handlerName,
		queue.TopicRegistrationCreated,
		p.Transport.Subscriber,
		message.NoPublishHandlerFunc(p.Processor.Handle),
	)

	root := suture.New("leaguetracker-worker", suture.Spec{
		EventHook:        eventHook(log),
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	})

	routerSvc := &queue.RouterService{Router: router, Log: log}
	root.Add(routerSvc)
	if p.Dispatcher != nil {
		root.Add(p.Dispatcher)
	}
	if p.Pruner != nil {
		root.Add(p.Pruner)
	}

	return &Supervisor{root: root, router: routerSvc, log: log}, nil
}

// Serve blocks until ctx ends or the tree terminates.
func (s *Supervisor) Serve(ctx context.Context) error {
	return s.root.Serve(ctx)
}

func (s *Supervisor) ServeBackground(ctx context.Context) <-chan error {
	return s.root.ServeBackground(ctx)
}

// Running waits for the job consumer to subscribe.
func (s *Supervisor) Running(ctx context.Context) error {
	return s.router.Running(ctx)
}

// Start runs the supervisor for the lifetime of the fx app. A terminated tree
// shuts the app down with a non-zero exit code.
func Start(lc fx.Lifecycle, sd fx.Shutdowner, s *Supervisor) {
	ctx, cancel := context.WithCancel(context.Background())
	var done <-chan error

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			errCh := s.ServeBackground(ctx)
			finished := make(chan error, 1)
			done = finished
			go func() {
				err := <-errCh
				finished <- err
				if err != nil && !errors.Is(err, context.Canceled) {
					s.log.Error("worker supervisor terminated", zap.Error(err))
					_ = sd.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

func eventHook(log *zap.Logger) suture.EventHook {
	return func(e suture.Event) {
		fields := make([]zap.Field, 0, len(e.Map())+1)
		fields = append(fields, zap.String("event", eventName(e.Type())))
		for k, v := range e.Map() {
			fields = append(fields, zap.Any(k, v))
		}

		switch e.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate:
			log.Error(e.String(), fields...)
		case suture.EventTypeBackoff:
			log.Warn(e.String(), fields...)
		default:
			log.Info(e.String(), fields...)
		}
	}
}

func eventName(t suture.EventType) string {
	switch t {
	case suture.EventTypeStopTimeout:
		return "stop_timeout"
	case suture.EventTypeServicePanic:
		return "service_panic"
	case suture.EventTypeServiceTerminate:
		return "service_terminate"
	case suture.EventTypeBackoff:
		return "backoff"
	case suture.EventTypeResume:
		return "resume"
	default:
		return "unknown"
	}
}
