package dispatcher

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Serve polls the outbox until ctx ends. It satisfies suture.Service.
func (d *Dispatcher) Serve(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		// Drain backlog without waiting for the next tick.
		for {
			published, err := d.DispatchOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				d.log.Warn("outbox dispatch cycle failed", zap.Error(err))
				break
			}
			if published < d.cfg.BatchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) String() string { return "outbox-dispatcher" }

// Pruner runs retention cleanup on a slow ticker.
type Pruner struct {
	Dispatcher *Dispatcher
}

func (p *Pruner) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.Dispatcher.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		if err := p.Dispatcher.Prune(ctx); err != nil && ctx.Err() == nil {
			p.Dispatcher.log.Warn("retention prune failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Pruner) String() string { return "retention-pruner" }
