package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/leaguetracker/internal/clock"
	"github.com/smallbiznis/leaguetracker/internal/observability/tracing"
	"github.com/smallbiznis/leaguetracker/internal/outbox/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
}

type Writer struct {
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository

	mu      sync.Mutex
	entropy io.Reader
}

func New(p Params) domain.Writer {
	c := p.Clock
	if c == nil {
		c = clock.NewSystemClock()
	}
	return &Writer{
		log:     p.Log.Named("outbox.writer"),
		clock:   c,
		repo:    p.Repo,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// CreateEvent writes an event on tx. Event ids are monotonic ULIDs, so id
// order within a process follows creation order.
func (w *Writer) CreateEvent(ctx context.Context, tx *gorm.DB, aggregateType, aggregateID, eventType string, payload any) (*domain.Event, error) {
	if !inTransaction(tx) {
		return nil, domain.ErrTransactionMissing
	}
	aggregateType = strings.TrimSpace(aggregateType)
	aggregateID = strings.TrimSpace(aggregateID)
	eventType = strings.TrimSpace(eventType)
	if aggregateType == "" || aggregateID == "" || eventType == "" {
		return nil, domain.ErrInvalidEvent
	}

	data, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}

	now := w.clock.Now()
	id, err := w.newID(now.UnixMilli())
	if err != nil {
		return nil, err
	}

	event := &domain.Event{
		ID:            id,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
		TraceContext:  traceContext(ctx),
		CreatedAt:     now,
	}
	if err := w.repo.Insert(ctx, tx, event); err != nil {
		return nil, err
	}

	w.log.Debug("outbox event written",
		zap.String("event_id", event.ID),
		zap.String("event_type", eventType),
		zap.String("aggregate_id", aggregateID),
	)
	return event, nil
}

func (w *Writer) newID(ms int64) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, err := ulid.New(uint64(ms), w.entropy)
	if err != nil {
		return "", fmt.Errorf("generate outbox id: %w", err)
	}
	return id.String(), nil
}

// traceContext captures the caller's span and baggage so the dispatcher can
// publish the job under the request that created it.
func traceContext(ctx context.Context) datatypes.JSONMap {
	carrier := tracing.MapCarrier{}
	tracing.InjectContext(ctx, carrier)
	if len(carrier) == 0 {
		return nil
	}
	out := make(datatypes.JSONMap, len(carrier))
	for k, v := range carrier {
		out[k] = v
	}
	return out
}

func marshalPayload(payload any) (datatypes.JSON, error) {
	switch v := payload.(type) {
	case nil:
		return datatypes.JSON("{}"), nil
	case []byte:
		if !json.Valid(v) {
			return nil, domain.ErrInvalidEvent
		}
		return datatypes.JSON(v), nil
	case datatypes.JSON:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode outbox payload: %w", err)
		}
		return datatypes.JSON(data), nil
	}
}

func inTransaction(tx *gorm.DB) bool {
	if tx == nil || tx.Statement == nil {
		return false
	}
	_, ok := tx.Statement.ConnPool.(gorm.TxCommitter)
	return ok
}
