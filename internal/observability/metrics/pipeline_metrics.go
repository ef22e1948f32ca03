package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	JobOutcomeTransitioned    = "transitioned"
	JobOutcomeAlreadyDone     = "already_processed"
	JobOutcomeNotificationDue = "notification_retry"
	JobOutcomeFailed          = "failed"
	JobOutcomeMalformed       = "malformed"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonNotFound             = "not_found"
	JobReasonUnknown              = "unknown"
)

const (
	NotificationOutcomeSent        = "sent"
	NotificationOutcomeFailed      = "failed"
	NotificationOutcomeBreakerOpen = "breaker_open"
	NotificationOutcomeSkipped     = "skipped"
)

const (
	DispatchDeferredLockHeld = "lock_held"
	DispatchDeferredEmpty    = "empty"
)

// PipelineMetrics captures registration pipeline health signals.
type PipelineMetrics struct {
	jobRuns          *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	jobErrors        *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	outboxPublished  *prometheus.CounterVec
	outboxFailed     *prometheus.CounterVec
	outboxPruned     prometheus.Counter
	dispatchDeferred *prometheus.CounterVec
	dispatchLag      prometheus.Observer
	transitions      *prometheus.CounterVec
	transitionCounts map[string]map[string]prometheus.Counter
}

var (
	pipelineMetricsOnce sync.Once
	pipelineMetrics     *PipelineMetrics
)

// Pipeline returns the singleton pipeline metrics registry.
func Pipeline() *PipelineMetrics {
	return PipelineWithConfig(Config{})
}

// PipelineWithConfig returns the singleton pipeline metrics registry using config labels.
func PipelineWithConfig(cfg Config) *PipelineMetrics {
	pipelineMetricsOnce.Do(func() {
		pipelineMetrics = newPipelineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return pipelineMetrics
}

// ResetPipelineMetricsForTest resets the pipeline metrics singleton for tests.
func ResetPipelineMetricsForTest() {
	pipelineMetricsOnce = sync.Once{}
	pipelineMetrics = nil
}

// NewPipelineMetricsForTest builds an instance bound to the given registry.
func NewPipelineMetricsForTest(registerer prometheus.Registerer) *PipelineMetrics {
	return newPipelineMetrics(registerer, Config{ServiceName: "leaguetracker", Environment: "test"})
}

func newPipelineMetrics(registerer prometheus.Registerer, cfg Config) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "leaguetracker"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "leaguetracker_registration_jobs_total",
		Help:        "Registration jobs handled by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "leaguetracker_registration_job_duration_seconds",
		Help:        "Registration job latency from delivery to acknowledgement.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	}, []string{"outcome"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "leaguetracker_registration_job_errors_total",
		Help:        "Registration job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"stage", "reason"})
	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "leaguetracker_notifications_total",
		Help:        "Registration notifications by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	outboxPublished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "leaguetracker_outbox_published_total",
		Help:        "Outbox events handed to the queue.",
		ConstLabels: constLabels,
	}, []string{"event_type"})
	outboxFailed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "leaguetracker_outbox_publish_failures_total",
		Help:        "Outbox events the queue refused.",
		ConstLabels: constLabels,
	}, []string{"event_type"})
	outboxPruned := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "leaguetracker_outbox_pruned_total",
		Help:        "Published outbox events removed after retention.",
		ConstLabels: constLabels,
	})
	dispatchDeferred := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "leaguetracker_outbox_dispatch_deferred_total",
		Help:        "Dispatcher cycles that did no work by reason.",
		ConstLabels: constLabels,
	}, []string{"reason"})
	dispatchLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "leaguetracker_outbox_dispatch_lag_seconds",
		Help:        "Delay between outbox event creation and publication.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		ConstLabels: constLabels,
	})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "leaguetracker_registration_transitions_total",
		Help:        "Registration status transitions.",
		ConstLabels: constLabels,
	}, []string{"from", "to"})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobErrors,
		notifications,
		outboxPublished,
		outboxFailed,
		outboxPruned,
		dispatchDeferred,
		dispatchLag,
		transitions,
	)

	transitionCounts := map[string]map[string]prometheus.Counter{}
	for from, targets := range map[string][]string{
		"PENDING":    {"PROCESSING", "COMPLETED", "REJECTED", "FAILED"},
		"PROCESSING": {"COMPLETED", "REJECTED", "FAILED"},
	} {
		counters := map[string]prometheus.Counter{}
		for _, to := range targets {
			counters[to] = transitions.WithLabelValues(from, to)
		}
		transitionCounts[from] = counters
	}

	return &PipelineMetrics{
		jobRuns:          jobRuns,
		jobDuration:      jobDuration,
		jobErrors:        jobErrors,
		notifications:    notifications,
		outboxPublished:  outboxPublished,
		outboxFailed:     outboxFailed,
		outboxPruned:     outboxPruned,
		dispatchDeferred: dispatchDeferred,
		dispatchLag:      dispatchLag,
		transitions:      transitions,
		transitionCounts: transitionCounts,
	}
}

// ObserveJob records a finished registration job.
func (m *PipelineMetrics) ObserveJob(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(outcome).Inc()
	m.jobDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// IncJobError increments the job error counter with classification.
func (m *PipelineMetrics) IncJobError(stage string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(stage, ClassifyJobReason(err)).Inc()
}

func (m *PipelineMetrics) IncNotification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}

// ObserveOutboxPublished records a published event and its dispatch lag.
func (m *PipelineMetrics) ObserveOutboxPublished(eventType string, lag time.Duration) {
	if m == nil {
		return
	}
	m.outboxPublished.WithLabelValues(eventType).Inc()
	if lag < 0 {
		lag = 0
	}
	m.dispatchLag.Observe(lag.Seconds())
}

func (m *PipelineMetrics) IncOutboxFailed(eventType string) {
	if m == nil {
		return
	}
	m.outboxFailed.WithLabelValues(eventType).Inc()
}

func (m *PipelineMetrics) AddOutboxPruned(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.outboxPruned.Add(float64(count))
}

func (m *PipelineMetrics) IncDispatchDeferred(reason string) {
	if m == nil {
		return
	}
	m.dispatchDeferred.WithLabelValues(reason).Inc()
}

// IncTransition increments registration status transition counters.
func (m *PipelineMetrics) IncTransition(from, to string) {
	if m == nil {
		return
	}
	if toCounters, ok := m.transitionCounts[from]; ok {
		if counter, ok := toCounters[to]; ok {
			counter.Inc()
			return
		}
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// ClassifyJobReason maps job errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	if err == nil {
		return JobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return JobReasonDeadlineExceeded
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return JobReasonNotFound
	}
	if hasPGCode(err, "55P03") {
		return JobReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return JobReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return JobReasonUniqueViolation
	}
	return JobReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
