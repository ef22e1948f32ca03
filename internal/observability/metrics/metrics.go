package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

const (
	instSubmissions      = "leaguetracker_registration_submissions_total"
	instValidationErrors = "leaguetracker_registration_validation_errors_total"
	instDuplicates       = "leaguetracker_registration_duplicates_total"
	instRateLimitAllowed = "leaguetracker_rate_limit_allowed_total"
	instRateLimitDenied  = "leaguetracker_rate_limit_denied_total"
)

var instruments = map[string]string{
	instSubmissions:      "Registrations accepted, by platform.",
	instValidationErrors: "Submitted URLs rejected by validation, by reason.",
	instDuplicates:       "Submissions refused because the URL is already owned.",
	instRateLimitAllowed: "Requests admitted by the submission limiter.",
	instRateLimitDenied:  "Requests refused by the submission limiter.",
}

// Metrics holds the OTLP-exported counters for the submission path. The
// pipeline (queue, outbox, transitions) is on the prometheus side in
// PipelineMetrics.
type Metrics struct {
	counters map[string]metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New registers the submission counters on provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "leaguetracker"
	}
	meter := provider.Meter(name)

	m := &Metrics{counters: make(map[string]metric.Int64Counter, len(instruments))}
	for inst, desc := range instruments {
		counter, err := meter.Int64Counter(inst, metric.WithDescription(desc))
		if err != nil {
			return nil, fmt.Errorf("metrics: %s: %w", inst, err)
		}
		m.counters[inst] = counter
	}
	return m, nil
}

func (m *Metrics) RecordSubmission(ctx context.Context, platform string) {
	m.add(ctx, instSubmissions, attribute.String("platform", platform))
}

func (m *Metrics) RecordValidationError(ctx context.Context, reason string) {
	m.add(ctx, instValidationErrors, attribute.String("reason", reason))
}

// RecordDuplicate takes the conflicting column, "url" for a storage conflict.
func (m *Metrics) RecordDuplicate(ctx context.Context, field string) {
	m.add(ctx, instDuplicates, attribute.String("field", field))
}

func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	m.add(ctx, instRateLimitAllowed, attribute.String("endpoint", endpoint))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	m.add(ctx, instRateLimitDenied,
		attribute.String("endpoint", endpoint), attribute.String("reason", reason))
}

// add is nil-safe so services can run without metrics wired.
func (m *Metrics) add(ctx context.Context, inst string, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	for i, attr := range attrs {
		attrs[i] = attribute.String(string(attr.Key), strings.TrimSpace(attr.Value.AsString()))
	}
	m.counters[inst].Add(ctx, 1, metric.WithAttributes(FilterAttributes(attrs...)...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"platform":    {},
	"endpoint":    {},
	"status_code": {},
	"field":       {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
