package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("platform", "steam"),
		attribute.String("user_id", "456"),
		attribute.String("reason", "invalid_host"),
	)
	assert.Len(t, attrs, 2)

	keys := []attribute.Key{attrs[0].Key, attrs[1].Key}
	assert.Contains(t, keys, attribute.Key("platform"))
	assert.Contains(t, keys, attribute.Key("reason"))
}

func TestNewRegistersEveryInstrument(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	require.NoError(t, err)
	assert.Len(t, m.counters, len(instruments))

	// Recording on noop instruments and on a nil receiver must not panic.
	m.RecordSubmission(context.Background(), " steam ")
	m.RecordRateLimitDenied(context.Background(), "registrations", "limit_exceeded")
	var missing *Metrics
	missing.RecordDuplicate(context.Background(), "url")
}
