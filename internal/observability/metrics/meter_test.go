package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewOutboxMetrics_Noop(t *testing.T) {
	m, err := New(context.Background(), Config{Enabled: false}, "provisioner")
	require.NoError(t, err)

	om, err := NewOutboxMetrics(m)
	require.NoError(t, err)
	assert.NotNil(t, om.Registered)
	assert.NotNil(t, om.Delivered)
	assert.NotNil(t, om.Failed)
	assert.NotNil(t, om.Dispatch)

	// recording on a no-op meter must not panic
	om.Delivered.Add(context.Background(), 1, EventAttrs("tenant.created", "identity"))
	om.Dispatch.Record(context.Background(), 0.25, EventAttrs("tenant.created", "identity"))
}

func TestOutboxMetrics_CollectedBySDKProvider(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	m := newSDKMeter("provisioner", sdkmetric.WithReader(reader))
	defer func() { require.NoError(t, m.Shutdown(ctx)) }()

	om, err := NewOutboxMetrics(m)
	require.NoError(t, err)
	om.Failed.Add(ctx, 2, EventAttrs("tenant.created", "identity.keycloak"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	var found bool
	for _, md := range rm.ScopeMetrics[0].Metrics {
		if md.Name != "outbox.publications.failed" {
			continue
		}
		sum, ok := md.Data.(metricdata.Sum[int64])
		require.True(t, ok)
		require.Len(t, sum.DataPoints, 1)
		assert.Equal(t, int64(2), sum.DataPoints[0].Value)
		found = true
	}
	assert.True(t, found, "outbox.publications.failed not collected")
}

func TestNoopMeter_Shutdown(t *testing.T) {
	assert.NoError(t, Noop().Shutdown(context.Background()))
}
