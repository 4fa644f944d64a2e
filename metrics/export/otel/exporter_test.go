package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/photocapsule/capsuleauth"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot capsuleauth.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() capsuleauth.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := capsuleauth.MetricsSnapshot{
		Counters:   make(map[capsuleauth.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[capsuleauth.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

// valueOf returns the single int64 data point of the named instrument.
func valueOf(t *testing.T, rm metricdata.ResourceMetrics, name string) (int64, bool) {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				require.Len(t, data.DataPoints, 1)
				return data.DataPoints[0].Value, true
			case metricdata.Gauge[int64]:
				require.Len(t, data.DataPoints, 1)
				return data.DataPoints[0].Value, true
			}
		}
	}
	return 0, false
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newReader()
	meter := provider.Meter("capsuleauth-test")

	src := &fakeSource{
		snapshot: capsuleauth.MetricsSnapshot{
			Counters: map[capsuleauth.MetricID]uint64{
				capsuleauth.MetricRefreshExchange: 3,
			},
			Histograms: map[capsuleauth.MetricID][]uint64{
				capsuleauth.MetricFetchLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	require.NoError(t, err)
	defer func() { require.NoError(t, exp.Close()) }()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	v, ok := valueOf(t, rm, "capsuleauth_refresh_exchange_total")
	require.True(t, ok)
	assert.Equal(t, int64(3), v)

	v, ok = valueOf(t, rm, "capsuleauth_fetch_latency_seconds_bucket_le_0_01")
	require.True(t, ok)
	assert.Equal(t, int64(2), v)

	v, ok = valueOf(t, rm, "capsuleauth_fetch_latency_seconds_count")
	require.True(t, ok)
	assert.Equal(t, int64(8), v)

	_, ok = valueOf(t, rm, "capsuleauth_refresh_latency_seconds_count")
	assert.False(t, ok)

	v, ok = valueOf(t, rm, "capsuleauth_audit_dropped_total")
	require.True(t, ok)
	assert.Equal(t, int64(1), v)
}

func TestExporterRejectsNil(t *testing.T) {
	_, provider := newReader()
	meter := provider.Meter("capsuleauth-test")

	_, err := NewOTelExporterFromSource(meter, nil)
	assert.ErrorIs(t, err, ErrNilSource)
	_, err = NewOTelExporter(meter, nil)
	assert.ErrorIs(t, err, ErrNilSource)
	_, err = NewOTelExporterFromSource(nil, &fakeSource{})
	assert.ErrorIs(t, err, ErrNilMeter)

	var exp *OTelExporter
	assert.NoError(t, exp.Close())
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReader()
	meter := provider.Meter("capsuleauth-test")

	src := &fakeSource{
		snapshot: capsuleauth.MetricsSnapshot{
			Counters: map[capsuleauth.MetricID]uint64{
				capsuleauth.MetricLogin: 1,
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	require.NoError(t, err)
	defer func() { require.NoError(t, exp.Close()) }()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[capsuleauth.MetricLogin] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
