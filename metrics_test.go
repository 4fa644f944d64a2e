package capsuleauth

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLogin)

	assert.Zero(t, m.Value(MetricLogin))
	assert.Empty(t, m.Snapshot().Counters)
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricLogin)
	m.Observe(MetricFetchLatency, time.Millisecond)
	assert.Zero(t, m.Value(MetricLogin))
	assert.False(t, m.Enabled())
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricFetchAuthorized)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(goroutines*perG), m.Value(MetricFetchAuthorized))
}

func TestMetricsHistogramBuckets(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	for _, d := range []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond,
	} {
		m.Observe(MetricRefreshLatency, d)
	}
	m.Observe(MetricLogin, time.Second)
	m.Inc(MetricRefreshLatency)

	snap := m.Snapshot()
	assert.Equal(t, []uint64{1, 1, 1, 1, 1, 1, 1, 1}, snap.Histograms[MetricRefreshLatency])
	assert.Equal(t, []uint64{0, 0, 0, 0, 0, 0, 0, 0}, snap.Histograms[MetricFetchLatency])
	assert.NotContains(t, snap.Counters, MetricRefreshLatency)
	assert.Zero(t, snap.Counters[MetricLogin])
}

func TestMetricsHistogramsOffByDefault(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(MetricFetchLatency, time.Millisecond)
	assert.Empty(t, m.Snapshot().Histograms)
}

func TestMetricNames(t *testing.T) {
	assert.Equal(t, "refresh_exchange", MetricRefreshExchange.String())
	assert.Equal(t, "unknown", MetricID(999).String())
	assert.True(t, MetricFetchLatency.IsHistogram())
	assert.False(t, MetricLogout.IsHistogram())
}

func TestRefreshRecorder(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	r := refreshRecorder{metrics: m}

	r.RefreshRequested()
	r.RefreshRequested()
	r.RefreshStarted()
	r.RefreshFinished(3*time.Millisecond, nil)
	r.RefreshStarted()
	r.RefreshFinished(time.Second, errors.New("boom"))

	assert.Equal(t, uint64(2), m.Value(MetricRefreshRequested))
	assert.Equal(t, uint64(2), m.Value(MetricRefreshExchange))
	assert.Equal(t, uint64(1), m.Value(MetricRefreshSuccess))
	assert.Equal(t, uint64(1), m.Value(MetricRefreshFailure))
	buckets := m.Snapshot().Histograms[MetricRefreshLatency]
	require.Len(t, buckets, 8)
	assert.Equal(t, uint64(1), buckets[0])
	assert.Equal(t, uint64(1), buckets[7])
}
