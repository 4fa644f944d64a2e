package internaldefs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photocapsule/capsuleauth"
)

func TestDefsCoverEveryMetric(t *testing.T) {
	require.Len(t, HistogramDefs, 2)
	assert.Equal(t, "capsuleauth_refresh_latency_seconds", HistogramDefs[0].Name)
	assert.Equal(t, "capsuleauth_fetch_latency_seconds", HistogramDefs[1].Name)

	names := map[string]bool{}
	for _, def := range CounterDefs {
		assert.NotEmpty(t, def.Help, def.Name)
		assert.False(t, names[def.Name], "duplicate %s", def.Name)
		names[def.Name] = true
	}
	assert.True(t, names["capsuleauth_refresh_exchange_total"])
	assert.True(t, names["capsuleauth_fetch_unauthorized_total"])
	assert.Equal(t, capsuleauth.MetricRefreshRequested, CounterDefs[0].ID)
}

func TestBounds(t *testing.T) {
	assert.Equal(t, []string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}, HistogramBounds)
	assert.Equal(t, []string{"0_005", "0_01", "0_025", "0_05", "0_1", "0_25", "0_5", "inf"}, HistogramBoundSuffix)
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	assert.Equal(t, [BucketCount]uint64{1, 3, 6, 6, 6, 6, 6, 6}, got)
}
