package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestPercentile(t *testing.T) {
	samples := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(1), percentile(samples, 0))
	assert.Equal(t, time.Duration(5), percentile(samples, 50))
	assert.Equal(t, time.Duration(10), percentile(samples, 100))
	assert.Zero(t, percentile(nil, 50))
}

func TestComputeStatsSortsSamples(t *testing.T) {
	s := computeStats(time.Second, []time.Duration{30, 10, 20}, 2)
	assert.Equal(t, 3, s.ops)
	assert.Equal(t, int64(2), s.failures)
	assert.Equal(t, time.Duration(20), s.p50)
}

func TestLocalStormRunsOneRefresh(t *testing.T) {
	out := execute(t, "--local", "storm", "-n", "16", "--delay", "100ms")

	assert.Contains(t, out, "requests=16 failures=0")
	assert.Contains(t, out, "exchanges=1 ")
	assert.Contains(t, out, "backend refresh calls=1 ")
}

func TestLocalWhoami(t *testing.T) {
	out := execute(t, "--local", "whoami")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "state=authenticated")
	assert.Equal(t, "verified user=1 email=dev@example.com", lines[1])
}
