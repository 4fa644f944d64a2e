package capsuleauth

import (
	"sync/atomic"
	"time"
)

// MetricID defines a public type used by capsuleauth APIs.
//
// MetricID values index the counters reported by [Metrics.Snapshot]; the
// numbering is stable within a release.
type MetricID uint16

const (
	// MetricRefreshRequested counts Refresh calls, including ones that joined an outstanding exchange.
	MetricRefreshRequested MetricID = iota
	// MetricRefreshExchange counts network calls to the refresh endpoint.
	MetricRefreshExchange
	// MetricRefreshSuccess counts exchanges that produced a persisted token.
	MetricRefreshSuccess
	// MetricRefreshFailure counts exchanges that cleared the persisted token.
	MetricRefreshFailure
	// MetricFetchAuthorized counts business calls sent with a bearer token.
	MetricFetchAuthorized
	// MetricFetchUnauthorized counts fetches rejected before any network call.
	MetricFetchUnauthorized
	// MetricFetchTransportError counts business calls that failed below HTTP.
	MetricFetchTransportError
	// MetricLogin counts successful logins.
	MetricLogin
	// MetricLoginRejected counts logins refused because the token could not be decoded.
	MetricLoginRejected
	// MetricLogout counts logouts.
	MetricLogout
	// MetricLogoutNotifyFailure counts best-effort backend logout calls that failed.
	MetricLogoutNotifyFailure
	// MetricExternalChange counts session changes caused by another client.
	MetricExternalChange
	// MetricRefreshLatency is the histogram of refresh exchange durations.
	MetricRefreshLatency
	// MetricFetchLatency is the histogram of business call durations.
	MetricFetchLatency
	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricRefreshRequested:    "refresh_requested",
	MetricRefreshExchange:     "refresh_exchange",
	MetricRefreshSuccess:      "refresh_success",
	MetricRefreshFailure:      "refresh_failure",
	MetricFetchAuthorized:     "fetch_authorized",
	MetricFetchUnauthorized:   "fetch_unauthorized",
	MetricFetchTransportError: "fetch_transport_error",
	MetricLogin:               "login",
	MetricLoginRejected:       "login_rejected",
	MetricLogout:              "logout",
	MetricLogoutNotifyFailure: "logout_notify_failure",
	MetricExternalChange:      "external_change",
	MetricRefreshLatency:      "refresh_latency",
	MetricFetchLatency:        "fetch_latency",
}

// String returns the snake_case metric name used by exporters.
func (id MetricID) String() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

// IsHistogram reports whether id is a latency histogram rather than a counter.
func (id MetricID) IsHistogram() bool {
	return id == MetricRefreshLatency || id == MetricFetchLatency
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

// HistogramBounds are the inclusive upper bounds, in milliseconds, of every
// histogram bucket except the last, which is unbounded.
var HistogramBounds = [histBucketCount - 1]int64{5, 10, 25, 50, 100, 250, 500}

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters for one client.
//
// A nil or disabled Metrics accepts every call and records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of [Metrics].
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns Metrics configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether histograms are recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc increments the counter id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount || id.IsHistogram() {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the histogram id.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || !id.IsHistogram() {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

// Value returns the current value of counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter, and every histogram when latency is enabled.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 2),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id.IsHistogram() {
			if m.enableLatency {
				buckets := make([]uint64, histBucketCount)
				for i := range buckets {
					buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
				}
				s.Histograms[id] = buckets
			}
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()
	for i, bound := range HistogramBounds {
		if ms <= bound {
			return i
		}
	}
	return histBucketCount - 1
}

// refreshRecorder adapts Metrics to refresh.Recorder.
type refreshRecorder struct {
	metrics *Metrics
}

func (r refreshRecorder) RefreshRequested() { r.metrics.Inc(MetricRefreshRequested) }
func (r refreshRecorder) RefreshStarted()   { r.metrics.Inc(MetricRefreshExchange) }

func (r refreshRecorder) RefreshFinished(elapsed time.Duration, err error) {
	r.metrics.Observe(MetricRefreshLatency, elapsed)
	if err != nil {
		r.metrics.Inc(MetricRefreshFailure)
		return
	}
	r.metrics.Inc(MetricRefreshSuccess)
}
