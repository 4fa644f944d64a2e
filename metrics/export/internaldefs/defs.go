package internaldefs

import (
	"strconv"
	"strings"

	"github.com/photocapsule/capsuleauth"
)

// Prefix starts every exported metric name.
const Prefix = "capsuleauth_"

// CounterDef names one exported counter.
type CounterDef struct {
	ID   capsuleauth.MetricID
	Name string
	Help string
}

// HistogramDef names one exported latency histogram.
type HistogramDef struct {
	ID   capsuleauth.MetricID
	Name string
	Help string
}

var help = map[capsuleauth.MetricID]string{
	capsuleauth.MetricRefreshRequested:    "Refresh calls, including ones that joined an outstanding exchange.",
	capsuleauth.MetricRefreshExchange:     "Network calls to the refresh endpoint.",
	capsuleauth.MetricRefreshSuccess:      "Refresh exchanges that persisted a new token.",
	capsuleauth.MetricRefreshFailure:      "Refresh exchanges that cleared the persisted token.",
	capsuleauth.MetricFetchAuthorized:     "Business calls sent with a bearer token.",
	capsuleauth.MetricFetchUnauthorized:   "Fetches rejected before any network call.",
	capsuleauth.MetricFetchTransportError: "Business calls that failed below HTTP.",
	capsuleauth.MetricLogin:               "Successful logins.",
	capsuleauth.MetricLoginRejected:       "Logins refused because the token could not be decoded.",
	capsuleauth.MetricLogout:              "Logouts.",
	capsuleauth.MetricLogoutNotifyFailure: "Backend logout notifications that failed.",
	capsuleauth.MetricExternalChange:      "Session changes made by another client sharing the token store.",
	capsuleauth.MetricRefreshLatency:      "Refresh exchange latency histogram.",
	capsuleauth.MetricFetchLatency:        "Business call latency histogram.",
}

// CounterDefs lists every counter in MetricID order.
var CounterDefs []CounterDef

// HistogramDefs lists every histogram in MetricID order.
var HistogramDefs []HistogramDef

func init() {
	for id := capsuleauth.MetricID(0); id.String() != "unknown"; id++ {
		if id.IsHistogram() {
			HistogramDefs = append(HistogramDefs, HistogramDef{
				ID:   id,
				Name: Prefix + id.String() + "_seconds",
				Help: help[id],
			})
			continue
		}
		CounterDefs = append(CounterDefs, CounterDef{
			ID:   id,
			Name: Prefix + id.String() + "_total",
			Help: help[id],
		})
	}
}

// BucketCount is the number of buckets in every histogram, +Inf included.
const BucketCount = len(capsuleauth.HistogramBounds) + 1

// HistogramBounds are the bucket upper bounds in seconds, as Prometheus "le" labels.
var HistogramBounds = bounds(func(ms int64) string {
	return strconv.FormatFloat(float64(ms)/1000, 'f', -1, 64)
}, "+Inf")

// HistogramBoundSuffix are the bounds in a form usable inside instrument names.
var HistogramBoundSuffix = bounds(func(ms int64) string {
	return strings.ReplaceAll(strconv.FormatFloat(float64(ms)/1000, 'f', -1, 64), ".", "_")
}, "inf")

func bounds(format func(ms int64) string, last string) []string {
	out := make([]string, 0, BucketCount)
	for _, ms := range capsuleauth.HistogramBounds {
		out = append(out, format(ms))
	}
	return append(out, last)
}

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := range raw {
		running += raw[i]
		out[i] = running
	}
	return out
}
