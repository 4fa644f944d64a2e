// Package prometheus renders capsuleauth client metrics in Prometheus text
// exposition format.
//
// [NewPrometheusExporter] accepts a [capsuleauth.Client] and exposes an
// [http.Handler]. Counter names are capsuleauth_*_total; the refresh and fetch
// latency histograms are capsuleauth_*_latency_seconds and only appear when
// latency histograms are enabled.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry; callers mount the Handler.
//   - Mutate client state.
package prometheus
