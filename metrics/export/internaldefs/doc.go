// Package internaldefs exposes stable metric name and bucket definitions shared
// by exporter implementations.
//
// Names are derived from capsuleauth.MetricID so that both the Prometheus and
// OTel exporters publish identical names (capsuleauth_<id>_total for counters,
// capsuleauth_<id>_seconds for histograms) and bucket boundaries.
//
// # What this package must NOT do
//
//   - Import any exporter package.
//   - Perform I/O.
package internaldefs
