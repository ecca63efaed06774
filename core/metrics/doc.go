// Package metrics defines the sinks recording simulation metrics. A sink
// implements MetricsSink for per-tick aggregates and may implement the
// optional recorders (reports, ledger calls, stale events, settlements).
// Sinks are built from configuration through a factory registry; the
// factory returns a MultiSink automatically when several are configured.
package metrics
