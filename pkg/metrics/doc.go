/*
Package metrics defines and registers Zeta's Prometheus collectors: cold
and warm start counts, invocation outcomes and latency, build and reaper
durations, and control-plane API request instrumentation. Metrics are
exposed via Handler for scraping at /metrics.

Timer is a small helper for observing an operation's duration into a
histogram, used throughout pkg/zeta and pkg/api.
*/
package metrics
