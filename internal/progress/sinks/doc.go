// Package sinks implements progress consumers: structured logging, Prometheus
// counters, run statistics persistence and post notifications.
package sinks
