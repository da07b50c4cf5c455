// Package progress carries crawl milestones from the orchestrator and workers
// to pluggable sinks. Events are batched on a background goroutine so emitters
// never block on logging, metrics or notification delivery.
package progress
