// Package sinks implements concrete progress consumers: structured logging,
// Prometheus, and the run history repository. Each sink satisfies the
// progress.Sink interface and is safe for repeated Consume/Close cycles.
package sinks
