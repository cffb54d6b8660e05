// Package progress tracks a job run's counters, samples host utilization once
// per page, and fans the resulting events out to pluggable sinks (structured
// logs, Prometheus, the run history collection) on a background goroutine.
package progress
