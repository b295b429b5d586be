// Package metrics exposes Prometheus counters and gauges of the lane router.
package metrics
