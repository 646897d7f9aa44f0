// Package api exposes the read-only operator surface: transfer audit
// records, per-state statistics, the Safe metadata snapshot, health and
// Prometheus metrics. Nothing here can start or alter a transfer.
package api
