// Package metrics defines Prometheus metrics for the integration hub,
// covering event dispatch, handler outcomes, retries and dead letters,
// audit persistence and mirroring, and operator notifications.
package metrics
