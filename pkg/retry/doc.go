// Package retry redelivers failed handler invocations with exponential
// backoff and moves deliveries that run out of attempts to a dead letter
// store, recording the outcome in the audit trail.
package retry
