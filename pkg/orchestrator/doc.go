// Package orchestrator exposes the named workflow entry points of the
// integration hub. Each call validates its request, publishes the
// triggering domain events and records an <WORKFLOW>_INITIATED audit entry
// under the workflow's correlation ID.
package orchestrator
