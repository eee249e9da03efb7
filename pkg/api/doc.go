// Package api implements the Gin-based HTTP surface of the integration hub:
// workflow initiation, raw event publishing, audit queries and chain
// verification, dead-letter inspection and replay, and the handler registry.
//
// Every request carries a correlation ID (X-Correlation-ID, minted when
// absent) and the acting user (X-User-ID, set by an authenticating proxy).
package api
