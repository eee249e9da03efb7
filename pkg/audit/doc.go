// Package audit implements the append-only audit trail of the integration hub.
//
// Every record is appended to a Store (in memory or PostgreSQL) and linked
// into a SHA-256 hash chain so tampering can be detected. A Recorder is the
// single write path: it appends durably and then mirrors the record to
// optional sinks (log, webhook, Kafka), each behind its own queue and
// circuit breaker.
package audit
