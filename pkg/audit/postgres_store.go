/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// chainLockKey serializes chain tip reads across concurrent appenders.
const chainLockKey = 7_240_611

// PostgresSchema creates the append-only audit table. UPDATE and DELETE are
// rewritten to no-ops so the trail cannot be changed through SQL either.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS audit_records (
	seq            BIGSERIAL PRIMARY KEY,
	id             TEXT NOT NULL UNIQUE,
	correlation_id TEXT NOT NULL,
	module         TEXT NOT NULL,
	action         TEXT NOT NULL,
	resource_type  TEXT NOT NULL DEFAULT '',
	resource_id    TEXT NOT NULL DEFAULT '',
	user_id        TEXT NOT NULL DEFAULT '',
	recorded_at    TIMESTAMPTZ NOT NULL,
	status         TEXT NOT NULL CHECK (status IN ('success', 'failed', 'pending')),
	changes        JSONB NOT NULL DEFAULT '[]'::jsonb,
	event_id       TEXT NOT NULL DEFAULT '',
	handler_id     TEXT NOT NULL DEFAULT '',
	error          TEXT NOT NULL DEFAULT '',
	prev_hash      TEXT NOT NULL DEFAULT '',
	hash           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_records_correlation_idx ON audit_records (correlation_id, recorded_at);
CREATE INDEX IF NOT EXISTS audit_records_resource_idx ON audit_records (resource_id, recorded_at);
CREATE INDEX IF NOT EXISTS audit_records_recorded_at_idx ON audit_records (recorded_at);
CREATE OR REPLACE RULE audit_records_no_update AS ON UPDATE TO audit_records DO INSTEAD NOTHING;
CREATE OR REPLACE RULE audit_records_no_delete AS ON DELETE TO audit_records DO INSTEAD NOTHING;
`

const selectRecordColumns = `
	seq, id, correlation_id, module, action, resource_type, resource_id,
	user_id, recorded_at, status, changes, event_id, handler_id, error,
	prev_hash, hash`

// PostgresStore persists audit records in PostgreSQL.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates the audit schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("migrate audit schema: %w", err)
	}
	return nil
}

// Append inserts r in a single transaction that links it to the chain tip.
// Re-appending an existing ID is ignored.
func (s *PostgresStore) Append(ctx context.Context, r Record) error {
	prepared, err := r.Prepare(s.now())
	if err != nil {
		return err
	}
	changes, err := json.Marshal(prepared.Changes)
	if err != nil {
		return fmt.Errorf("marshal audit changes: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, chainLockKey); err != nil {
		return fmt.Errorf("lock audit chain: %w", err)
	}

	var prevHash string
	err = tx.QueryRowContext(ctx, `SELECT hash FROM audit_records ORDER BY seq DESC LIMIT 1`).Scan(&prevHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read audit chain tip: %w", err)
	}
	prepared.PrevHash = prevHash
	prepared.Hash = ComputeHash(prepared)

	query := `
		INSERT INTO audit_records (
			id, correlation_id, module, action, resource_type, resource_id,
			user_id, recorded_at, status, changes, event_id, handler_id,
			error, prev_hash, hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = tx.ExecContext(ctx, query,
		prepared.ID,
		prepared.CorrelationID,
		prepared.Module,
		prepared.Action,
		prepared.ResourceType,
		prepared.ResourceID,
		prepared.UserID,
		prepared.Timestamp,
		string(prepared.Status),
		changes,
		prepared.EventID,
		prepared.HandlerID,
		prepared.Error,
		prepared.PrevHash,
		prepared.Hash,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit append: %w", err)
	}
	return nil
}

// Query returns matching records ordered by timestamp, then sequence.
func (s *PostgresStore) Query(ctx context.Context, f Filter) ([]Record, error) {
	query, args := buildRecordQuery(f)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]Record, 0)
	for rows.Next() {
		var (
			r       Record
			status  string
			changes []byte
		)
		if err := rows.Scan(
			&r.Sequence, &r.ID, &r.CorrelationID, &r.Module, &r.Action,
			&r.ResourceType, &r.ResourceID, &r.UserID, &r.Timestamp, &status,
			&changes, &r.EventID, &r.HandlerID, &r.Error, &r.PrevHash, &r.Hash,
		); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		r.Status = Status(status)
		r.Timestamp = r.Timestamp.UTC()
		if err := json.Unmarshal(changes, &r.Changes); err != nil {
			return nil, fmt.Errorf("decode changes of audit record %s: %w", r.ID, err)
		}
		if r.Changes == nil {
			r.Changes = []Change{}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return out, nil
}

// Name returns the store identifier.
func (s *PostgresStore) Name() string {
	return "postgres"
}

func buildRecordQuery(f Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.CorrelationID != "" {
		add("correlation_id = $%d", f.CorrelationID)
	}
	if f.Module != "" {
		add("module = $%d", f.Module)
	}
	if f.ResourceID != "" {
		add("resource_id = $%d", f.ResourceID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.EventID != "" {
		add("event_id = $%d", f.EventID)
	}
	if f.HandlerID != "" {
		add("handler_id = $%d", f.HandlerID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if !f.From.IsZero() {
		add("recorded_at >= $%d", f.From.UTC())
	}
	if !f.To.IsZero() {
		add("recorded_at < $%d", f.To.UTC())
	}

	var b strings.Builder
	b.WriteString("SELECT")
	b.WriteString(selectRecordColumns)
	b.WriteString("\nFROM audit_records")
	if len(where) > 0 {
		b.WriteString("\nWHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString("\nORDER BY recorded_at ASC, seq ASC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, "\nLIMIT $%d", len(args))
	}
	return b.String(), args
}
