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


package retry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/telekom/integration-hub/pkg/event"
)

// PostgresSchema creates the dead letter table.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS dead_letters (
	id             TEXT PRIMARY KEY,
	event_id       TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	correlation_id TEXT NOT NULL,
	event          JSONB NOT NULL,
	handler_id     TEXT NOT NULL,
	attempts       INTEGER NOT NULL,
	last_error     TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	replay_count   INTEGER NOT NULL DEFAULT 0,
	replayed_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS dead_letters_handler_idx ON dead_letters (handler_id, created_at);
CREATE INDEX IF NOT EXISTS dead_letters_correlation_idx ON dead_letters (correlation_id);
`

const selectDeadLetterColumns = `
	id, event, handler_id, attempts, last_error, created_at, replay_count, replayed_at`

// PostgresDeadLetterStore persists dead letters in PostgreSQL so they
// survive restarts and can be replayed later.
type PostgresDeadLetterStore struct {
	db *sql.DB
}

func NewPostgresDeadLetterStore(db *sql.DB) *PostgresDeadLetterStore {
	return &PostgresDeadLetterStore{db: db}
}

// Migrate creates the dead letter schema if it does not exist.
func (s *PostgresDeadLetterStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("migrate dead letter schema: %w", err)
	}
	return nil
}

func (s *PostgresDeadLetterStore) Add(ctx context.Context, dl DeadLetter) error {
	if dl.ID == "" {
		return errors.New("dead letter id is required")
	}
	raw, err := json.Marshal(dl.Event)
	if err != nil {
		return fmt.Errorf("marshal dead letter event: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dead_letters (
			id, event_id, event_type, correlation_id, event, handler_id,
			attempts, last_error, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		dl.ID, dl.Event.ID, string(dl.Event.Type), dl.Event.CorrelationID, raw,
		dl.HandlerID, dl.Attempts, dl.LastError, dl.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

func (s *PostgresDeadLetterStore) Get(ctx context.Context, id string) (DeadLetter, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT"+selectDeadLetterColumns+"\nFROM dead_letters WHERE id = $1", id)
	dl, err := scanDeadLetter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DeadLetter{}, fmt.Errorf("%w: %s", ErrDeadLetterNotFound, id)
	}
	return dl, err
}

func (s *PostgresDeadLetterStore) List(ctx context.Context, f DeadLetterFilter) ([]DeadLetter, error) {
	query, args := buildDeadLetterQuery(f)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]DeadLetter, 0)
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return out, nil
}

func (s *PostgresDeadLetterStore) MarkReplayed(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dead_letters SET replay_count = replay_count + 1, replayed_at = $2 WHERE id = $1`,
		id, at.UTC())
	if err != nil {
		return fmt.Errorf("mark dead letter replayed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark dead letter replayed: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrDeadLetterNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeadLetter(row rowScanner) (DeadLetter, error) {
	var (
		dl         DeadLetter
		raw        []byte
		replayedAt sql.NullTime
	)
	if err := row.Scan(&dl.ID, &raw, &dl.HandlerID, &dl.Attempts, &dl.LastError,
		&dl.CreatedAt, &dl.ReplayCount, &replayedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dl, err
		}
		return dl, fmt.Errorf("scan dead letter: %w", err)
	}
	var evt event.DomainEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return dl, fmt.Errorf("decode event of dead letter %s: %w", dl.ID, err)
	}
	dl.Event = evt
	dl.CreatedAt = dl.CreatedAt.UTC()
	if replayedAt.Valid {
		t := replayedAt.Time.UTC()
		dl.ReplayedAt = &t
	}
	return dl, nil
}

func buildDeadLetterQuery(f DeadLetterFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.HandlerID != "" {
		add("handler_id = $%d", f.HandlerID)
	}
	if f.EventType != "" {
		add("event_type = $%d", string(f.EventType))
	}
	if f.CorrelationID != "" {
		add("correlation_id = $%d", f.CorrelationID)
	}
	if f.Unreplayed {
		where = append(where, "replay_count = 0")
	}

	var b strings.Builder
	b.WriteString("SELECT")
	b.WriteString(selectDeadLetterColumns)
	b.WriteString("\nFROM dead_letters")
	if len(where) > 0 {
		b.WriteString("\nWHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString("\nORDER BY created_at ASC, id ASC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, "\nLIMIT $%d", len(args))
	}
	return b.String(), args
}
