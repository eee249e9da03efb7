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
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome recorded by an audit record.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusPending Status = "pending"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusPending:
		return true
	default:
		return false
	}
}

var (
	// ErrInvalidRecord is returned when a record is missing required fields.
	ErrInvalidRecord = errors.New("invalid audit record")
	// ErrChainBroken is returned when hash chain verification fails.
	ErrChainBroken = errors.New("audit hash chain broken")
)

// Change describes a single field transition caused by an audited action.
type Change struct {
	Field    string `json:"field"`
	OldValue any    `json:"oldValue"`
	NewValue any    `json:"newValue"`
}

// Record is an immutable audit log entry: who did what, when, with what outcome.
type Record struct {
	ID            string    `json:"id,omitempty"`
	Sequence      int64     `json:"sequence,omitempty"`
	CorrelationID string    `json:"correlationId"`
	Module        string    `json:"module"`
	Action        string    `json:"action"`
	ResourceType  string    `json:"resourceType"`
	ResourceID    string    `json:"resourceId"`
	UserID        string    `json:"userId"`
	Timestamp     time.Time `json:"timestamp"`
	Status        Status    `json:"status"`
	Changes       []Change  `json:"changes"`
	EventID       string    `json:"eventId,omitempty"`
	HandlerID     string    `json:"handlerId,omitempty"`
	Error         string    `json:"error,omitempty"`
	PrevHash      string    `json:"prevHash,omitempty"`
	Hash          string    `json:"hash,omitempty"`
}

// Prepare validates r and fills the fields a store assigns on append:
// ID, a UTC timestamp and a non-nil change list.
func (r Record) Prepare(now time.Time) (Record, error) {
	switch {
	case r.CorrelationID == "":
		return r, fmt.Errorf("%w: correlationId is required", ErrInvalidRecord)
	case r.Action == "":
		return r, fmt.Errorf("%w: action is required", ErrInvalidRecord)
	case r.Module == "":
		return r, fmt.Errorf("%w: module is required", ErrInvalidRecord)
	case !r.Status.Valid():
		return r, fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, r.Status)
	}
	if r.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}
		r.ID = id.String()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = now
	}
	// Microsecond precision matches what Postgres stores, keeping hashes stable.
	r.Timestamp = r.Timestamp.UTC().Truncate(time.Microsecond)
	if r.Changes == nil {
		r.Changes = []Change{}
	} else {
		r.Changes = append([]Change(nil), r.Changes...)
	}
	return r, nil
}

// clone returns a copy that shares no slices with r.
func (r Record) clone() Record {
	if r.Changes != nil {
		r.Changes = append([]Change(nil), r.Changes...)
	}
	return r
}

// Filter selects audit records. Zero-valued fields do not constrain the result.
// From is inclusive and To is exclusive.
type Filter struct {
	CorrelationID string
	Module        string
	ResourceID    string
	Action        string
	EventID       string
	HandlerID     string
	Status        Status
	From          time.Time
	To            time.Time
	Limit         int
}

// Matches reports whether r satisfies every constraint of f.
func (f Filter) Matches(r Record) bool {
	switch {
	case f.CorrelationID != "" && r.CorrelationID != f.CorrelationID:
		return false
	case f.Module != "" && r.Module != f.Module:
		return false
	case f.ResourceID != "" && r.ResourceID != f.ResourceID:
		return false
	case f.Action != "" && r.Action != f.Action:
		return false
	case f.EventID != "" && r.EventID != f.EventID:
		return false
	case f.HandlerID != "" && r.HandlerID != f.HandlerID:
		return false
	case f.Status != "" && r.Status != f.Status:
		return false
	case !f.From.IsZero() && r.Timestamp.Before(f.From):
		return false
	case !f.To.IsZero() && !r.Timestamp.Before(f.To):
		return false
	}
	return true
}

// Store persists audit records. Implementations are append-only: records
// are never updated or deleted, and each Append is atomic.
type Store interface {
	// Append durably persists one record.
	Append(ctx context.Context, r Record) error

	// Query returns matching records ordered by timestamp, then append order.
	Query(ctx context.Context, f Filter) ([]Record, error)

	// Name returns the store identifier used in logs and metrics.
	Name() string
}

// Writer is the narrow append-side view of the audit trail used by
// components that only record outcomes.
type Writer interface {
	Record(ctx context.Context, r Record) error
}
