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

package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTypeMismatch is returned when decoding a payload whose type does not match the event.
	ErrTypeMismatch = errors.New("event type does not match payload type")
	// ErrInvalidEvent is returned when an event envelope is incomplete.
	ErrInvalidEvent = errors.New("invalid domain event")
)

// Payload is implemented by every typed event payload. The event type is
// derived from the payload so handlers and payload shapes stay paired.
type Payload interface {
	EventType() Type
}

// DomainEvent is an immutable record of something that happened in one module.
type DomainEvent struct {
	ID            string          `json:"id"`
	Type          Type            `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlationId"`
	SourceModule  Module          `json:"sourceModule"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

// NewID returns a time-ordered unique event identifier.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// New builds a DomainEvent for a typed payload.
func New(p Payload, correlationID string, source Module) (DomainEvent, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return DomainEvent{}, fmt.Errorf("marshal %s payload: %w", p.EventType(), err)
	}
	return DomainEvent{
		ID:            NewID(),
		Type:          p.EventType(),
		Payload:       raw,
		CorrelationID: correlationID,
		SourceModule:  source,
		OccurredAt:    time.Now().UTC(),
	}, nil
}

// NewRaw builds a DomainEvent for an arbitrary type with an untyped payload.
func NewRaw(t Type, payload json.RawMessage, correlationID string, source Module) DomainEvent {
	return DomainEvent{
		ID:            NewID(),
		Type:          t,
		Payload:       payload,
		CorrelationID: correlationID,
		SourceModule:  source,
		OccurredAt:    time.Now().UTC(),
	}
}

// Validate checks that the envelope carries the fields needed for dispatch and audit.
func (e DomainEvent) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidEvent)
	case e.Type == "":
		return fmt.Errorf("%w: type is required", ErrInvalidEvent)
	case e.CorrelationID == "":
		return fmt.Errorf("%w: correlationId is required", ErrInvalidEvent)
	case e.OccurredAt.IsZero():
		return fmt.Errorf("%w: occurredAt is required", ErrInvalidEvent)
	}
	return nil
}

// Decode unmarshals the event payload into P. It fails with ErrTypeMismatch
// when the event was not raised for P's type.
func Decode[P Payload](e DomainEvent) (P, error) {
	var p P
	if e.Type != p.EventType() {
		return p, fmt.Errorf("%w: event %s is %q, want %q", ErrTypeMismatch, e.ID, e.Type, p.EventType())
	}
	if len(e.Payload) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return p, nil
}

// TypeOf returns the event type bound to payload type P.
func TypeOf[P Payload]() Type {
	var p P
	return p.EventType()
}
