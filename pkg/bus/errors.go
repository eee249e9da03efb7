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

package bus

import (
	"errors"
	"fmt"
)

var (
	// ErrBusClosed is returned when publishing to or delivering on a closed bus.
	ErrBusClosed = errors.New("event bus is closed")
	// ErrHandlerNotFound is returned by Deliver when no handler has the given ID.
	ErrHandlerNotFound = errors.New("handler not registered")
	// ErrAlreadyProcessed is returned by a handler that has already processed
	// the event. The bus treats it as a successful, deduplicated delivery.
	ErrAlreadyProcessed = errors.New("event already processed by handler")
	// ErrQueueFull is reported when a handler's queue cannot accept a delivery.
	ErrQueueFull = errors.New("handler queue is full")
	// ErrHandlerTimeout is reported when a handler exceeds HandlerTimeout.
	ErrHandlerTimeout = errors.New("handler timed out")
)

// Publish stages.
const (
	StagePublish = "publish"
	StageAudit   = "audit"
)

// PublishError reports that an event could not be accepted by the bus, or
// that the audit record describing the publish could not be written.
type PublishError struct {
	Stage   string
	EventID string
	Err     error
}

func (e *PublishError) Error() string {
	if e.EventID == "" {
		return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s of event %s failed: %v", e.Stage, e.EventID, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// HandlerError reports a failed handler invocation. It never propagates to
// the publisher; it drives the retry manager instead.
type HandlerError struct {
	HandlerID string
	EventID   string
	Attempt   int
	Err       error
}

func (e *HandlerError) Error() string {
	if e.Attempt > 0 {
		return fmt.Sprintf("handler %s failed on event %s (attempt %d): %v", e.HandlerID, e.EventID, e.Attempt, e.Err)
	}
	return fmt.Sprintf("handler %s failed on event %s: %v", e.HandlerID, e.EventID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
