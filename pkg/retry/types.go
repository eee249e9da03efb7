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
	"errors"
	"fmt"
	"time"

	"github.com/telekom/integration-hub/pkg/event"
	"github.com/telekom/integration-hub/pkg/utils"
)

var (
	// ErrDeadLetterNotFound is returned when a dead letter ID is unknown.
	ErrDeadLetterNotFound = errors.New("dead letter not found")
	// ErrStopped is returned when the manager no longer accepts work.
	ErrStopped = errors.New("retry manager is stopped")
	// ErrNotStarted is returned by Replay before Start.
	ErrNotStarted = errors.New("retry manager is not started")
)

// State is the delivery state of one (event, handler) pair.
type State string

const (
	StatePending      State = "pending"
	StateRetrying     State = "retrying"
	StateSucceeded    State = "succeeded"
	StateDeadLettered State = "dead_lettered"
)

// Config configures the retry manager.
type Config struct {
	// MaxAttempts counts every delivery including the first. Range 1..10, default 5.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Concurrency bounds how many due retries run at once.
	Concurrency int
	// QueueSize bounds failures waiting to be scheduled.
	QueueSize int
	// TickInterval is how often due retries are checked.
	TickInterval time.Duration
	// StateRetention is how long finished pairs stay visible through State.
	StateRetention time.Duration
}

// DefaultConfig returns the default retry policy: 1s, 2s, 4s, 8s between
// five attempts.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     5 * time.Minute,
		Multiplier:     2.0,
		Concurrency:    4,
		QueueSize:      1000,
		TickInterval:   50 * time.Millisecond,
		StateRetention: time.Hour,
	}
}

// Validate checks the policy bounds.
func (c Config) Validate() error {
	switch {
	case c.MaxAttempts < 1 || c.MaxAttempts > 10:
		return fmt.Errorf("retry maxAttempts must be between 1 and 10, got %d", c.MaxAttempts)
	case c.InitialBackoff <= 0:
		return errors.New("retry initialBackoff must be positive")
	case c.MaxBackoff < c.InitialBackoff:
		return errors.New("retry maxBackoff must be >= initialBackoff")
	case c.Multiplier < 1:
		return errors.New("retry multiplier must be >= 1")
	case c.Concurrency < 1:
		return errors.New("retry concurrency must be >= 1")
	case c.QueueSize < 1:
		return errors.New("retry queueSize must be >= 1")
	case c.TickInterval <= 0:
		return errors.New("retry tickInterval must be positive")
	}
	return nil
}

// Backoff returns the wait after the given failed attempt:
// InitialBackoff * Multiplier^(attempt-1), capped at MaxBackoff.
func (c Config) Backoff(attempt int) time.Duration {
	return utils.RetryConfig{
		InitialBackoff:    c.InitialBackoff,
		MaxBackoff:        c.MaxBackoff,
		BackoffMultiplier: c.Multiplier,
	}.Backoff(attempt)
}

// Deliverer re-invokes a single handler, usually the event bus.
type Deliverer interface {
	Deliver(ctx context.Context, evt event.DomainEvent, handlerID string) error
}

// Notifier alerts operators about new dead letters.
type Notifier interface {
	NotifyDeadLetter(ctx context.Context, dl DeadLetter) error
}

// DeadLetter is a delivery that exhausted its retries and awaits an operator.
type DeadLetter struct {
	ID          string            `json:"id"`
	Event       event.DomainEvent `json:"event"`
	HandlerID   string            `json:"handlerId"`
	Attempts    int               `json:"attempts"`
	LastError   string            `json:"lastError"`
	CreatedAt   time.Time         `json:"createdAt"`
	ReplayCount int               `json:"replayCount"`
	ReplayedAt  *time.Time        `json:"replayedAt,omitempty"`
}

// DeadLetterFilter selects dead letters. Zero values do not constrain.
type DeadLetterFilter struct {
	HandlerID     string
	EventType     event.Type
	CorrelationID string
	// Unreplayed limits the result to dead letters never replayed.
	Unreplayed bool
	Limit      int
}

// Matches reports whether dl satisfies f.
func (f DeadLetterFilter) Matches(dl DeadLetter) bool {
	switch {
	case f.HandlerID != "" && dl.HandlerID != f.HandlerID:
		return false
	case f.EventType != "" && dl.Event.Type != f.EventType:
		return false
	case f.CorrelationID != "" && dl.Event.CorrelationID != f.CorrelationID:
		return false
	case f.Unreplayed && dl.ReplayCount > 0:
		return false
	}
	return true
}

// DeadLetterStore keeps dead letters for inspection and replay.
type DeadLetterStore interface {
	Add(ctx context.Context, dl DeadLetter) error
	Get(ctx context.Context, id string) (DeadLetter, error)
	// List returns dead letters oldest first.
	List(ctx context.Context, f DeadLetterFilter) ([]DeadLetter, error)
	MarkReplayed(ctx context.Context, id string, at time.Time) error
}

// DeadLetterError reports a delivery whose retries are exhausted.
type DeadLetterError struct {
	HandlerID string
	EventID   string
	Attempts  int
	Err       error
}

func (e *DeadLetterError) Error() string {
	return fmt.Sprintf("delivery of event %s to handler %s dead-lettered after %d attempt(s): %v",
		e.EventID, e.HandlerID, e.Attempts, e.Err)
}

func (e *DeadLetterError) Unwrap() error { return e.Err }
