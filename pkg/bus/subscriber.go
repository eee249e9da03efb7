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
	"sync"
	"sync/atomic"
	"time"

	"github.com/telekom/integration-hub/pkg/event"
	"github.com/telekom/integration-hub/pkg/metrics"
)

var errSubscriberClosed = errors.New("handler registration was removed")

// Registration describes a subscribed handler.
type Registration struct {
	EventType    event.Type   `json:"eventType"`
	HandlerID    string       `json:"handlerId"`
	Module       event.Module `json:"module"`
	RegisteredAt time.Time    `json:"registeredAt"`
}

// OutcomeStatus is the per-handler result of a publish.
type OutcomeStatus string

const (
	OutcomeAccepted   OutcomeStatus = "accepted"
	OutcomeSucceeded  OutcomeStatus = "succeeded"
	OutcomeFailed     OutcomeStatus = "failed"
	OutcomeNotInvoked OutcomeStatus = "not_invoked"
)

// HandlerOutcome is what happened to one handler during a publish.
type HandlerOutcome struct {
	HandlerID string        `json:"handlerId"`
	Status    OutcomeStatus `json:"status"`
	Error     string        `json:"error,omitempty"`
}

// DispatchResult lists the handler outcomes of a publish. An event without
// subscribers has no outcomes.
type DispatchResult struct {
	EventID       string           `json:"eventId"`
	EventType     event.Type       `json:"eventType"`
	CorrelationID string           `json:"correlationId"`
	Outcomes      []HandlerOutcome `json:"outcomes"`
}

// SubscriberHealth reports the counters of one handler.
type SubscriberHealth struct {
	HandlerID     string       `json:"handlerId"`
	EventType     event.Type   `json:"eventType"`
	Module        event.Module `json:"module"`
	QueueLength   int          `json:"queueLength"`
	QueueCapacity int          `json:"queueCapacity"`
	Accepted      int64        `json:"accepted"`
	Succeeded     int64        `json:"succeeded"`
	Failed        int64        `json:"failed"`
	Dropped       int64        `json:"dropped"`
	LastError     string       `json:"lastError,omitempty"`
}

// SubscribeOption customizes a single registration.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	module    event.Module
	queueSize int
	workers   int
}

// WithModule sets the module recorded on the handler's audit records.
func WithModule(m event.Module) SubscribeOption {
	return func(o *subscribeOptions) { o.module = m }
}

// WithQueueSize overrides the queue capacity for this handler.
func WithQueueSize(n int) SubscribeOption {
	return func(o *subscribeOptions) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithWorkers overrides the number of workers for this handler.
func WithWorkers(n int) SubscribeOption {
	return func(o *subscribeOptions) {
		if n > 0 {
			o.workers = n
		}
	}
}

type subscriber struct {
	reg     Registration
	handler Handler
	queue   chan event.DomainEvent

	mu      sync.RWMutex
	closed  bool
	lastErr string

	accepted  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

func newSubscriber(reg Registration, h Handler, o subscribeOptions) *subscriber {
	return &subscriber{
		reg:     reg,
		handler: h,
		queue:   make(chan event.DomainEvent, o.queueSize),
	}
}

// enqueue never blocks.
func (s *subscriber) enqueue(evt event.DomainEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.dropped.Add(1)
		metrics.HandlerQueueDropped.WithLabelValues(s.reg.HandlerID, "closed").Inc()
		return errSubscriberClosed
	}
	select {
	case s.queue <- evt:
		s.accepted.Add(1)
		metrics.HandlerQueueLength.WithLabelValues(s.reg.HandlerID).Set(float64(len(s.queue)))
		return nil
	default:
		s.dropped.Add(1)
		metrics.HandlerQueueDropped.WithLabelValues(s.reg.HandlerID, "queue_full").Inc()
		return ErrQueueFull
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.queue)
}

func (s *subscriber) recordFailure(err error) {
	s.failed.Add(1)
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}

func (s *subscriber) health() SubscriberHealth {
	s.mu.RLock()
	lastErr := s.lastErr
	s.mu.RUnlock()
	return SubscriberHealth{
		HandlerID:     s.reg.HandlerID,
		EventType:     s.reg.EventType,
		Module:        s.reg.Module,
		QueueLength:   len(s.queue),
		QueueCapacity: cap(s.queue),
		Accepted:      s.accepted.Load(),
		Succeeded:     s.succeeded.Load(),
		Failed:        s.failed.Load(),
		Dropped:       s.dropped.Load(),
		LastError:     lastErr,
	}
}
