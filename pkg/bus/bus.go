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
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/integration-hub/pkg/audit"
	"github.com/telekom/integration-hub/pkg/correlation"
	"github.com/telekom/integration-hub/pkg/event"
	"github.com/telekom/integration-hub/pkg/metrics"
	"github.com/telekom/integration-hub/pkg/telemetry"
)

// Mode selects how Publish hands events to handlers.
type Mode string

const (
	// ModeAsync enqueues the event on each handler's queue and returns.
	ModeAsync Mode = "async"
	// ModeSync invokes each handler inline before Publish returns.
	ModeSync Mode = "sync"
)

// Handler reacts to a domain event. On success it returns the Result that
// is recorded in the audit trail for this (event, handler) pair.
type Handler func(ctx context.Context, evt event.DomainEvent) (Result, error)

// Result describes what a handler did.
type Result struct {
	// Action defaults to <EVENT_TYPE>_HANDLED.
	Action       string
	ResourceType string
	ResourceID   string
	// UserID defaults to system:<handlerID>.
	UserID  string
	Changes []audit.Change
}

// Trail is the part of the audit trail the bus writes outcomes to.
type Trail interface {
	Record(ctx context.Context, r audit.Record) error
	Query(ctx context.Context, f audit.Filter) ([]audit.Record, error)
}

// Failure describes a delivery that did not succeed.
type Failure struct {
	Event     event.DomainEvent
	HandlerID string
	Attempt   int
	Err       error
}

// FailureHandler takes ownership of failed deliveries, usually the retry manager.
type FailureHandler interface {
	HandleFailure(ctx context.Context, f Failure)
}

// Config configures a Bus.
type Config struct {
	Mode Mode
	// QueueSize is the default per-handler queue capacity. Default: 256
	QueueSize int
	// Workers is the default number of workers per handler. Default: 1
	Workers int
	// HandlerTimeout bounds a single handler invocation. Default: 30s
	HandlerTimeout time.Duration
}

// DefaultConfig returns the default bus configuration.
func DefaultConfig() Config {
	return Config{
		Mode:           ModeAsync,
		QueueSize:      256,
		Workers:        1,
		HandlerTimeout: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = d.HandlerTimeout
	}
	return c
}

// Option customizes a Bus.
type Option func(*Bus)

// WithConfig sets the bus configuration.
func WithConfig(cfg Config) Option {
	return func(b *Bus) { b.cfg = cfg.withDefaults() }
}

// WithFailureHandler routes failed deliveries to fh. Without one, the bus
// records a failed audit record for each failed delivery itself.
func WithFailureHandler(fh FailureHandler) Option {
	return func(b *Bus) { b.failures = fh }
}

// Bus dispatches domain events to the handlers registered for their type.
// Each handler has its own queue and workers, so a slow or failing handler
// never delays the others.
type Bus struct {
	cfg      Config
	trail    Trail
	failures FailureHandler
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.RWMutex
	byType map[event.Type][]*subscriber
	byID   map[string]*subscriber
	closed bool

	workers sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates a Bus that records handler outcomes in trail.
func New(trail Trail, logger *zap.Logger, opts ...Option) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		cfg:     DefaultConfig(),
		trail:   trail,
		logger:  logger.Named("bus"),
		now:     func() time.Time { return time.Now().UTC() },
		byType:  make(map[event.Type][]*subscriber),
		byID:    make(map[string]*subscriber),
		baseCtx: ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger.Info("event bus started",
		zap.String("mode", string(b.cfg.Mode)),
		zap.Int("queue_size", b.cfg.QueueSize),
		zap.Int("workers", b.cfg.Workers),
		zap.Duration("handler_timeout", b.cfg.HandlerTimeout))
	return b
}

// Subscribe registers handler under handlerID for eventType. A previous
// registration with the same handlerID is replaced; events already queued
// for it are still delivered.
func (b *Bus) Subscribe(eventType event.Type, handlerID string, handler Handler, opts ...SubscribeOption) (Registration, error) {
	switch {
	case eventType == "":
		return Registration{}, errors.New("event type is required")
	case handlerID == "":
		return Registration{}, errors.New("handler id is required")
	case handler == nil:
		return Registration{}, errors.New("handler is required")
	}

	o := subscribeOptions{
		module:    event.ModuleIntegration,
		queueSize: b.cfg.QueueSize,
		workers:   b.cfg.Workers,
	}
	for _, opt := range opts {
		opt(&o)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return Registration{}, ErrBusClosed
	}

	s := newSubscriber(Registration{
		EventType:    eventType,
		HandlerID:    handlerID,
		Module:       o.module,
		RegisteredAt: b.now(),
	}, handler, o)

	if old, ok := b.byID[handlerID]; ok {
		b.detachLocked(old)
		b.logger.Info("replacing handler registration",
			zap.String("handler_id", handlerID),
			zap.String("old_event_type", string(old.reg.EventType)),
			zap.String("event_type", string(eventType)))
	}
	b.byID[handlerID] = s
	b.byType[eventType] = append(b.byType[eventType], s)
	metrics.Subscriptions.Set(float64(len(b.byID)))

	if b.cfg.Mode == ModeAsync {
		for i := 0; i < o.workers; i++ {
			b.workers.Add(1)
			go b.work(s)
		}
	}

	b.logger.Info("handler subscribed",
		zap.String("handler_id", handlerID),
		zap.String("event_type", string(eventType)),
		zap.String("module", string(o.module)))
	return s.reg, nil
}

// Unsubscribe removes the registration for handlerID and reports whether
// one existed.
func (b *Bus) Unsubscribe(handlerID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.byID[handlerID]
	if !ok {
		return false
	}
	b.detachLocked(s)
	delete(b.byID, handlerID)
	metrics.Subscriptions.Set(float64(len(b.byID)))
	b.logger.Info("handler unsubscribed", zap.String("handler_id", handlerID))
	return true
}

// detachLocked removes s from the type index and stops its queue.
func (b *Bus) detachLocked(s *subscriber) {
	list := b.byType[s.reg.EventType]
	kept := make([]*subscriber, 0, len(list))
	for _, other := range list {
		if other != s {
			kept = append(kept, other)
		}
	}
	if len(kept) == 0 {
		delete(b.byType, s.reg.EventType)
	} else {
		b.byType[s.reg.EventType] = kept
	}
	s.close()
}

// Publish hands evt to every handler registered for its type and returns
// once each handler has accepted it (async) or run (sync). Handler failures
// are isolated and never returned here; only an invalid envelope or a
// closed bus produce a *PublishError.
func (b *Bus) Publish(ctx context.Context, evt event.DomainEvent) (_ DispatchResult, err error) {
	ctx, span := telemetry.StartEventSpan(ctx, "bus.publish", evt)
	defer func() { telemetry.End(span, err) }()

	if err := evt.Validate(); err != nil {
		metrics.PublishErrors.WithLabelValues("invalid").Inc()
		return DispatchResult{}, &PublishError{Stage: StagePublish, EventID: evt.ID, Err: err}
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		metrics.PublishErrors.WithLabelValues("closed").Inc()
		return DispatchResult{}, &PublishError{Stage: StagePublish, EventID: evt.ID, Err: ErrBusClosed}
	}
	snapshot := append([]*subscriber(nil), b.byType[evt.Type]...)
	b.mu.RUnlock()

	metrics.EventsPublished.WithLabelValues(string(evt.Type)).Inc()
	result := DispatchResult{
		EventID:       evt.ID,
		EventType:     evt.Type,
		CorrelationID: evt.CorrelationID,
		Outcomes:      make([]HandlerOutcome, 0, len(snapshot)),
	}
	log := b.eventLogger(evt)
	if len(snapshot) == 0 {
		metrics.EventsUnrouted.WithLabelValues(string(evt.Type)).Inc()
		log.Debug("no handlers registered for event")
		return result, nil
	}

	for _, s := range snapshot {
		result.Outcomes = append(result.Outcomes, b.dispatch(ctx, s, evt))
	}
	log.Debug("event dispatched", zap.Int("handlers", len(snapshot)))
	return result, nil
}

func (b *Bus) dispatch(ctx context.Context, s *subscriber, evt event.DomainEvent) HandlerOutcome {
	outcome := HandlerOutcome{HandlerID: s.reg.HandlerID}

	if b.cfg.Mode == ModeSync {
		hctx := correlation.WithID(context.WithoutCancel(ctx), evt.CorrelationID)
		if err := b.execute(hctx, s, evt); err != nil {
			outcome.Status = OutcomeFailed
			outcome.Error = err.Error()
			b.fail(hctx, Failure{Event: evt, HandlerID: s.reg.HandlerID, Attempt: 1, Err: err})
			return outcome
		}
		outcome.Status = OutcomeSucceeded
		return outcome
	}

	if err := s.enqueue(evt); err != nil {
		outcome.Status = OutcomeNotInvoked
		outcome.Error = err.Error()
		hctx := correlation.WithID(b.baseCtx, evt.CorrelationID)
		b.fail(hctx, Failure{
			Event:     evt,
			HandlerID: s.reg.HandlerID,
			Attempt:   1,
			Err:       &HandlerError{HandlerID: s.reg.HandlerID, EventID: evt.ID, Attempt: 1, Err: err},
		})
		return outcome
	}
	outcome.Status = OutcomeAccepted
	return outcome
}

func (b *Bus) work(s *subscriber) {
	defer b.workers.Done()
	for evt := range s.queue {
		metrics.HandlerQueueLength.WithLabelValues(s.reg.HandlerID).Set(float64(len(s.queue)))
		ctx := correlation.WithID(b.baseCtx, evt.CorrelationID)
		if err := b.execute(ctx, s, evt); err != nil {
			b.fail(ctx, Failure{Event: evt, HandlerID: s.reg.HandlerID, Attempt: 1, Err: err})
		}
	}
}

// Deliver invokes the handler registered as handlerID with evt and records
// its outcome on success. Failures are returned, not forwarded to the
// failure handler; the caller owns the retry.
func (b *Bus) Deliver(ctx context.Context, evt event.DomainEvent, handlerID string) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	s, ok := b.byID[handlerID]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrHandlerNotFound, handlerID)
	}
	if s.reg.EventType != evt.Type {
		return fmt.Errorf("%w: %s no longer handles %s", ErrHandlerNotFound, handlerID, evt.Type)
	}
	return b.execute(correlation.WithID(ctx, evt.CorrelationID), s, evt)
}

// execute runs the handler once and settles its outcome. A nil return means
// the (event, handler) pair has a success record in the trail.
func (b *Bus) execute(ctx context.Context, s *subscriber, evt event.DomainEvent) (err error) {
	handlerID := s.reg.HandlerID
	ctx, span := telemetry.StartEventSpan(ctx, "bus.handle", evt, telemetry.AttrHandlerID.String(handlerID))
	defer func() { telemetry.End(span, err) }()
	log := b.eventLogger(evt).With(zap.String("handler_id", handlerID))

	start := time.Now()
	res, err := b.invoke(ctx, s, evt)
	metrics.HandlerLatency.WithLabelValues(handlerID).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyProcessed):
		metrics.DuplicateDeliveries.WithLabelValues(handlerID).Inc()
		metrics.HandlerInvocations.WithLabelValues(handlerID, string(evt.Type), "duplicate").Inc()
		recorded, qerr := b.hasSuccess(ctx, evt.ID, handlerID)
		if qerr != nil {
			s.recordFailure(qerr)
			return &HandlerError{HandlerID: handlerID, EventID: evt.ID, Err: fmt.Errorf("check audit trail: %w", qerr)}
		}
		if recorded {
			log.Debug("duplicate delivery skipped")
			s.succeeded.Add(1)
			return nil
		}
		// Processed earlier but the outcome never reached the trail.
		res = Result{}
	default:
		metrics.HandlerInvocations.WithLabelValues(handlerID, string(evt.Type), "failed").Inc()
		s.recordFailure(err)
		log.Warn("handler failed", zap.Error(err))
		return &HandlerError{HandlerID: handlerID, EventID: evt.ID, Err: err}
	}

	if err := b.trail.Record(ctx, successRecord(s.reg, evt, res)); err != nil {
		s.recordFailure(err)
		log.Error("failed to record handler outcome", zap.Error(err))
		return &HandlerError{HandlerID: handlerID, EventID: evt.ID, Err: fmt.Errorf("record outcome: %w", err)}
	}
	metrics.HandlerInvocations.WithLabelValues(handlerID, string(evt.Type), "succeeded").Inc()
	s.succeeded.Add(1)
	return nil
}

// invoke runs the handler under HandlerTimeout and turns panics into errors.
// A handler that ignores its context is abandoned when the timeout fires.
func (b *Bus) invoke(parent context.Context, s *subscriber, evt event.DomainEvent) (Result, error) {
	ctx, cancel := context.WithTimeout(parent, b.cfg.HandlerTimeout)
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler panicked: %v", r)}
			}
		}()
		res, err := s.handler(ctx, evt)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		select {
		case o := <-done:
			return o.res, o.err
		default:
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w after %s", ErrHandlerTimeout, b.cfg.HandlerTimeout)
		}
		return Result{}, ctx.Err()
	}
}

func (b *Bus) hasSuccess(ctx context.Context, eventID, handlerID string) (bool, error) {
	records, err := b.trail.Query(ctx, audit.Filter{
		EventID:   eventID,
		HandlerID: handlerID,
		Status:    audit.StatusSuccess,
		Limit:     1,
	})
	if err != nil {
		return false, err
	}
	return len(records) > 0, nil
}

func (b *Bus) fail(ctx context.Context, f Failure) {
	if b.failures != nil {
		b.failures.HandleFailure(ctx, f)
		return
	}
	rec := audit.Record{
		CorrelationID: f.Event.CorrelationID,
		Module:        string(event.ModuleIntegration),
		Action:        f.Event.Type.ActionPrefix() + "_HANDLER_FAILED",
		ResourceType:  "DomainEvent",
		ResourceID:    f.Event.ID,
		UserID:        systemUser(f.HandlerID),
		Status:        audit.StatusFailed,
		EventID:       f.Event.ID,
		HandlerID:     f.HandlerID,
		Error:         f.Err.Error(),
	}
	if err := b.trail.Record(ctx, rec); err != nil {
		b.eventLogger(f.Event).Error("failed to record handler failure",
			zap.String("handler_id", f.HandlerID),
			zap.NamedError("handler_error", f.Err),
			zap.Error(err))
	}
}

func successRecord(reg Registration, evt event.DomainEvent, res Result) audit.Record {
	action := res.Action
	if action == "" {
		action = evt.Type.ActionPrefix() + "_HANDLED"
	}
	userID := res.UserID
	if userID == "" {
		userID = systemUser(reg.HandlerID)
	}
	return audit.Record{
		CorrelationID: evt.CorrelationID,
		Module:        string(reg.Module),
		Action:        action,
		ResourceType:  res.ResourceType,
		ResourceID:    res.ResourceID,
		UserID:        userID,
		Status:        audit.StatusSuccess,
		Changes:       res.Changes,
		EventID:       evt.ID,
		HandlerID:     reg.HandlerID,
	}
}

func systemUser(handlerID string) string {
	return "system:" + handlerID
}

func (b *Bus) eventLogger(evt event.DomainEvent) *zap.Logger {
	return b.logger.With(
		correlation.Field(evt.CorrelationID),
		zap.String("event_id", evt.ID),
		zap.String("event_type", string(evt.Type)))
}

// Registrations returns the current registrations ordered by handler ID.
func (b *Bus) Registrations() []Registration {
	b.mu.RLock()
	out := make([]Registration, 0, len(b.byID))
	for _, s := range b.byID {
		out = append(out, s.reg)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].HandlerID < out[j].HandlerID })
	return out
}

// Health returns per-handler queue and outcome counters ordered by handler ID.
func (b *Bus) Health() []SubscriberHealth {
	b.mu.RLock()
	out := make([]SubscriberHealth, 0, len(b.byID))
	for _, s := range b.byID {
		out = append(out, s.health())
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].HandlerID < out[j].HandlerID })
	return out
}

// Close stops accepting events and waits until queued deliveries have been
// handled or ctx is done.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, s := range b.byID {
		s.close()
	}
	b.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		b.workers.Wait()
		close(drained)
	}()

	defer b.cancel()
	select {
	case <-drained:
		b.logger.Info("event bus stopped")
		return nil
	case <-ctx.Done():
		b.logger.Warn("event bus stopped before queues drained", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}
