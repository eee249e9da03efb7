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
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/telekom/integration-hub/pkg/audit"
	"github.com/telekom/integration-hub/pkg/bus"
	"github.com/telekom/integration-hub/pkg/correlation"
	"github.com/telekom/integration-hub/pkg/event"
	"github.com/telekom/integration-hub/pkg/metrics"
	"github.com/telekom/integration-hub/pkg/utils"
)

const managerUser = "system:retry-manager"

type pairKey struct {
	eventID   string
	handlerID string
}

type pairState struct {
	state     State
	updatedAt time.Time
}

// item is one (event, handler) pair waiting for its next attempt.
type item struct {
	evt       event.DomainEvent
	handlerID string
	// attempts already made.
	attempts  int
	lastErr   error
	nextRetry time.Time
	done      bool
}

// Option customizes a Manager.
type Option func(*Manager)

// WithNotifier alerts operators about new dead letters.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// Manager retries failed handler deliveries with exponential backoff and
// dead-letters them once MaxAttempts is reached.
type Manager struct {
	cfg         Config
	trail       audit.Writer
	deadLetters DeadLetterStore
	notifier    Notifier
	logger      *zap.Logger
	now         func() time.Time

	incoming  chan *item
	deliverer Deliverer

	mu      sync.Mutex
	states  map[pairKey]pairState
	pending int
	stopped bool
	// reserved counts queue slots held by replays that are still writing
	// their audit record. shutdown waits for them via replays.
	reserved int
	replays  sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager validates cfg and creates a Manager. Call Start to begin
// processing retries.
func NewManager(cfg Config, trail audit.Writer, deadLetters DeadLetterStore, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:         cfg,
		trail:       trail,
		deadLetters: deadLetters,
		logger:      logger.Named("retry"),
		now:         func() time.Time { return time.Now().UTC() },
		incoming:    make(chan *item, cfg.QueueSize),
		states:      make(map[pairKey]pairState),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start begins processing with d as the delivery path.
func (m *Manager) Start(d Deliverer) {
	m.mu.Lock()
	m.deliverer = d
	m.mu.Unlock()

	m.wg.Add(1)
	go m.worker()
	m.logger.Info("retry manager started",
		zap.Int("max_attempts", m.cfg.MaxAttempts),
		zap.Duration("initial_backoff", m.cfg.InitialBackoff),
		zap.Duration("max_backoff", m.cfg.MaxBackoff),
		zap.Int("concurrency", m.cfg.Concurrency))
}

// HandleFailure implements bus.FailureHandler.
func (m *Manager) HandleFailure(ctx context.Context, f bus.Failure) {
	if err := m.Schedule(ctx, f); err != nil {
		m.logger.Error("failed to schedule retry",
			correlation.Field(f.Event.CorrelationID),
			zap.String("event_id", f.Event.ID),
			zap.String("handler_id", f.HandlerID),
			zap.Error(err))
	}
}

// Schedule takes ownership of a failed delivery. Deliveries that cannot be
// retried are dead-lettered immediately.
func (m *Manager) Schedule(ctx context.Context, f bus.Failure) error {
	attempts := f.Attempt
	if attempts < 1 {
		attempts = 1
	}
	it := &item{
		evt:       f.Event,
		handlerID: f.HandlerID,
		attempts:  attempts,
		lastErr:   f.Err,
	}

	if !m.retryable(it) {
		return m.exhaust(ctx, it)
	}
	it.nextRetry = m.now().Add(m.cfg.Backoff(it.attempts))
	if err := m.enqueue(it, StateRetrying); err != nil {
		it.lastErr = fmt.Errorf("%w (%v)", err, it.lastErr)
		return m.exhaust(ctx, it)
	}

	metrics.RetriesScheduled.WithLabelValues(f.HandlerID).Inc()
	m.logger.Info("handler retry scheduled",
		correlation.Field(f.Event.CorrelationID),
		zap.String("event_id", f.Event.ID),
		zap.String("event_type", string(f.Event.Type)),
		zap.String("handler_id", f.HandlerID),
		zap.Int("attempt", it.attempts),
		zap.Time("next_retry", it.nextRetry),
		zap.NamedError("cause", f.Err))
	return nil
}

func (m *Manager) retryable(it *item) bool {
	if it.attempts >= m.cfg.MaxAttempts {
		return false
	}
	return !errors.Is(it.lastErr, utils.ErrPermanent) &&
		!errors.Is(it.lastErr, bus.ErrHandlerNotFound) &&
		!errors.Is(it.lastErr, bus.ErrBusClosed)
}

func (m *Manager) enqueue(it *item, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrStopped
	}
	if len(m.incoming)+m.reserved >= cap(m.incoming) {
		return m.errQueueFull()
	}
	m.incoming <- it
	m.pending++
	metrics.RetryPending.Set(float64(m.pending))
	m.setStateLocked(pairKey{it.evt.ID, it.handlerID}, state)
	return nil
}

func (m *Manager) errQueueFull() error {
	return fmt.Errorf("retry queue is full (capacity %d)", m.cfg.QueueSize)
}

// reserve holds one queue slot so a replay can write its audit trail
// before the item becomes visible. Every successful reserve is followed
// by exactly one commit or unreserve.
func (m *Manager) reserve() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrStopped
	}
	if len(m.incoming)+m.reserved >= cap(m.incoming) {
		return m.errQueueFull()
	}
	m.reserved++
	m.replays.Add(1)
	return nil
}

func (m *Manager) unreserve() {
	m.mu.Lock()
	m.reserved--
	m.mu.Unlock()
	m.replays.Done()
}

// commit queues it into its reserved slot. A manager stopped meanwhile
// still drains it, after waiting on replays, and dead-letters it.
func (m *Manager) commit(it *item, state State) {
	m.mu.Lock()
	m.reserved--
	m.incoming <- it
	m.pending++
	metrics.RetryPending.Set(float64(m.pending))
	m.setStateLocked(pairKey{it.evt.ID, it.handlerID}, state)
	m.mu.Unlock()
	m.replays.Done()
}

func (m *Manager) worker() {
	defer m.wg.Done()

	pending := make([]*item, 0)
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			m.shutdown(pending)
			return

		case it := <-m.incoming:
			pending = append(pending, it)

		case <-ticker.C:
			pending = m.runDue(pending)
			m.pruneStates()
		}
	}
}

// runDue attempts every due item, at most Concurrency at a time, and
// returns the items still waiting.
func (m *Manager) runDue(pending []*item) []*item {
	now := m.now()
	var g errgroup.Group
	g.SetLimit(m.cfg.Concurrency)
	for _, it := range pending {
		if now.Before(it.nextRetry) {
			continue
		}
		g.Go(func() error {
			m.attempt(it)
			return nil
		})
	}
	_ = g.Wait()

	remaining := pending[:0]
	for _, it := range pending {
		if !it.done {
			remaining = append(remaining, it)
		}
	}
	return remaining
}

func (m *Manager) attempt(it *item) {
	m.mu.Lock()
	d := m.deliverer
	m.mu.Unlock()

	it.attempts++
	ctx := correlation.WithID(m.ctx, it.evt.CorrelationID)
	log := m.logger.With(
		correlation.Field(it.evt.CorrelationID),
		zap.String("event_id", it.evt.ID),
		zap.String("handler_id", it.handlerID),
		zap.Int("attempt", it.attempts))

	err := d.Deliver(ctx, it.evt, it.handlerID)
	if err == nil {
		it.done = true
		m.finish(it, StateSucceeded)
		metrics.RetriesSucceeded.WithLabelValues(it.handlerID).Inc()
		log.Info("handler retry succeeded")
		return
	}

	it.lastErr = err
	if m.retryable(it) {
		it.nextRetry = m.now().Add(m.cfg.Backoff(it.attempts))
		metrics.RetriesScheduled.WithLabelValues(it.handlerID).Inc()
		log.Warn("handler retry failed, rescheduling",
			zap.Time("next_retry", it.nextRetry),
			zap.Error(err))
		return
	}

	it.done = true
	m.finish(it, StateDeadLettered)
	if err := m.exhaust(ctx, it); err != nil {
		log.Error("failed to dead-letter delivery", zap.Error(err))
	}
}

func (m *Manager) finish(it *item, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending--
	metrics.RetryPending.Set(float64(m.pending))
	m.setStateLocked(pairKey{it.evt.ID, it.handlerID}, state)
}

// exhaust records the failed outcome, stores the dead letter and notifies.
func (m *Manager) exhaust(ctx context.Context, it *item) error {
	m.mu.Lock()
	m.setStateLocked(pairKey{it.evt.ID, it.handlerID}, StateDeadLettered)
	m.mu.Unlock()

	dlErr := &DeadLetterError{
		HandlerID: it.handlerID,
		EventID:   it.evt.ID,
		Attempts:  it.attempts,
		Err:       it.lastErr,
	}
	cause := "unknown error"
	if it.lastErr != nil {
		cause = it.lastErr.Error()
	}

	dl := DeadLetter{
		ID:        event.NewID(),
		Event:     it.evt,
		HandlerID: it.handlerID,
		Attempts:  it.attempts,
		LastError: cause,
		CreatedAt: m.now(),
	}

	var errs []error
	if err := m.deadLetters.Add(ctx, dl); err != nil {
		errs = append(errs, fmt.Errorf("store dead letter: %w", err))
	}
	if err := m.trail.Record(ctx, audit.Record{
		CorrelationID: it.evt.CorrelationID,
		Module:        string(event.ModuleIntegration),
		Action:        it.evt.Type.ActionPrefix() + "_DELIVERY_EXHAUSTED",
		ResourceType:  "DomainEvent",
		ResourceID:    it.evt.ID,
		UserID:        managerUser,
		Status:        audit.StatusFailed,
		Changes: []audit.Change{
			{Field: "deliveryState", OldValue: string(StateRetrying), NewValue: string(StateDeadLettered)},
			{Field: "attempts", OldValue: nil, NewValue: it.attempts},
			{Field: "deadLetterId", OldValue: nil, NewValue: dl.ID},
		},
		EventID:   it.evt.ID,
		HandlerID: it.handlerID,
		Error:     cause,
	}); err != nil {
		errs = append(errs, fmt.Errorf("record dead letter: %w", err))
	}

	metrics.DeadLetters.WithLabelValues(it.handlerID, string(it.evt.Type)).Inc()
	m.logger.Error("delivery dead-lettered",
		correlation.Field(it.evt.CorrelationID),
		zap.String("event_id", it.evt.ID),
		zap.String("event_type", string(it.evt.Type)),
		zap.String("handler_id", it.handlerID),
		zap.String("dead_letter_id", dl.ID),
		zap.Error(dlErr))

	if m.notifier != nil {
		if err := m.notifier.NotifyDeadLetter(ctx, dl); err != nil {
			m.logger.Warn("failed to notify about dead letter",
				zap.String("dead_letter_id", dl.ID),
				zap.Error(err))
		}
	}
	return errors.Join(errs...)
}

// Replay re-delivers a dead letter with a fresh attempt budget.
func (m *Manager) Replay(ctx context.Context, id, userID string) error {
	m.mu.Lock()
	started := m.deliverer != nil
	m.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	dl, err := m.deadLetters.Get(ctx, id)
	if err != nil {
		return err
	}
	if userID == "" {
		userID = managerUser
	}

	// Nothing is written unless the replay can be queued.
	if err := m.reserve(); err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			m.unreserve()
		}
	}()

	rec := audit.Record{
		CorrelationID: dl.Event.CorrelationID,
		Module:        string(event.ModuleIntegration),
		Action:        dl.Event.Type.ActionPrefix() + "_REPLAY_REQUESTED",
		ResourceType:  "DeadLetter",
		ResourceID:    dl.ID,
		UserID:        userID,
		Status:        audit.StatusPending,
		Changes: []audit.Change{
			{Field: "deliveryState", OldValue: string(StateDeadLettered), NewValue: string(StatePending)},
			{Field: "replayCount", OldValue: dl.ReplayCount, NewValue: dl.ReplayCount + 1},
		},
		EventID:   dl.Event.ID,
		HandlerID: dl.HandlerID,
	}
	if err := m.trail.Record(ctx, rec); err != nil {
		return fmt.Errorf("record replay request: %w", err)
	}
	if err := m.deadLetters.MarkReplayed(ctx, dl.ID, m.now()); err != nil {
		err = fmt.Errorf("mark dead letter replayed: %w", err)
		// Resolve the pending record; the dead letter stays unreplayed.
		rec.ID, rec.Timestamp = "", time.Time{}
		rec.Status, rec.Error = audit.StatusFailed, err.Error()
		if rerr := m.trail.Record(context.WithoutCancel(ctx), rec); rerr != nil {
			return errors.Join(err, fmt.Errorf("record replay failure: %w", rerr))
		}
		return err
	}

	m.commit(&item{
		evt:       dl.Event,
		handlerID: dl.HandlerID,
		nextRetry: m.now(),
	}, StatePending)
	committed = true
	metrics.DeadLetterReplays.WithLabelValues(dl.HandlerID).Inc()
	m.logger.Info("dead letter replay scheduled",
		correlation.Field(dl.Event.CorrelationID),
		zap.String("dead_letter_id", dl.ID),
		zap.String("handler_id", dl.HandlerID),
		zap.String("user_id", userID))
	return nil
}

// DeadLetters lists stored dead letters.
func (m *Manager) DeadLetters(ctx context.Context, f DeadLetterFilter) ([]DeadLetter, error) {
	return m.deadLetters.List(ctx, f)
}

// State returns the delivery state of a pair the manager has seen.
func (m *Manager) State(eventID, handlerID string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[pairKey{eventID, handlerID}]
	return s.state, ok
}

// Pending returns the number of deliveries waiting for a retry.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

func (m *Manager) setStateLocked(k pairKey, s State) {
	m.states[k] = pairState{state: s, updatedAt: m.now()}
}

func (m *Manager) pruneStates() {
	if m.cfg.StateRetention <= 0 {
		return
	}
	cutoff := m.now().Add(-m.cfg.StateRetention)
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, s := range m.states {
		terminal := s.state == StateSucceeded || s.state == StateDeadLettered
		if terminal && s.updatedAt.Before(cutoff) {
			delete(m.states, k)
		}
	}
}

// shutdown dead-letters everything still waiting so no delivery ends
// without an outcome record. Operators can replay them after restart.
func (m *Manager) shutdown(pending []*item) {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	m.replays.Wait()

drain:
	for {
		select {
		case it := <-m.incoming:
			pending = append(pending, it)
		default:
			break drain
		}
	}

	if len(pending) > 0 {
		m.logger.Warn("dead-lettering pending retries on shutdown", zap.Int("count", len(pending)))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, it := range pending {
		it.lastErr = fmt.Errorf("%w before delivery completed (last error: %v)", ErrStopped, it.lastErr)
		m.finish(it, StateDeadLettered)
		if err := m.exhaust(ctx, it); err != nil {
			m.logger.Error("failed to dead-letter pending retry", zap.Error(err))
		}
	}
}

// Stop halts retry processing and waits for the worker to finish.
func (m *Manager) Stop(ctx context.Context) error {
	m.logger.Info("stopping retry manager")
	m.mu.Lock()
	started := m.deliverer != nil
	m.mu.Unlock()

	m.cancel()
	if !started {
		m.shutdown(nil)
		return nil
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("retry manager stopped")
		return nil
	case <-ctx.Done():
		m.logger.Warn("retry manager shutdown timed out")
		return ctx.Err()
	}
}
