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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/integration-hub/pkg/audit"
	"github.com/telekom/integration-hub/pkg/bus"
	"github.com/telekom/integration-hub/pkg/correlation"
	"github.com/telekom/integration-hub/pkg/event"
	"github.com/telekom/integration-hub/pkg/utils"
)

const handlerID = "assets.reclaim"

type harness struct {
	bus         *bus.Bus
	manager     *Manager
	recorder    *audit.Recorder
	deadLetters *MemoryDeadLetterStore
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []DeadLetter
}

func (n *recordingNotifier) NotifyDeadLetter(_ context.Context, dl DeadLetter) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, dl)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.TickInterval = 2 * time.Millisecond
	return cfg
}

func newHarness(t *testing.T, cfg Config, handler bus.Handler, opts ...Option) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	rec := audit.NewRecorder(audit.NewMemoryStore(), nil, audit.DefaultRecorderConfig(), logger)
	dls := NewMemoryDeadLetterStore()

	m, err := NewManager(cfg, rec, dls, logger, opts...)
	require.NoError(t, err)
	b := bus.New(rec, logger,
		bus.WithConfig(bus.Config{Mode: bus.ModeSync}),
		bus.WithFailureHandler(m))
	m.Start(b)

	_, err = b.Subscribe(event.EmployeeOffboarded, handlerID, handler, bus.WithModule(event.ModuleAssets))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = m.Stop(context.Background())
		_ = b.Close(context.Background())
	})
	return &harness{bus: b, manager: m, recorder: rec, deadLetters: dls}
}

func offboarding(t *testing.T) event.DomainEvent {
	t.Helper()
	evt, err := event.New(event.OffboardingPayload{
		EmployeeID:      42,
		OffboardingType: event.OffboardingResignation,
		ExitDate:        "2024-06-01",
		AssetsToReturn:  []string{"LAPTOP-17"},
	}, correlation.New(), event.ModuleHR)
	require.NoError(t, err)
	return evt
}

func (h *harness) records(t *testing.T, f audit.Filter) []audit.Record {
	t.Helper()
	recs, err := h.recorder.Query(context.Background(), f)
	require.NoError(t, err)
	return recs
}

func (h *harness) deadLetterCount(t *testing.T) int {
	t.Helper()
	dls, err := h.deadLetters.List(context.Background(), DeadLetterFilter{})
	require.NoError(t, err)
	return len(dls)
}

func TestManager_DeadLettersAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, fastConfig(), func(context.Context, event.DomainEvent) (bus.Result, error) {
		calls.Add(1)
		return bus.Result{}, errors.New("asset service unavailable")
	})

	evt := offboarding(t)
	_, err := h.bus.Publish(context.Background(), evt)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.deadLetterCount(t) == 1 }, 2*time.Second, 5*time.Millisecond)

	// No attempts happen after the dead letter.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(5), calls.Load())
	assert.Equal(t, 1, h.deadLetterCount(t))

	exhausted := h.records(t, audit.Filter{
		CorrelationID: evt.CorrelationID,
		Action:        "EMPLOYEE_OFFBOARDED_DELIVERY_EXHAUSTED",
	})
	require.Len(t, exhausted, 1)
	assert.Equal(t, audit.StatusFailed, exhausted[0].Status)
	assert.Equal(t, evt.ID, exhausted[0].EventID)
	assert.Equal(t, handlerID, exhausted[0].HandlerID)
	assert.Equal(t, "INTEGRATION", exhausted[0].Module)
	assert.Contains(t, exhausted[0].Error, "asset service unavailable")

	success := h.records(t, audit.Filter{EventID: evt.ID, Status: audit.StatusSuccess})
	assert.Empty(t, success)

	state, ok := h.manager.State(evt.ID, handlerID)
	require.True(t, ok)
	assert.Equal(t, StateDeadLettered, state)
	assert.Zero(t, h.manager.Pending())

	dls, err := h.manager.DeadLetters(context.Background(), DeadLetterFilter{HandlerID: handlerID})
	require.NoError(t, err)
	require.Len(t, dls, 1)
	assert.Equal(t, 5, dls[0].Attempts)
	assert.Equal(t, evt.ID, dls[0].Event.ID)
}

func TestManager_SucceedsOnRetry(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, fastConfig(), func(context.Context, event.DomainEvent) (bus.Result, error) {
		if calls.Add(1) <= 2 {
			return bus.Result{}, errors.New("timeout")
		}
		return bus.Result{Action: "ASSET_RECLAIMED", ResourceType: "Asset", ResourceID: "LAPTOP-17"}, nil
	})

	evt := offboarding(t)
	_, err := h.bus.Publish(context.Background(), evt)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		state, _ := h.manager.State(evt.ID, handlerID)
		return state == StateSucceeded
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(3), calls.Load())
	success := h.records(t, audit.Filter{EventID: evt.ID, HandlerID: handlerID, Status: audit.StatusSuccess})
	require.Len(t, success, 1)
	assert.Equal(t, "ASSET_RECLAIMED", success[0].Action)
	assert.Zero(t, h.deadLetterCount(t))
}

func TestManager_PermanentErrorsSkipRetries(t *testing.T) {
	var calls atomic.Int32
	notifier := &recordingNotifier{}
	h := newHarness(t, fastConfig(), func(context.Context, event.DomainEvent) (bus.Result, error) {
		calls.Add(1)
		return bus.Result{}, utils.Permanent(errors.New("asset LAPTOP-17 does not exist"))
	}, WithNotifier(notifier))

	_, err := h.bus.Publish(context.Background(), offboarding(t))
	require.NoError(t, err)

	assert.Equal(t, 1, h.deadLetterCount(t))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, notifier.count())

	dls, err := h.deadLetters.List(context.Background(), DeadLetterFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, dls[0].Attempts)
}

func TestManager_SingleAttemptBudget(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 1
	var calls atomic.Int32
	h := newHarness(t, cfg, func(context.Context, event.DomainEvent) (bus.Result, error) {
		calls.Add(1)
		return bus.Result{}, errors.New("boom")
	})

	_, err := h.bus.Publish(context.Background(), offboarding(t))
	require.NoError(t, err)
	assert.Equal(t, 1, h.deadLetterCount(t))
	assert.Equal(t, int32(1), calls.Load())
}

func TestManager_Replay(t *testing.T) {
	var healthy atomic.Bool
	h := newHarness(t, fastConfig(), func(context.Context, event.DomainEvent) (bus.Result, error) {
		if !healthy.Load() {
			return bus.Result{}, utils.Permanent(errors.New("asset service rejected request"))
		}
		return bus.Result{Action: "ASSET_RECLAIMED"}, nil
	})

	evt := offboarding(t)
	_, err := h.bus.Publish(context.Background(), evt)
	require.NoError(t, err)

	dls, err := h.deadLetters.List(context.Background(), DeadLetterFilter{})
	require.NoError(t, err)
	require.Len(t, dls, 1)

	healthy.Store(true)
	require.NoError(t, h.manager.Replay(context.Background(), dls[0].ID, "operator@example.com"))

	require.Eventually(t, func() bool {
		return len(h.records(t, audit.Filter{EventID: evt.ID, Status: audit.StatusSuccess})) == 1
	}, 2*time.Second, 5*time.Millisecond)

	requested := h.records(t, audit.Filter{Action: "EMPLOYEE_OFFBOARDED_REPLAY_REQUESTED"})
	require.Len(t, requested, 1)
	assert.Equal(t, audit.StatusPending, requested[0].Status)
	assert.Equal(t, "operator@example.com", requested[0].UserID)

	replayed, err := h.deadLetters.Get(context.Background(), dls[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, replayed.ReplayCount)
	require.NotNil(t, replayed.ReplayedAt)

	unreplayed, err := h.deadLetters.List(context.Background(), DeadLetterFilter{Unreplayed: true})
	require.NoError(t, err)
	assert.Empty(t, unreplayed)
}

func TestManager_ReplayErrors(t *testing.T) {
	logger := zaptest.NewLogger(t)
	rec := audit.NewRecorder(audit.NewMemoryStore(), nil, audit.DefaultRecorderConfig(), logger)
	m, err := NewManager(fastConfig(), rec, NewMemoryDeadLetterStore(), logger)
	require.NoError(t, err)

	err = m.Replay(context.Background(), "missing", "")
	assert.ErrorIs(t, err, ErrNotStarted)

	h := newHarness(t, fastConfig(), func(context.Context, event.DomainEvent) (bus.Result, error) {
		return bus.Result{}, nil
	})
	err = h.manager.Replay(context.Background(), "missing", "")
	assert.ErrorIs(t, err, ErrDeadLetterNotFound)
	require.NoError(t, m.Stop(context.Background()))
}

func TestManager_ReplayAfterStopLeavesNoTrace(t *testing.T) {
	h := newHarness(t, fastConfig(), func(context.Context, event.DomainEvent) (bus.Result, error) {
		return bus.Result{}, utils.Permanent(errors.New("asset service rejected request"))
	})
	_, err := h.bus.Publish(context.Background(), offboarding(t))
	require.NoError(t, err)
	dls, err := h.deadLetters.List(context.Background(), DeadLetterFilter{})
	require.NoError(t, err)
	require.Len(t, dls, 1)

	require.NoError(t, h.manager.Stop(context.Background()))
	err = h.manager.Replay(context.Background(), dls[0].ID, "operator@example.com")
	require.ErrorIs(t, err, ErrStopped)

	dl, err := h.deadLetters.Get(context.Background(), dls[0].ID)
	require.NoError(t, err)
	assert.Zero(t, dl.ReplayCount)
	assert.Nil(t, dl.ReplayedAt)

	unreplayed, err := h.deadLetters.List(context.Background(), DeadLetterFilter{Unreplayed: true})
	require.NoError(t, err)
	assert.Len(t, unreplayed, 1)
	assert.Empty(t, h.records(t, audit.Filter{Action: "EMPLOYEE_OFFBOARDED_REPLAY_REQUESTED"}))
}

type failingMarkStore struct {
	*MemoryDeadLetterStore
}

func (failingMarkStore) MarkReplayed(context.Context, string, time.Time) error {
	return errors.New("database unavailable")
}

func TestManager_ReplayMarkFailureResolvesRequest(t *testing.T) {
	logger := zaptest.NewLogger(t)
	rec := audit.NewRecorder(audit.NewMemoryStore(), nil, audit.DefaultRecorderConfig(), logger)
	dls := failingMarkStore{NewMemoryDeadLetterStore()}
	m, err := NewManager(fastConfig(), rec, dls, logger)
	require.NoError(t, err)
	b := bus.New(rec, logger, bus.WithConfig(bus.Config{Mode: bus.ModeSync}), bus.WithFailureHandler(m))
	m.Start(b)
	t.Cleanup(func() {
		_ = m.Stop(context.Background())
		_ = b.Close(context.Background())
	})

	evt := offboarding(t)
	require.NoError(t, dls.Add(context.Background(), DeadLetter{
		ID: "dl-1", Event: evt, HandlerID: handlerID, Attempts: 1, LastError: "boom", CreatedAt: time.Now().UTC(),
	}))

	err = m.Replay(context.Background(), "dl-1", "ops")
	require.ErrorContains(t, err, "mark dead letter replayed")
	assert.Zero(t, m.Pending())

	recs, err := rec.Query(context.Background(), audit.Filter{Action: "EMPLOYEE_OFFBOARDED_REPLAY_REQUESTED"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	statuses := map[audit.Status]audit.Record{}
	for _, r := range recs {
		statuses[r.Status] = r
	}
	require.Contains(t, statuses, audit.StatusPending)
	require.Contains(t, statuses, audit.StatusFailed)
	assert.Contains(t, statuses[audit.StatusFailed].Error, "database unavailable")

	// The released slot is usable again and Stop does not hang on it.
	require.NoError(t, m.Stop(context.Background()))
}

func TestManager_StopDeadLettersPendingRetries(t *testing.T) {
	cfg := fastConfig()
	cfg.InitialBackoff = time.Hour
	cfg.MaxBackoff = time.Hour
	h := newHarness(t, cfg, func(context.Context, event.DomainEvent) (bus.Result, error) {
		return bus.Result{}, errors.New("not yet")
	})

	evt := offboarding(t)
	_, err := h.bus.Publish(context.Background(), evt)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.manager.Pending() == 1 }, time.Second, 5*time.Millisecond)

	state, ok := h.manager.State(evt.ID, handlerID)
	require.True(t, ok)
	assert.Equal(t, StateRetrying, state)

	require.NoError(t, h.manager.Stop(context.Background()))
	dls, err := h.deadLetters.List(context.Background(), DeadLetterFilter{})
	require.NoError(t, err)
	require.Len(t, dls, 1)
	assert.Contains(t, dls[0].LastError, ErrStopped.Error())
	assert.Zero(t, h.manager.Pending())

	// Failures after Stop are dead-lettered directly.
	err = h.manager.Schedule(context.Background(), bus.Failure{Event: offboarding(t), HandlerID: handlerID, Attempt: 1, Err: errors.New("late")})
	require.NoError(t, err)
	assert.Equal(t, 2, h.deadLetterCount(t))
}

func TestManager_UnregisteredHandlerIsNotRetried(t *testing.T) {
	cfg := fastConfig()
	cfg.InitialBackoff = 20 * time.Millisecond
	cfg.MaxBackoff = 20 * time.Millisecond
	h := newHarness(t, cfg, func(context.Context, event.DomainEvent) (bus.Result, error) {
		return bus.Result{}, errors.New("always fails")
	})
	evt := offboarding(t)
	_, err := h.bus.Publish(context.Background(), evt)
	require.NoError(t, err)
	require.True(t, h.bus.Unsubscribe(handlerID))

	require.Eventually(t, func() bool { return h.deadLetterCount(t) == 1 }, 2*time.Second, 5*time.Millisecond)
	dls, err := h.deadLetters.List(context.Background(), DeadLetterFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, dls[0].Attempts)
	assert.Contains(t, dls[0].LastError, bus.ErrHandlerNotFound.Error())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero attempts", mutate: func(c *Config) { c.MaxAttempts = 0 }, wantErr: true},
		{name: "too many attempts", mutate: func(c *Config) { c.MaxAttempts = 11 }, wantErr: true},
		{name: "ten attempts", mutate: func(c *Config) { c.MaxAttempts = 10 }},
		{name: "no initial backoff", mutate: func(c *Config) { c.InitialBackoff = 0 }, wantErr: true},
		{name: "max below initial", mutate: func(c *Config) { c.MaxBackoff = time.Millisecond }, wantErr: true},
		{name: "shrinking multiplier", mutate: func(c *Config) { c.Multiplier = 0.5 }, wantErr: true},
		{name: "no concurrency", mutate: func(c *Config) { c.Concurrency = 0 }, wantErr: true},
		{name: "no queue", mutate: func(c *Config) { c.QueueSize = 0 }, wantErr: true},
		{name: "no tick", mutate: func(c *Config) { c.TickInterval = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConfig_Backoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBackoff = 5 * time.Second

	assert.Equal(t, time.Second, cfg.Backoff(1))
	assert.Equal(t, 2*time.Second, cfg.Backoff(2))
	assert.Equal(t, 4*time.Second, cfg.Backoff(3))
	assert.Equal(t, 5*time.Second, cfg.Backoff(4))
}

func TestNewManager_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 0
	_, err := NewManager(cfg, nil, NewMemoryDeadLetterStore(), zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestDeadLetterError(t *testing.T) {
	cause := errors.New("refused")
	err := &DeadLetterError{HandlerID: "h", EventID: "e", Attempts: 5, Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "after 5 attempt(s)")
}
