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


package handlers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/integration-hub/pkg/audit"
	"github.com/telekom/integration-hub/pkg/bus"
	"github.com/telekom/integration-hub/pkg/correlation"
	"github.com/telekom/integration-hub/pkg/dedup"
	"github.com/telekom/integration-hub/pkg/event"
	"github.com/telekom/integration-hub/pkg/utils"
)

// fakeModules records every client call and can fail a number of them.
type fakeModules struct {
	mu       sync.Mutex
	calls    map[string]int
	failNext int
}

func newFakeModules() *fakeModules {
	return &fakeModules{calls: make(map[string]int)}
}

func (f *fakeModules) call(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	if f.failNext > 0 {
		f.failNext--
		return errors.New("module unavailable")
	}
	return nil
}

func (f *fakeModules) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeModules) ReclaimAsset(_ context.Context, _ int64, tag, _ string) error {
	return f.call("reclaim:" + tag)
}

func (f *fakeModules) RevokeAccess(_ context.Context, _ int64, system string) error {
	return f.call("revoke:" + system)
}

func (f *fakeModules) GrantAccess(_ context.Context, _ int64, system string) error {
	return f.call("grant:" + system)
}

func (f *fakeModules) SettleFinalPay(_ context.Context, id int64, exitDate string) (string, error) {
	if err := f.call("settle"); err != nil {
		return "", err
	}
	return "PAY-" + exitDate, nil
}

func (f *fakeModules) CreateTask(_ context.Context, _ int64, taskID, _, _ string) error {
	return f.call("task:" + taskID)
}

func (f *fakeModules) clients() Clients {
	return Clients{Assets: f, Access: f, Payroll: f, Compliance: f}
}

type fixture struct {
	bus      *bus.Bus
	recorder *audit.Recorder
	modules  *fakeModules
	store    *dedup.MemoryStore
}

func newFixture(t *testing.T, clients func(*fakeModules) Clients) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	rec := audit.NewRecorder(audit.NewMemoryStore(), nil, audit.DefaultRecorderConfig(), logger)
	b := bus.New(rec, logger, bus.WithConfig(bus.Config{Mode: bus.ModeSync, HandlerTimeout: time.Second}))
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	modules := newFakeModules()
	store := dedup.NewMemoryStore()
	if clients == nil {
		clients = (*fakeModules).clients
	}
	_, err := NewRegistrar(b, clients(modules), store, dedup.DefaultConfig(), logger).Register()
	require.NoError(t, err)
	return &fixture{bus: b, recorder: rec, modules: modules, store: store}
}

func (f *fixture) records(t *testing.T, filter audit.Filter) []audit.Record {
	t.Helper()
	recs, err := f.recorder.Query(context.Background(), filter)
	require.NoError(t, err)
	return recs
}

func newEvent(t *testing.T, p event.Payload) event.DomainEvent {
	t.Helper()
	evt, err := event.New(p, correlation.New(), event.ModuleHR)
	require.NoError(t, err)
	return evt
}

func offboardingPayload() event.OffboardingPayload {
	return event.OffboardingPayload{
		EmployeeID:      42,
		OffboardingType: event.OffboardingResignation,
		ExitDate:        "2024-06-01",
		AssetsToReturn:  []string{"LAPTOP-17"},
		AccessToRevoke:  []string{"VPN", "BADGE"},
	}
}

func TestRegister_Offboarding(t *testing.T) {
	f := newFixture(t, nil)
	evt := newEvent(t, offboardingPayload())

	res, err := f.bus.Publish(context.Background(), evt)
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 3)
	for _, o := range res.Outcomes {
		assert.Equal(t, bus.OutcomeSucceeded, o.Status, o.HandlerID)
	}

	recs := f.records(t, audit.Filter{CorrelationID: evt.CorrelationID})
	require.Len(t, recs, 3)
	byAction := map[string]audit.Record{}
	for _, r := range recs {
		byAction[r.Action] = r
	}

	assets := byAction["ASSET_RECLAIMED"]
	assert.Equal(t, "ASSETS", assets.Module)
	assert.Equal(t, "42", assets.ResourceID)
	require.Len(t, assets.Changes, 1)
	assert.Equal(t, "asset:LAPTOP-17", assets.Changes[0].Field)

	access := byAction["ACCESS_REVOKED"]
	assert.Equal(t, "SECURITY", access.Module)
	assert.Len(t, access.Changes, 2)
	assert.Equal(t, "system:"+SecurityRevokeID, access.UserID)

	pay := byAction["FINAL_PAY_SETTLED"]
	assert.Equal(t, "FINANCE", pay.Module)
	assert.Equal(t, "PAY-2024-06-01", pay.ResourceID)

	assert.Equal(t, 1, f.modules.count("revoke:VPN"))
	assert.Equal(t, 1, f.modules.count("revoke:BADGE"))
}

func TestRegister_RedeliveryIsDeduplicated(t *testing.T) {
	f := newFixture(t, nil)
	evt := newEvent(t, offboardingPayload())

	_, err := f.bus.Publish(context.Background(), evt)
	require.NoError(t, err)
	_, err = f.bus.Publish(context.Background(), evt)
	require.NoError(t, err)
	require.NoError(t, f.bus.Deliver(context.Background(), evt, AssetsReclaimID))

	assert.Equal(t, 1, f.modules.count("reclaim:LAPTOP-17"))
	success := f.records(t, audit.Filter{EventID: evt.ID, HandlerID: AssetsReclaimID, Status: audit.StatusSuccess})
	assert.Len(t, success, 1)
}

func TestRegister_FailureReleasesClaim(t *testing.T) {
	f := newFixture(t, func(m *fakeModules) Clients { return Clients{Assets: m} })
	f.modules.failNext = 1
	evt := newEvent(t, offboardingPayload())

	res, err := f.bus.Publish(context.Background(), evt)
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, bus.OutcomeFailed, res.Outcomes[0].Status)

	require.NoError(t, f.bus.Deliver(context.Background(), evt, AssetsReclaimID))
	assert.Equal(t, 2, f.modules.count("reclaim:LAPTOP-17"))
	assert.Len(t, f.records(t, audit.Filter{EventID: evt.ID, Action: "ASSET_RECLAIMED"}), 1)
}

func TestRegister_ConcurrentClaimIsTransient(t *testing.T) {
	f := newFixture(t, func(m *fakeModules) Clients { return Clients{Assets: m} })
	evt := newEvent(t, offboardingPayload())

	_, err := f.store.Claim(context.Background(), dedup.Key(AssetsReclaimID, evt.ID), time.Minute)
	require.NoError(t, err)

	err = f.bus.Deliver(context.Background(), evt, AssetsReclaimID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in progress")
	assert.NotErrorIs(t, err, utils.ErrPermanent)
	assert.Zero(t, f.modules.count("reclaim:LAPTOP-17"))
}

// panickingAssets panics on its first call and succeeds afterwards.
type panickingAssets struct {
	*fakeModules
	panicked bool
}

func (p *panickingAssets) ReclaimAsset(ctx context.Context, id int64, tag, reason string) error {
	p.mu.Lock()
	first := !p.panicked
	p.panicked = true
	p.mu.Unlock()
	if first {
		_ = p.call("reclaim:" + tag)
		panic("asset client crashed")
	}
	return p.fakeModules.ReclaimAsset(ctx, id, tag, reason)
}

func TestRegister_PanicReleasesClaim(t *testing.T) {
	f := newFixture(t, func(m *fakeModules) Clients { return Clients{Assets: &panickingAssets{fakeModules: m}} })
	evt := newEvent(t, offboardingPayload())

	err := f.bus.Deliver(context.Background(), evt, AssetsReclaimID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	require.NoError(t, f.bus.Deliver(context.Background(), evt, AssetsReclaimID))
	assert.Equal(t, 2, f.modules.count("reclaim:LAPTOP-17"))
	assert.Len(t, f.records(t, audit.Filter{EventID: evt.ID, HandlerID: AssetsReclaimID, Status: audit.StatusSuccess}), 1)
	assert.Equal(t, 1, f.store.Len())
}

func TestIdempotent_TimedOutHandlerReleasesClaim(t *testing.T) {
	store := dedup.NewMemoryStore()
	calls := 0
	h := Idempotent[event.OffboardingPayload](store, dedup.DefaultConfig(), AssetsReclaimID, zaptest.NewLogger(t),
		func(ctx context.Context, _ event.DomainEvent, _ event.OffboardingPayload) (bus.Result, error) {
			calls++
			if calls == 1 {
				<-ctx.Done()
				return bus.Result{}, ctx.Err()
			}
			return bus.Result{}, nil
		})
	evt := newEvent(t, offboardingPayload())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := h(ctx, evt, offboardingPayload())
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = h(context.Background(), evt, offboardingPayload())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	_, err = h(context.Background(), evt, offboardingPayload())
	assert.ErrorIs(t, err, bus.ErrAlreadyProcessed)
}

func TestRegister_Onboarding(t *testing.T) {
	f := newFixture(t, nil)
	evt := newEvent(t, event.OnboardingPayload{
		EmployeeID:    7,
		EmployeeName:  "Max Mustermann",
		StartDate:     "2024-07-01",
		AccessToGrant: []string{"VPN"},
	})

	res, err := f.bus.Publish(context.Background(), evt)
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1)

	recs := f.records(t, audit.Filter{CorrelationID: evt.CorrelationID})
	require.Len(t, recs, 1)
	assert.Equal(t, "ACCESS_PROVISIONED", recs[0].Action)
	assert.Equal(t, 1, f.modules.count("grant:VPN"))
}

func TestRegister_ComplianceTask(t *testing.T) {
	f := newFixture(t, nil)
	evt := newEvent(t, event.ComplianceReviewPayload{EmployeeID: 7, TaskID: "GDPR-1", TaskName: "GDPR training", DueDate: "2024-07-15"})

	_, err := f.bus.Publish(context.Background(), evt)
	require.NoError(t, err)
	recs := f.records(t, audit.Filter{CorrelationID: evt.CorrelationID})
	require.Len(t, recs, 1)
	assert.Equal(t, "COMPLIANCE_TASK_CREATED", recs[0].Action)
	assert.Equal(t, "GDPR-1", recs[0].ResourceID)
	assert.Equal(t, "COMPLIANCE", recs[0].Module)

	bad := newEvent(t, event.ComplianceReviewPayload{EmployeeID: 7})
	err = f.bus.Deliver(context.Background(), bad, ComplianceCreateTaskID)
	assert.ErrorIs(t, err, utils.ErrPermanent)
}

func TestRegister_SkipsMissingClients(t *testing.T) {
	f := newFixture(t, func(m *fakeModules) Clients { return Clients{Payroll: m} })
	regs := f.bus.Registrations()
	require.Len(t, regs, 1)
	assert.Equal(t, FinanceSettleID, regs[0].HandlerID)
}

func TestDryRunClient(t *testing.T) {
	c := NewDryRunClient(zaptest.NewLogger(t))
	ctx := correlation.WithID(context.Background(), correlation.New())
	clients := c.Clients()

	require.NoError(t, clients.Assets.ReclaimAsset(ctx, 42, "LAPTOP-17", "2024-06-01"))
	require.NoError(t, clients.Access.RevokeAccess(ctx, 42, "VPN"))
	require.NoError(t, clients.Access.GrantAccess(ctx, 42, "VPN"))
	ref, err := clients.Payroll.SettleFinalPay(ctx, 42, "2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, "SETTLEMENT-42-2024-06-01", ref)
	require.NoError(t, clients.Compliance.CreateTask(ctx, 42, "T1", "Training", "2024-07-01"))
}
