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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(corr, module, action string, status Status) Record {
	return Record{
		CorrelationID: corr,
		Module:        module,
		Action:        action,
		ResourceType:  "employee",
		ResourceID:    "42",
		UserID:        "7",
		Status:        status,
	}
}

func TestRecordPrepare(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 123456789, time.UTC)

	t.Run("fills assigned fields", func(t *testing.T) {
		r, err := newRecord("c1", "HR", "OFFBOARDING_INITIATED", StatusSuccess).Prepare(now)
		require.NoError(t, err)
		assert.NotEmpty(t, r.ID)
		assert.Equal(t, now.Truncate(time.Microsecond), r.Timestamp)
		assert.NotNil(t, r.Changes)
		assert.Empty(t, r.Changes)
	})

	t.Run("keeps caller timestamp and id", func(t *testing.T) {
		in := newRecord("c1", "HR", "X", StatusPending)
		in.ID = "fixed"
		in.Timestamp = now.Add(-time.Hour)
		r, err := in.Prepare(now)
		require.NoError(t, err)
		assert.Equal(t, "fixed", r.ID)
		assert.Equal(t, now.Add(-time.Hour).Truncate(time.Microsecond), r.Timestamp)
	})

	tests := []struct {
		name    string
		mutate  func(*Record)
		wantErr string
	}{
		{"missing correlation", func(r *Record) { r.CorrelationID = "" }, "correlationId"},
		{"missing action", func(r *Record) { r.Action = "" }, "action"},
		{"missing module", func(r *Record) { r.Module = "" }, "module"},
		{"bad status", func(r *Record) { r.Status = "done" }, "status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRecord("c1", "HR", "X", StatusSuccess)
			tt.mutate(&r)
			_, err := r.Prepare(now)
			require.ErrorIs(t, err, ErrInvalidRecord)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFilterMatches(t *testing.T) {
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	r := newRecord("c1", "ASSETS", "ASSET_RECLAIMED", StatusSuccess)
	r.Timestamp = ts
	r.EventID = "e1"
	r.HandlerID = "assets"

	assert.True(t, Filter{}.Matches(r))
	assert.True(t, Filter{CorrelationID: "c1", Module: "ASSETS", ResourceID: "42", Status: StatusSuccess}.Matches(r))
	assert.True(t, Filter{EventID: "e1", HandlerID: "assets", Action: "ASSET_RECLAIMED"}.Matches(r))
	assert.False(t, Filter{CorrelationID: "c2"}.Matches(r))
	assert.False(t, Filter{Status: StatusFailed}.Matches(r))
	assert.False(t, Filter{HandlerID: "security"}.Matches(r))

	assert.True(t, Filter{From: ts}.Matches(r), "from is inclusive")
	assert.False(t, Filter{To: ts}.Matches(r), "to is exclusive")
	assert.True(t, Filter{From: ts.Add(-time.Minute), To: ts.Add(time.Minute)}.Matches(r))
	assert.False(t, Filter{From: ts.Add(time.Second)}.Matches(r))
}

func TestMemoryStore_AppendAndQuery(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	// Appended out of timestamp order on purpose.
	late := newRecord("c1", "SECURITY", "ACCESS_REVOKED", StatusSuccess)
	late.Timestamp = base.Add(2 * time.Second)
	early := newRecord("c1", "HR", "OFFBOARDING_INITIATED", StatusSuccess)
	early.Timestamp = base
	other := newRecord("c2", "HR", "ONBOARDING_INITIATED", StatusFailed)
	other.Timestamp = base.Add(time.Second)

	require.NoError(t, store.Append(ctx, late))
	require.NoError(t, store.Append(ctx, early))
	require.NoError(t, store.Append(ctx, other))
	assert.Equal(t, 3, store.Len())

	got, err := store.Query(ctx, Filter{CorrelationID: "c1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "OFFBOARDING_INITIATED", got[0].Action)
	assert.Equal(t, "ACCESS_REVOKED", got[1].Action)

	failed, err := store.Query(ctx, Filter{Status: StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "c2", failed[0].CorrelationID)

	limited, err := store.Query(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "OFFBOARDING_INITIATED", limited[0].Action)

	none, err := store.Query(ctx, Filter{CorrelationID: "missing"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestMemoryStore_SameTimestampKeepsAppendOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	ts := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r := newRecord("c1", "HR", fmt.Sprintf("STEP_%d", i), StatusSuccess)
		r.Timestamp = ts
		require.NoError(t, store.Append(ctx, r))
	}

	got, err := store.Query(ctx, Filter{CorrelationID: "c1"})
	require.NoError(t, err)
	for i, r := range got {
		assert.Equal(t, fmt.Sprintf("STEP_%d", i), r.Action)
	}
}

func TestMemoryStore_DuplicateIDIsIgnored(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := newRecord("c1", "HR", "X", StatusSuccess)
	r.ID = "dup"

	require.NoError(t, store.Append(ctx, r))
	require.NoError(t, store.Append(ctx, r))
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_QueryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := newRecord("c1", "HR", "X", StatusSuccess)
	r.Changes = []Change{{Field: "status", OldValue: "active", NewValue: "offboarding"}}
	require.NoError(t, store.Append(ctx, r))

	got, err := store.Query(ctx, Filter{})
	require.NoError(t, err)
	got[0].Action = "TAMPERED"
	got[0].Changes[0].NewValue = "tampered"

	again, err := store.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, "X", again[0].Action)
	assert.Equal(t, "offboarding", again[0].Changes[0].NewValue)
	require.NoError(t, VerifyChain(again))
}

func TestMemoryStore_RejectsInvalidAndCancelled(t *testing.T) {
	store := NewMemoryStore()
	err := store.Append(context.Background(), Record{Action: "X"})
	require.ErrorIs(t, err, ErrInvalidRecord)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, store.Append(ctx, newRecord("c1", "HR", "X", StatusSuccess)), context.Canceled)
	_, err = store.Query(ctx, Filter{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_ConcurrentAppendsKeepChain(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = store.Append(ctx, newRecord(fmt.Sprintf("c%d", i), "HR", "X", StatusSuccess))
			}
		}(i)
	}
	wg.Wait()

	all, err := store.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 200)
	require.NoError(t, VerifyChain(all))
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Append(ctx, newRecord("c1", "HR", fmt.Sprintf("A%d", i), StatusSuccess)))
	}
	records, err := store.Query(ctx, Filter{})
	require.NoError(t, err)
	require.NoError(t, VerifyChain(records))
	require.NoError(t, VerifyRecords(records))

	t.Run("modified content", func(t *testing.T) {
		tampered := append([]Record(nil), records...)
		tampered[1].Status = StatusFailed
		require.ErrorIs(t, VerifyChain(tampered), ErrChainBroken)
		require.ErrorIs(t, VerifyRecords(tampered), ErrChainBroken)
	})

	t.Run("removed record", func(t *testing.T) {
		gap := []Record{records[0], records[2]}
		require.ErrorIs(t, VerifyChain(gap), ErrChainBroken)
		require.NoError(t, VerifyRecords(gap), "content of remaining records is intact")
	})
}

func TestComputeHash_DependsOnPrevHash(t *testing.T) {
	r, err := newRecord("c1", "HR", "X", StatusSuccess).Prepare(time.Now())
	require.NoError(t, err)
	h1 := ComputeHash(r)
	r.PrevHash = "abc"
	assert.NotEqual(t, h1, ComputeHash(r))
	assert.Len(t, h1, 64)
}
