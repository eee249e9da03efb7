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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/integration-hub/pkg/utils"
)

// flakyStore fails the first n appends.
type flakyStore struct {
	*MemoryStore
	failures atomic.Int32
	calls    atomic.Int32
}

func (s *flakyStore) Append(ctx context.Context, r Record) error {
	s.calls.Add(1)
	if s.failures.Add(-1) >= 0 {
		return errors.New("connection reset")
	}
	return s.MemoryStore.Append(ctx, r)
}

func fastRecorderConfig() RecorderConfig {
	cfg := DefaultRecorderConfig()
	cfg.AppendRetry = utils.RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1}
	return cfg
}

func TestRecorder_RetriesTransientAppendFailures(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	store.failures.Store(2)
	rec := NewRecorder(store, nil, fastRecorderConfig(), zaptest.NewLogger(t))

	require.NoError(t, rec.Record(context.Background(), newRecord("c1", "HR", "X", StatusSuccess)))
	assert.Equal(t, int32(3), store.calls.Load())
	assert.Equal(t, 1, store.Len())
}

func TestRecorder_RetriesReuseRecordID(t *testing.T) {
	// A failed attempt may have committed; the retry must not create a second record.
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	rec := NewRecorder(store, nil, fastRecorderConfig(), zaptest.NewLogger(t))

	r := newRecord("c1", "HR", "X", StatusSuccess)
	r.ID = "fixed-id"
	require.NoError(t, rec.Record(context.Background(), r))
	require.NoError(t, rec.Record(context.Background(), r))
	assert.Equal(t, 1, store.Len())
}

func TestRecorder_GivesUpAfterRetries(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	store.failures.Store(100)
	rec := NewRecorder(store, nil, fastRecorderConfig(), zaptest.NewLogger(t))

	err := rec.Record(context.Background(), newRecord("c1", "HR", "X", StatusSuccess))
	require.EqualError(t, err, "connection reset")
	assert.Equal(t, int32(3), store.calls.Load())
}

func TestRecorder_InvalidRecordNotRetried(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	rec := NewRecorder(store, nil, fastRecorderConfig(), zaptest.NewLogger(t))

	err := rec.Record(context.Background(), Record{Module: "HR", Status: StatusSuccess})
	require.ErrorIs(t, err, ErrInvalidRecord)
	assert.Equal(t, int32(0), store.calls.Load())
}

func TestRecorder_MirrorsAfterAppend(t *testing.T) {
	store := NewMemoryStore()
	mirror := &recordingSink{name: "mirror"}
	rec := NewRecorder(store, []Sink{mirror}, fastRecorderConfig(), zaptest.NewLogger(t))

	require.NoError(t, rec.Record(context.Background(), newRecord("c1", "HR", "X", StatusSuccess)))
	require.NoError(t, rec.Close(context.Background()))

	require.Equal(t, 1, mirror.count())
	stored, err := rec.Query(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, stored[0].ID, mirror.records[0].ID)

	require.ErrorIs(t, rec.Record(context.Background(), newRecord("c1", "HR", "X", StatusSuccess)), ErrRecorderClosed)
	assert.Len(t, rec.SinkHealth(), 1)
}

func TestRecorder_Verify(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, nil, fastRecorderConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, rec.Record(ctx, newRecord("c1", "HR", "A", StatusSuccess)))
	require.NoError(t, rec.Record(ctx, newRecord("c2", "HR", "B", StatusSuccess)))
	require.NoError(t, rec.Record(ctx, newRecord("c1", "HR", "C", StatusFailed)))

	n, err := rec.Verify(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = rec.Verify(ctx, Filter{CorrelationID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Empty(t, rec.SinkHealth())
}
