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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/integration-hub/pkg/event"
)

func deadLetter(id, handler string, t event.Type, corr string, created time.Time) DeadLetter {
	return DeadLetter{
		ID:        id,
		Event:     event.NewRaw(t, nil, corr, event.ModuleHR),
		HandlerID: handler,
		Attempts:  5,
		LastError: "boom",
		CreatedAt: created,
	}
}

func TestMemoryDeadLetterStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDeadLetterStore()
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Add(ctx, deadLetter("b", "assets", event.EmployeeOffboarded, "c1", base.Add(time.Minute))))
	require.NoError(t, s.Add(ctx, deadLetter("a", "security", event.EmployeeOffboarded, "c1", base)))
	require.NoError(t, s.Add(ctx, deadLetter("c", "finance", event.EmployeeOnboarded, "c2", base.Add(2*time.Minute))))
	require.NoError(t, s.Add(ctx, deadLetter("a", "other", event.EmployeeOnboarded, "c9", base)), "duplicate id is ignored")
	assert.Error(t, s.Add(ctx, DeadLetter{}))

	all, err := s.List(ctx, DeadLetterFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].ID, all[1].ID, all[2].ID})
	assert.Equal(t, "security", all[0].HandlerID)

	byCorr, err := s.List(ctx, DeadLetterFilter{CorrelationID: "c1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, byCorr, 1)
	assert.Equal(t, "a", byCorr[0].ID)

	byType, err := s.List(ctx, DeadLetterFilter{EventType: event.EmployeeOnboarded})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "finance", byType[0].HandlerID)

	require.NoError(t, s.MarkReplayed(ctx, "b", base.Add(time.Hour)))
	got, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReplayCount)
	require.NotNil(t, got.ReplayedAt)
	assert.Equal(t, base.Add(time.Hour), *got.ReplayedAt)

	unreplayed, err := s.List(ctx, DeadLetterFilter{Unreplayed: true})
	require.NoError(t, err)
	assert.Len(t, unreplayed, 2)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrDeadLetterNotFound)
	assert.ErrorIs(t, s.MarkReplayed(ctx, "missing", base), ErrDeadLetterNotFound)
}

func TestMemoryDeadLetterStore_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryDeadLetterStore()
	assert.ErrorIs(t, s.Add(ctx, deadLetter("a", "h", event.EmployeeOffboarded, "c", time.Now())), context.Canceled)
	_, err := s.List(ctx, DeadLetterFilter{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildDeadLetterQuery(t *testing.T) {
	q, args := buildDeadLetterQuery(DeadLetterFilter{})
	assert.NotContains(t, q, "WHERE")
	assert.Contains(t, q, "ORDER BY created_at ASC, id ASC")
	assert.Empty(t, args)

	q, args = buildDeadLetterQuery(DeadLetterFilter{
		HandlerID:     "assets",
		EventType:     event.EmployeeOffboarded,
		CorrelationID: "c1",
		Unreplayed:    true,
		Limit:         20,
	})
	assert.Contains(t, q, "handler_id = $1 AND event_type = $2 AND correlation_id = $3 AND replay_count = 0")
	assert.Contains(t, q, "LIMIT $4")
	assert.Equal(t, []any{"assets", "employee.offboarded", "c1", 20}, args)
}
