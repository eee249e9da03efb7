//go:build integration

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
	"github.com/telekom/integration-hub/pkg/testutil/containers"
)

func TestPostgresDeadLetterStore_Integration(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	ctx := context.Background()

	s := NewPostgresDeadLetterStore(pg.DB)
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx))

	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	first := deadLetter("a", "assets", event.EmployeeOffboarded, "c1", base)
	first.Event.Payload = []byte(`{"employeeId":42}`)
	require.NoError(t, s.Add(ctx, deadLetter("b", "security", event.EmployeeOffboarded, "c1", base.Add(time.Minute))))
	require.NoError(t, s.Add(ctx, first))
	require.NoError(t, s.Add(ctx, first), "duplicate id is ignored")

	all, err := s.List(ctx, DeadLetterFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, first.Event.ID, all[0].Event.ID)
	assert.JSONEq(t, `{"employeeId":42}`, string(all[0].Event.Payload))
	assert.Nil(t, all[0].ReplayedAt)

	require.NoError(t, s.MarkReplayed(ctx, "a", base.Add(time.Hour)))
	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReplayCount)
	require.NotNil(t, got.ReplayedAt)
	assert.True(t, base.Add(time.Hour).Equal(*got.ReplayedAt))

	unreplayed, err := s.List(ctx, DeadLetterFilter{Unreplayed: true})
	require.NoError(t, err)
	require.Len(t, unreplayed, 1)
	assert.Equal(t, "b", unreplayed[0].ID)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrDeadLetterNotFound)
	assert.ErrorIs(t, s.MarkReplayed(ctx, "missing", base), ErrDeadLetterNotFound)
}
