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


package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	key := Key("assets.reclaim", "evt-1")
	st, err := s.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Claimed, st)

	st, err = s.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, InProgress, st)

	require.NoError(t, s.Release(ctx, key))
	st, err = s.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Claimed, st, "released keys can be claimed again")

	require.NoError(t, s.Complete(ctx, key, time.Hour))
	require.NoError(t, s.Release(ctx, key), "release never drops a completion")
	st, err = s.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Completed, st)

	now = now.Add(2 * time.Hour)
	st, err = s.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Claimed, st, "completion expires after doneTTL")
}

func TestMemoryStore_ExpiredClaimCanBeRetaken(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	_, err := s.Claim(ctx, "k", time.Second)
	require.NoError(t, err)
	now = now.Add(2 * time.Second)
	st, err := s.Claim(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.Equal(t, Claimed, st)
}

func TestMemoryStore_EmptyKeyAndCancellation(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Claim(context.Background(), "", time.Second)
	assert.ErrorIs(t, err, ErrEmptyKey)
	assert.ErrorIs(t, s.Complete(context.Background(), "", time.Second), ErrEmptyKey)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Claim(ctx, "k", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore_SingleWinner(t *testing.T) {
	s := NewMemoryStore()
	var winners atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := s.Claim(context.Background(), "k", time.Minute)
			if err == nil && st == Claimed {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, 1, s.Len())
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{ClaimTTL: 0, DoneTTL: time.Hour}.Validate())
	assert.Error(t, Config{ClaimTTL: time.Minute}.Validate())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "claimed", Claimed.String())
	assert.Equal(t, "in_progress", InProgress.String())
	assert.Equal(t, "completed", Completed.String())
	assert.Equal(t, "status(9)", Status(9).String())
}
