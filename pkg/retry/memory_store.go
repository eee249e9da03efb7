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
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryDeadLetterStore keeps dead letters in process memory.
type MemoryDeadLetterStore struct {
	mu    sync.RWMutex
	items map[string]DeadLetter
}

// NewMemoryDeadLetterStore creates an empty store.
func NewMemoryDeadLetterStore() *MemoryDeadLetterStore {
	return &MemoryDeadLetterStore{items: make(map[string]DeadLetter)}
}

func (s *MemoryDeadLetterStore) Add(ctx context.Context, dl DeadLetter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dl.ID == "" {
		return fmt.Errorf("dead letter id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[dl.ID]; exists {
		return nil
	}
	s.items[dl.ID] = dl
	return nil
}

func (s *MemoryDeadLetterStore) Get(ctx context.Context, id string) (DeadLetter, error) {
	if err := ctx.Err(); err != nil {
		return DeadLetter{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	dl, ok := s.items[id]
	if !ok {
		return DeadLetter{}, fmt.Errorf("%w: %s", ErrDeadLetterNotFound, id)
	}
	return dl, nil
}

func (s *MemoryDeadLetterStore) List(ctx context.Context, f DeadLetterFilter) ([]DeadLetter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]DeadLetter, 0, len(s.items))
	for _, dl := range s.items {
		if f.Matches(dl) {
			out = append(out, dl)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryDeadLetterStore) MarkReplayed(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dl, ok := s.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeadLetterNotFound, id)
	}
	dl.ReplayCount++
	at = at.UTC()
	dl.ReplayedAt = &at
	s.items[id] = dl
	return nil
}
