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
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process, append-only Store with a hash chain.
// It is used in tests and single-instance deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	records  []Record
	ids      map[string]struct{}
	lastHash string
	seq      int64
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ids: make(map[string]struct{}),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Append stores r at the end of the chain. Appending a record whose ID is
// already present is a no-op.
func (s *MemoryStore) Append(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prepared, err := r.Prepare(s.now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[prepared.ID]; exists {
		return nil
	}
	s.seq++
	prepared.Sequence = s.seq
	prepared.PrevHash = s.lastHash
	prepared.Hash = ComputeHash(prepared)

	s.records = append(s.records, prepared)
	s.ids[prepared.ID] = struct{}{}
	s.lastHash = prepared.Hash
	return nil
}

// Query returns copies of the matching records ordered by timestamp.
func (s *MemoryStore) Query(ctx context.Context, f Filter) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]Record, 0)
	for _, r := range s.records {
		if f.Matches(r) {
			out = append(out, r.clone())
		}
	}
	s.mu.RUnlock()

	sortRecords(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Name returns the store identifier.
func (s *MemoryStore) Name() string {
	return "memory"
}

func sortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Timestamp.Before(records[j].Timestamp)
		}
		return records[i].Sequence < records[j].Sequence
	})
}
