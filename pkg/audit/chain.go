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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ComputeHash returns the chain hash of r, covering its content and PrevHash.
func ComputeHash(r Record) string {
	changes, err := json.Marshal(r.Changes)
	if err != nil {
		changes = []byte(fmt.Sprintf("%v", r.Changes))
	}
	payload := strings.Join([]string{
		r.PrevHash,
		r.ID,
		r.CorrelationID,
		r.Module,
		r.Action,
		r.ResourceType,
		r.ResourceID,
		r.UserID,
		string(r.Status),
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.EventID,
		r.HandlerID,
		r.Error,
		string(changes),
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// VerifyRecords checks that every record's hash matches its content.
// Use it on filtered subsets where chain links cannot be followed.
func VerifyRecords(records []Record) error {
	for _, r := range records {
		if r.Hash != ComputeHash(r) {
			return fmt.Errorf("%w: record %s (sequence %d) was modified", ErrChainBroken, r.ID, r.Sequence)
		}
	}
	return nil
}

// VerifyChain checks content hashes and that each record links to its
// predecessor in append order. records must be the complete trail.
func VerifyChain(records []Record) error {
	ordered := append([]Record(nil), records...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Sequence < ordered[j].Sequence
	})

	prev := ""
	for _, r := range ordered {
		if r.PrevHash != prev {
			return fmt.Errorf("%w: record %s (sequence %d) does not link to its predecessor", ErrChainBroken, r.ID, r.Sequence)
		}
		if r.Hash != ComputeHash(r) {
			return fmt.Errorf("%w: record %s (sequence %d) was modified", ErrChainBroken, r.ID, r.Sequence)
		}
		prev = r.Hash
	}
	return nil
}
