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


// Package dedup remembers which (handler, event) deliveries were already
// processed so redelivered events do not repeat their side effects.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the result of a Claim.
type Status int

const (
	// Claimed means the caller now owns the key and must Complete or Release it.
	Claimed Status = iota
	// InProgress means another delivery holds the claim.
	InProgress
	// Completed means the key was already processed.
	Completed
)

func (s Status) String() string {
	switch s {
	case Claimed:
		return "claimed"
	case InProgress:
		return "in_progress"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ErrEmptyKey is returned for an empty dedup key.
var ErrEmptyKey = errors.New("dedup key is required")

// Store tracks processed deliveries.
type Store interface {
	// Claim marks key as in progress for claimTTL unless it is already
	// claimed or completed.
	Claim(ctx context.Context, key string, claimTTL time.Duration) (Status, error)
	// Complete marks key as processed for doneTTL.
	Complete(ctx context.Context, key string, doneTTL time.Duration) error
	// Release drops an in-progress claim so a later delivery can retry.
	Release(ctx context.Context, key string) error
}

// Config holds the claim and completion lifetimes.
type Config struct {
	// ClaimTTL must exceed the handler timeout so a slow handler keeps its claim.
	ClaimTTL time.Duration
	// DoneTTL is how long a processed key suppresses redeliveries.
	DoneTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		ClaimTTL: 5 * time.Minute,
		DoneTTL:  24 * time.Hour,
	}
}

func (c Config) Validate() error {
	if c.ClaimTTL <= 0 {
		return errors.New("dedup claimTTL must be positive")
	}
	if c.DoneTTL <= 0 {
		return errors.New("dedup doneTTL must be positive")
	}
	return nil
}

// Key builds the dedup key of one delivery.
func Key(handlerID, eventID string) string {
	return handlerID + ":" + eventID
}
