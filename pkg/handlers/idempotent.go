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
	"fmt"

	"go.uber.org/zap"

	"github.com/telekom/integration-hub/pkg/bus"
	"github.com/telekom/integration-hub/pkg/correlation"
	"github.com/telekom/integration-hub/pkg/dedup"
	"github.com/telekom/integration-hub/pkg/event"
	"github.com/telekom/integration-hub/pkg/metrics"
)

// Idempotent runs fn at most once per (handlerID, event ID). Repeats
// return bus.ErrAlreadyProcessed; a concurrent delivery of the same pair
// fails with a transient error so the retry manager tries again later.
func Idempotent[P event.Payload](store dedup.Store, cfg dedup.Config, handlerID string, logger *zap.Logger, fn bus.TypedHandler[P]) bus.TypedHandler[P] {
	return func(ctx context.Context, evt event.DomainEvent, payload P) (bus.Result, error) {
		key := dedup.Key(handlerID, evt.ID)
		status, err := store.Claim(ctx, key, cfg.ClaimTTL)
		if err != nil {
			metrics.DedupClaims.WithLabelValues(handlerID, "error").Inc()
			return bus.Result{}, fmt.Errorf("claim delivery: %w", err)
		}
		metrics.DedupClaims.WithLabelValues(handlerID, status.String()).Inc()

		switch status {
		case dedup.Completed:
			return bus.Result{}, bus.ErrAlreadyProcessed
		case dedup.InProgress:
			return bus.Result{}, fmt.Errorf("delivery of event %s to %s is already in progress", evt.ID, handlerID)
		}

		log := correlation.Logger(ctx, logger).With(
			zap.String("handler_id", handlerID),
			zap.String("event_id", evt.ID))

		release := func() {
			if rerr := store.Release(context.WithoutCancel(ctx), key); rerr != nil {
				log.Warn("failed to release dedup claim", zap.Error(rerr))
			}
		}
		// A panicking handler must not hold the claim until ClaimTTL.
		defer func() {
			if r := recover(); r != nil {
				release()
				panic(r)
			}
		}()

		// fn sees the bus handler timeout through ctx; a client that honors
		// it returns an error here and the claim is released for the retry.
		res, err := fn(ctx, evt, payload)
		if err != nil {
			release()
			return res, err
		}
		if cerr := store.Complete(context.WithoutCancel(ctx), key, cfg.DoneTTL); cerr != nil {
			// The claim lapses after ClaimTTL; module clients tolerate a repeat.
			log.Warn("failed to mark delivery completed", zap.Error(cerr))
		}
		return res, nil
	}
}
