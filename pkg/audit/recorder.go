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
	"time"

	"go.uber.org/zap"

	"github.com/telekom/integration-hub/pkg/metrics"
	"github.com/telekom/integration-hub/pkg/utils"
)

// ErrRecorderClosed is returned by Record after Close.
var ErrRecorderClosed = errors.New("audit recorder is closed")

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// AppendRetry bounds retries of transient store failures.
	AppendRetry utils.RetryConfig
	// Queue configures the mirror queue of each sink.
	Queue QueueConfig
}

// DefaultRecorderConfig returns the default recorder configuration.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		AppendRetry: utils.DefaultRetryConfig(),
		Queue:       DefaultQueueConfig(),
	}
}

// Recorder is the single write path into the audit trail. Each record is
// appended synchronously to the Store; once durable, a copy is mirrored to
// the configured sinks without blocking the caller.
type Recorder struct {
	store  Store
	mirror *Fanout
	cfg    RecorderConfig
	logger *zap.Logger
	closed atomic.Bool
}

// NewRecorder creates a Recorder over store. sinks may be empty.
func NewRecorder(store Store, sinks []Sink, cfg RecorderConfig, logger *zap.Logger) *Recorder {
	r := &Recorder{
		store:  store,
		cfg:    cfg,
		logger: logger.Named("audit-recorder"),
	}
	if len(sinks) > 0 {
		r.mirror = NewFanout(sinks, cfg.Queue, logger)
	}

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	r.logger.Info("audit recorder started",
		zap.String("store", store.Name()),
		zap.Strings("sinks", names))
	return r
}

// Record validates and durably appends rec. Invalid records are rejected
// without retry.
func (r *Recorder) Record(ctx context.Context, rec Record) error {
	if r.closed.Load() {
		return ErrRecorderClosed
	}

	prepared, err := rec.Prepare(time.Now().UTC())
	if err != nil {
		metrics.AuditAppends.WithLabelValues(r.store.Name(), "invalid").Inc()
		return err
	}

	err = utils.Retry(ctx, r.cfg.AppendRetry, func(ctx context.Context) error {
		return r.store.Append(ctx, prepared)
	})
	if err != nil {
		metrics.AuditAppends.WithLabelValues(r.store.Name(), "error").Inc()
		r.logger.Error("failed to append audit record",
			zap.String("correlation_id", prepared.CorrelationID),
			zap.String("action", prepared.Action),
			zap.String("record_id", prepared.ID),
			zap.Error(err))
		return err
	}
	metrics.AuditAppends.WithLabelValues(r.store.Name(), "success").Inc()

	if r.mirror != nil {
		_ = r.mirror.Write(ctx, &prepared)
	}
	return nil
}

// Query reads from the underlying store.
func (r *Recorder) Query(ctx context.Context, f Filter) ([]Record, error) {
	return r.store.Query(ctx, f)
}

// Verify checks the hash chain. With an empty filter the full trail is
// verified including links; otherwise only record contents are checked.
func (r *Recorder) Verify(ctx context.Context, f Filter) (int, error) {
	records, err := r.store.Query(ctx, f)
	if err != nil {
		return 0, err
	}
	if f == (Filter{}) {
		return len(records), VerifyChain(records)
	}
	return len(records), VerifyRecords(records)
}

// SinkHealth reports the state of every mirror sink.
func (r *Recorder) SinkHealth() []SinkHealth {
	if r.mirror == nil {
		return []SinkHealth{}
	}
	return r.mirror.Health()
}

// Close drains the mirror queues. The store is owned by the caller.
func (r *Recorder) Close(ctx context.Context) error {
	if r.closed.Swap(true) || r.mirror == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- r.mirror.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		r.logger.Warn("audit mirror drain interrupted", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}
