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
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/integration-hub/pkg/metrics"
)

// QueueConfig configures the per-sink mirror queue.
type QueueConfig struct {
	// QueueSize is the buffered capacity of each sink queue. Default: 1000
	QueueSize int
	// Workers is the number of writers per sink. Default: 1
	Workers int
	// WriteTimeout bounds a single sink write. Default: 5s
	WriteTimeout time.Duration
	// Breaker configures the circuit breaker in front of each sink.
	Breaker BreakerConfig
}

// DefaultQueueConfig returns the defaults for mirror queues.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		QueueSize:    1000,
		Workers:      1,
		WriteTimeout: 5 * time.Second,
		Breaker:      DefaultBreakerConfig(),
	}
}

func (c QueueConfig) withDefaults() QueueConfig {
	d := DefaultQueueConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	c.Breaker = c.Breaker.withDefaults()
	return c
}

// SinkHealth is the health snapshot of one mirror sink.
type SinkHealth struct {
	Name          string `json:"name"`
	Healthy       bool   `json:"healthy"`
	Circuit       string `json:"circuit"`
	QueueLength   int    `json:"queueLength"`
	QueueCapacity int    `json:"queueCapacity"`
	Dropped       int64  `json:"dropped"`
	Processed     int64  `json:"processed"`
	Failed        int64  `json:"failed"`
	LastError     string `json:"lastError,omitempty"`
}

// QueuedSink gives a sink its own bounded queue and workers so that a slow or
// failing sink never blocks the appender or other sinks. Records that do not
// fit are dropped and counted.
type QueuedSink struct {
	sink   *BreakerSink
	queue  chan *Record
	cfg    QueueConfig
	logger *zap.Logger

	dropped   atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64

	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewQueuedSink starts the workers for sink.
func NewQueuedSink(sink Sink, cfg QueueConfig, logger *zap.Logger) *QueuedSink {
	cfg = cfg.withDefaults()
	qs := &QueuedSink{
		sink:   NewBreakerSink(sink, cfg.Breaker, logger),
		queue:  make(chan *Record, cfg.QueueSize),
		cfg:    cfg,
		logger: logger.Named("queued-sink").With(zap.String("sink", sink.Name())),
	}
	for i := 0; i < cfg.Workers; i++ {
		qs.wg.Add(1)
		go qs.run()
	}
	return qs
}

// Write enqueues record without blocking.
func (qs *QueuedSink) Write(_ context.Context, record *Record) error {
	qs.mu.RLock()
	defer qs.mu.RUnlock()
	if qs.closed {
		qs.drop("closed")
		return nil
	}

	select {
	case qs.queue <- record:
	default:
		qs.drop("queue_full")
		qs.logger.Warn("audit mirror queue full, dropping record",
			zap.String("record_id", record.ID),
			zap.String("action", record.Action))
	}
	return nil
}

func (qs *QueuedSink) drop(reason string) {
	qs.dropped.Add(1)
	metrics.AuditEventsDropped.WithLabelValues(qs.sink.Name(), reason).Inc()
}

func (qs *QueuedSink) run() {
	defer qs.wg.Done()

	for record := range qs.queue {
		ctx, cancel := context.WithTimeout(context.Background(), qs.cfg.WriteTimeout)
		start := time.Now()
		err := qs.sink.Write(ctx, record)
		cancel()
		metrics.AuditSinkLatency.WithLabelValues(qs.sink.Name()).Observe(time.Since(start).Seconds())

		switch {
		case errors.Is(err, ErrCircuitOpen):
			qs.drop("circuit_open")
		case err != nil:
			qs.failed.Add(1)
			metrics.AuditSinkErrors.WithLabelValues(qs.sink.Name(), "write").Inc()
			qs.logger.Error("failed to mirror audit record",
				zap.String("record_id", record.ID),
				zap.String("correlation_id", record.CorrelationID),
				zap.Error(err))
		default:
			qs.processed.Add(1)
			metrics.AuditEventsProcessed.WithLabelValues(qs.sink.Name()).Inc()
		}
	}
}

// Close drains the queue and closes the sink.
func (qs *QueuedSink) Close() error {
	var err error
	qs.closeOnce.Do(func() {
		qs.mu.Lock()
		qs.closed = true
		close(qs.queue)
		qs.mu.Unlock()

		qs.wg.Wait()
		err = qs.sink.Close()
	})
	return err
}

func (qs *QueuedSink) Name() string {
	return qs.sink.Name()
}

// Health reports queue and breaker state.
func (qs *QueuedSink) Health() SinkHealth {
	breaker := qs.sink.Breaker()
	state := breaker.State()
	h := SinkHealth{
		Name:          qs.sink.Name(),
		Circuit:       state.String(),
		QueueLength:   len(qs.queue),
		QueueCapacity: cap(qs.queue),
		Dropped:       qs.dropped.Load(),
		Processed:     qs.processed.Load(),
		Failed:        qs.failed.Load(),
	}
	if err := breaker.LastError(); err != nil {
		h.LastError = err.Error()
	}
	h.Healthy = state == BreakerClosed && h.QueueLength*5 < h.QueueCapacity*4
	return h
}

// Fanout mirrors each record to every configured sink through its own queue.
type Fanout struct {
	sinks []*QueuedSink
}

// NewFanout wraps each sink in a QueuedSink.
func NewFanout(sinks []Sink, cfg QueueConfig, logger *zap.Logger) *Fanout {
	f := &Fanout{sinks: make([]*QueuedSink, 0, len(sinks))}
	for _, s := range sinks {
		f.sinks = append(f.sinks, NewQueuedSink(s, cfg, logger))
	}
	return f
}

func (f *Fanout) Write(ctx context.Context, record *Record) error {
	for _, qs := range f.sinks {
		_ = qs.Write(ctx, record)
	}
	return nil
}

func (f *Fanout) Close() error {
	var errs []error
	for _, qs := range f.sinks {
		if err := qs.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) Name() string {
	return "fanout"
}

// Health returns one entry per sink.
func (f *Fanout) Health() []SinkHealth {
	out := make([]SinkHealth, 0, len(f.sinks))
	for _, qs := range f.sinks {
		out = append(out, qs.Health())
	}
	return out
}
