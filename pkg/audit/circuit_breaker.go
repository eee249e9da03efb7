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
	"time"

	"go.uber.org/zap"

	"github.com/telekom/integration-hub/pkg/metrics"
)

// BreakerState is the state of a sink's circuit breaker.
type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit. Default: 5
	FailureThreshold int
	// SuccessThreshold consecutive half-open successes close it again. Default: 2
	SuccessThreshold int
	// OpenTimeout is how long the circuit stays open before probing. Default: 30s
	OpenTimeout time.Duration
}

// DefaultBreakerConfig returns the defaults used for mirror sinks.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = d.OpenTimeout
	}
	return c
}

// ErrCircuitOpen is returned while a sink's circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker stops calling a sink that keeps failing and probes it again
// after OpenTimeout. Only one probe is in flight while half-open.
type CircuitBreaker struct {
	name   string
	cfg    BreakerConfig
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	state     BreakerState
	fails     int
	successes int
	probing   bool
	openedAt  time.Time
	lastError error
}

// NewCircuitBreaker creates a closed breaker for the named sink.
func NewCircuitBreaker(name string, cfg BreakerConfig, logger *zap.Logger) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:   name,
		cfg:    cfg.withDefaults(),
		logger: logger.Named("circuit-breaker").With(zap.String("sink", name)),
		now:    time.Now,
	}
	metrics.AuditCircuitBreakerState.WithLabelValues(name).Set(float64(BreakerClosed))
	return cb
}

// Execute runs fn unless the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.allow() {
		metrics.AuditCircuitBreakerRejections.WithLabelValues(cb.name).Inc()
		return ErrCircuitOpen
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.OpenTimeout {
			return false
		}
		cb.setState(BreakerHalfOpen)
		cb.probing = true
		return true
	default:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false
	if err != nil {
		cb.lastError = err
		cb.successes = 0
		cb.fails++
		if cb.state == BreakerHalfOpen || cb.fails >= cb.cfg.FailureThreshold {
			cb.setState(BreakerOpen)
		}
		return
	}

	cb.fails = 0
	if cb.state == BreakerHalfOpen {
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.setState(BreakerClosed)
		}
	}
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(to BreakerState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.fails = 0
	cb.successes = 0
	if to == BreakerOpen {
		cb.openedAt = cb.now()
	}
	metrics.AuditCircuitBreakerState.WithLabelValues(cb.name).Set(float64(to))
	cb.logger.Info("circuit breaker state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// LastError returns the most recent failure seen by the breaker.
func (cb *CircuitBreaker) LastError() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.lastError
}

// BreakerSink guards a Sink with a CircuitBreaker.
type BreakerSink struct {
	sink    Sink
	breaker *CircuitBreaker
}

// NewBreakerSink wraps sink with a circuit breaker.
func NewBreakerSink(sink Sink, cfg BreakerConfig, logger *zap.Logger) *BreakerSink {
	return &BreakerSink{
		sink:    sink,
		breaker: NewCircuitBreaker(sink.Name(), cfg, logger),
	}
}

func (s *BreakerSink) Write(ctx context.Context, record *Record) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.sink.Write(ctx, record)
	})
}

func (s *BreakerSink) Close() error {
	return s.sink.Close()
}

func (s *BreakerSink) Name() string {
	return s.sink.Name()
}

// Breaker exposes the breaker for health reporting.
func (s *BreakerSink) Breaker() *CircuitBreaker {
	return s.breaker
}
