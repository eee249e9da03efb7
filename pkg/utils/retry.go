// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// RetryConfig defines the configuration for retry operations
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (0 means no retries)
	MaxRetries int
	// InitialBackoff is the initial backoff duration before the first retry
	InitialBackoff time.Duration
	// MaxBackoff is the maximum backoff duration between retries
	MaxBackoff time.Duration
	// BackoffMultiplier is the factor by which backoff is multiplied after each retry
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the configuration used for short, in-line retries
// such as audit appends.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Backoff returns the delay before retry n (1-based):
// InitialBackoff * BackoffMultiplier^(n-1), capped at MaxBackoff.
func (c RetryConfig) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	mult := c.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(c.InitialBackoff)
	for i := 1; i < n; i++ {
		d *= mult
		if c.MaxBackoff > 0 && d >= float64(c.MaxBackoff) {
			return c.MaxBackoff
		}
	}
	if c.MaxBackoff > 0 && time.Duration(d) > c.MaxBackoff {
		return c.MaxBackoff
	}
	return time.Duration(d)
}

// ErrPermanent marks an error that must not be retried.
var ErrPermanent = errors.New("permanent error")

// Permanent wraps err so that Retry stops immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() []error { return []error{e.err, ErrPermanent} }

// Retry calls fn until it succeeds, returns a Permanent error, the retries are
// exhausted or ctx is done. The last error is returned.
func Retry(ctx context.Context, config RetryConfig, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if errors.Is(err, ErrPermanent) || attempt >= config.MaxRetries {
			return err
		}

		backoff := config.Backoff(attempt + 1)
		zap.S().Debugw("Operation failed, retrying",
			"attempt", attempt+1,
			"maxRetries", config.MaxRetries,
			"backoff", backoff.String(),
			"error", err.Error(),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}
