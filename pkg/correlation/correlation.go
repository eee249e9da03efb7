// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package correlation

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Header is the HTTP header used to pass a correlation ID across process boundaries.
const Header = "X-Correlation-ID"

// FieldKey is the structured log key for correlation IDs.
const FieldKey = "correlation_id"

type contextKey struct{}

// New returns a fresh, time-ordered, globally unique correlation ID.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source fails; fall back to v4.
		return uuid.NewString()
	}
	return id.String()
}

// Valid reports whether id parses as a UUID.
func Valid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// WithID returns a context carrying the correlation ID.
func WithID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the correlation ID stored in ctx, if any.
func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

// Ensure reuses the correlation ID carried by ctx or mints a new one.
// The returned context always carries the returned ID.
func Ensure(ctx context.Context) (context.Context, string) {
	if id, ok := FromContext(ctx); ok {
		return ctx, id
	}
	id := New()
	return WithID(ctx, id), id
}

// Field returns a zap field for the correlation ID.
func Field(id string) zap.Field {
	return zap.String(FieldKey, id)
}

// Logger returns logger annotated with the correlation ID found in ctx.
func Logger(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if id, ok := FromContext(ctx); ok {
		return logger.With(Field(id))
	}
	return logger
}
