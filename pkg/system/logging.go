// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/telekom/integration-hub/pkg/correlation"
)

// ReqLoggerKey is the context key used to store request-scoped logger in gin context.
const ReqLoggerKey = "reqLogger"

// UserIDKey is the gin context key holding the acting user of a request.
const UserIDKey = "userId"

// NewLogger builds the process logger. Debug switches to the development
// encoder and level; stacktraces stay off below fatal in both modes.
func NewLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	return logger, nil
}

// GetReqLogger returns the request-scoped sugared logger from gin.Context if present,
// otherwise returns a fallback sugared logger derived from the provided zap.Logger.
func GetReqLogger(c *gin.Context, fallback *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return fallback
	}
	if v, ok := c.Get(ReqLoggerKey); ok {
		if l, ok2 := v.(*zap.SugaredLogger); ok2 {
			return l
		}
	}
	return fallback
}

// EnrichReqLogger annotates the request-scoped logger with the correlation ID
// carried by the request context and the acting user, when known.
func EnrichReqLogger(c *gin.Context, reqLogger *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil || reqLogger == nil {
		return reqLogger
	}
	if c.Request != nil {
		if id, ok := correlation.FromContext(c.Request.Context()); ok {
			reqLogger = reqLogger.With(correlation.FieldKey, id)
		}
	}
	if v, ok := c.Get(UserIDKey); ok {
		if user, ok2 := v.(string); ok2 && user != "" {
			reqLogger = reqLogger.With("user", user)
		}
	}
	return reqLogger
}

// EventFields returns key/value pairs for SugaredLogger.With identifying an
// event delivery. The handler key is omitted when handlerID is empty.
func EventFields(eventID, handlerID string) []interface{} {
	if handlerID == "" {
		return []interface{}{"event_id", eventID}
	}
	return []interface{}{"event_id", eventID, "handler_id", handlerID}
}
