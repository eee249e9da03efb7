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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sink receives a copy of every record after it has been durably appended.
// Sinks mirror the trail to external systems; they are never the source of truth.
type Sink interface {
	// Write sends a record to the sink.
	Write(ctx context.Context, record *Record) error

	// Close releases any resources held by the sink.
	Close() error

	// Name returns the sink's identifier.
	Name() string
}

// LogSink writes audit records to a structured logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a new LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

// Write logs the audit record.
func (s *LogSink) Write(_ context.Context, record *Record) error {
	fields := []zap.Field{
		zap.String("record_id", record.ID),
		zap.String("correlation_id", record.CorrelationID),
		zap.String("module", record.Module),
		zap.String("action", record.Action),
		zap.String("status", string(record.Status)),
		zap.Time("timestamp", record.Timestamp),
		zap.String("user_id", record.UserID),
	}

	if record.ResourceType != "" || record.ResourceID != "" {
		fields = append(fields,
			zap.String("resource_type", record.ResourceType),
			zap.String("resource_id", record.ResourceID))
	}
	if record.EventID != "" {
		fields = append(fields, zap.String("event_id", record.EventID))
	}
	if record.HandlerID != "" {
		fields = append(fields, zap.String("handler_id", record.HandlerID))
	}
	if record.Error != "" {
		fields = append(fields, zap.String("error", record.Error))
	}
	if len(record.Changes) > 0 {
		if changesJSON, err := json.Marshal(record.Changes); err == nil {
			fields = append(fields, zap.String("changes", string(changesJSON)))
		}
	}

	s.logger.Info("audit_record", fields...)
	return nil
}

// Close is a no-op for LogSink.
func (s *LogSink) Close() error {
	return nil
}

// Name returns the sink identifier.
func (s *LogSink) Name() string {
	return "log"
}

// WebhookSinkConfig configures a WebhookSink.
type WebhookSinkConfig struct {
	Name    string
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

// WebhookSink posts audit records as JSON to an external HTTP endpoint,
// typically a SIEM collector.
type WebhookSink struct {
	name          string
	url           string
	httpClient    *http.Client
	headers       map[string]string
	logger        *zap.Logger
	recordsSent   atomic.Int64
	recordsFailed atomic.Int64
}

// NewWebhookSink creates a new WebhookSink.
func NewWebhookSink(cfg WebhookSinkConfig, logger *zap.Logger) *WebhookSink {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	name := cfg.Name
	if name == "" {
		name = "webhook"
	}

	sink := &WebhookSink{
		name: name,
		url:  cfg.URL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		headers: cfg.Headers,
		logger:  logger.Named("webhook-sink"),
	}

	sink.logger.Info("webhook audit sink created",
		zap.String("name", name),
		zap.String("url", cfg.URL),
		zap.Duration("timeout", timeout))

	return sink
}

// Write posts the record to the webhook.
func (s *WebhookSink) Write(ctx context.Context, record *Record) error {
	body, err := json.Marshal(record)
	if err != nil {
		s.recordsFailed.Add(1)
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		s.recordsFailed.Add(1)
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-ID", record.CorrelationID)
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.recordsFailed.Add(1)
		s.logger.Debug("webhook request failed",
			zap.String("url", s.url),
			zap.String("record_id", record.ID),
			zap.String("error", err.Error()))
		return fmt.Errorf("failed to send audit record to %s: %w", s.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		s.recordsFailed.Add(1)
		return fmt.Errorf("webhook %s returned error status: %d", s.url, resp.StatusCode)
	}

	s.recordsSent.Add(1)
	return nil
}

// Close is a no-op for WebhookSink.
func (s *WebhookSink) Close() error {
	return nil
}

// Name returns the sink identifier.
func (s *WebhookSink) Name() string {
	return s.name
}

// Stats returns the number of records sent and failed.
func (s *WebhookSink) Stats() (sent, failed int64) {
	return s.recordsSent.Load(), s.recordsFailed.Load()
}
