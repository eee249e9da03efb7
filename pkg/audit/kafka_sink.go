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
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
	"go.uber.org/zap"

	"github.com/telekom/integration-hub/pkg/metrics"
)

// KafkaSinkConfig configures a KafkaSink.
type KafkaSinkConfig struct {
	Name    string
	Brokers []string
	Topic   string
	TLS     *KafkaTLSConfig
	SASL    *KafkaSASLConfig

	// BatchTimeout is the maximum time to wait before flushing. Default: 1s
	BatchTimeout time.Duration
	// WriteTimeout bounds a produce request. Default: 10s
	WriteTimeout time.Duration
	// Compression is one of none, gzip, snappy, lz4, zstd. Default: snappy
	Compression string
}

// KafkaTLSConfig points at PEM files used for the broker connection.
type KafkaTLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	InsecureSkipVerify bool
}

// KafkaSASLConfig holds SASL credentials.
// Mechanism is one of PLAIN, SCRAM-SHA-256, SCRAM-SHA-512.
type KafkaSASLConfig struct {
	Mechanism string
	Username  string
	Password  string
}

// messageWriter is the subset of *kafka.Writer used by the sink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes audit records to a Kafka topic, keyed by correlation ID
// so that the records of one workflow land on the same partition in order.
type KafkaSink struct {
	name   string
	writer messageWriter
	logger *zap.Logger

	mu     sync.Mutex
	closed bool

	written   atomic.Int64
	failed    atomic.Int64
	connected atomic.Bool
}

// NewKafkaSink builds the writer with optional TLS and SASL.
func NewKafkaSink(cfg KafkaSinkConfig, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}

	transport := &kafka.Transport{}
	if cfg.TLS != nil {
		tlsConfig, err := buildTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to build TLS config: %w", err)
		}
		transport.TLS = tlsConfig
	}
	if cfg.SASL != nil && cfg.SASL.Mechanism != "" {
		mechanism, err := buildSASLMechanism(cfg.SASL)
		if err != nil {
			return nil, fmt.Errorf("failed to build SASL mechanism: %w", err)
		}
		transport.SASL = mechanism
	}

	compression, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		WriteTimeout:           writeTimeout,
		RequiredAcks:           kafka.RequireAll,
		Compression:            compression,
		Transport:              transport,
		AllowAutoTopicCreation: false,
	}

	name := cfg.Name
	if name == "" {
		name = "kafka"
	}
	logger.Info("kafka audit sink created",
		zap.String("name", name),
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.Bool("tls_enabled", cfg.TLS != nil),
		zap.Bool("sasl_enabled", cfg.SASL != nil && cfg.SASL.Mechanism != ""))

	return newKafkaSink(name, writer, logger), nil
}

func newKafkaSink(name string, writer messageWriter, logger *zap.Logger) *KafkaSink {
	s := &KafkaSink{
		name:   name,
		writer: writer,
		logger: logger.Named("kafka-audit").With(zap.String("sink", name)),
	}
	s.connected.Store(true)
	metrics.AuditSinkConnected.WithLabelValues(name).Set(1)
	return s
}

func parseCompression(codec string) (kafka.Compression, error) {
	switch strings.ToLower(codec) {
	case "", "snappy":
		return kafka.Snappy, nil
	case "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("unknown kafka compression codec %q", codec)
	}
}

// recordMessage converts a record into a Kafka message.
func recordMessage(record *Record) (kafka.Message, error) {
	value, err := json.Marshal(record)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal audit record: %w", err)
	}
	headers := []kafka.Header{
		{Key: "action", Value: []byte(record.Action)},
		{Key: "status", Value: []byte(record.Status)},
		{Key: "module", Value: []byte(record.Module)},
		{Key: "timestamp", Value: []byte(record.Timestamp.Format(time.RFC3339Nano))},
		{Key: "correlation-id", Value: []byte(record.CorrelationID)},
	}
	if record.EventID != "" {
		headers = append(headers, kafka.Header{Key: "event-id", Value: []byte(record.EventID)})
	}
	return kafka.Message{
		Key:     []byte(record.CorrelationID),
		Value:   value,
		Headers: headers,
	}, nil
}

// Write produces one record.
func (s *KafkaSink) Write(ctx context.Context, record *Record) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		metrics.AuditSinkErrors.WithLabelValues(s.name, "closed").Inc()
		return errors.New("kafka sink is closed")
	}

	msg, err := recordMessage(record)
	if err != nil {
		s.failed.Add(1)
		metrics.AuditSinkErrors.WithLabelValues(s.name, "serialization").Inc()
		return err
	}

	metrics.AuditKafkaMessagesInFlight.WithLabelValues(s.name).Inc()
	defer metrics.AuditKafkaMessagesInFlight.WithLabelValues(s.name).Dec()

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		errorType := classifyKafkaError(err)
		s.failed.Add(1)
		metrics.AuditSinkErrors.WithLabelValues(s.name, errorType).Inc()
		if s.connected.Swap(false) {
			metrics.AuditSinkConnected.WithLabelValues(s.name).Set(0)
		}

		fields := []zap.Field{
			zap.Error(err),
			zap.String("error_type", errorType),
			zap.String("record_id", record.ID),
			zap.String("correlation_id", record.CorrelationID),
		}
		switch errorType {
		case "network", "dns", "timeout":
			s.logger.Warn("kafka temporarily unavailable", fields...)
		default:
			s.logger.Error("failed to write audit record to kafka", fields...)
		}
		return fmt.Errorf("failed to write to kafka (%s): %w", errorType, err)
	}

	s.written.Add(1)
	if !s.connected.Swap(true) {
		metrics.AuditSinkConnected.WithLabelValues(s.name).Set(1)
		s.logger.Info("kafka sink connection restored")
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	metrics.AuditSinkConnected.WithLabelValues(s.name).Set(0)

	s.logger.Info("closing kafka audit sink",
		zap.Int64("written", s.written.Load()),
		zap.Int64("failed", s.failed.Load()))
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	return nil
}

func (s *KafkaSink) Name() string {
	return s.name
}

// Stats returns the number of written and failed messages.
func (s *KafkaSink) Stats() (written, failed int64) {
	return s.written.Load(), s.failed.Load()
}

// classifyKafkaError buckets produce errors for metrics labels.
func classifyKafkaError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout"
		}
		return "network"
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "SASL") || strings.Contains(msg, "authentication"):
		return "auth"
	case strings.Contains(msg, "authorization") || strings.Contains(msg, "ACL"):
		return "authorization"
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return "timeout"
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host"):
		return "network"
	case strings.Contains(msg, "TLS") || strings.Contains(msg, "certificate"):
		return "tls"
	case strings.Contains(msg, "broker") || strings.Contains(msg, "leader"):
		return "broker"
	case strings.Contains(msg, "topic"):
		return "topic"
	default:
		return "other"
	}
}

func buildTLSConfig(cfg *KafkaTLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for test clusters
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

func buildSASLMechanism(cfg *KafkaSASLConfig) (sasl.Mechanism, error) {
	switch strings.ToUpper(cfg.Mechanism) {
	case "PLAIN":
		return plain.Mechanism{Username: cfg.Username, Password: cfg.Password}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, cfg.Username, cfg.Password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, cfg.Username, cfg.Password)
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", cfg.Mechanism)
	}
}
