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


package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/telekom/integration-hub/pkg/metrics"
	"github.com/telekom/integration-hub/pkg/utils"
)

const channelMail = "mail"

// MailConfig configures the SMTP connection used for operator alerts.
type MailConfig struct {
	Host               string
	Port               int
	User               string
	Password           string
	InsecureSkipVerify bool
	SenderAddress      string
	SenderName         string
	Recipients         []string
	RetryCount         int
	RetryBackoff       time.Duration
}

func (c MailConfig) withDefaults() MailConfig {
	if c.Port == 0 {
		c.Port = 587
	}
	if c.SenderAddress == "" {
		c.SenderAddress = "noreply@integration-hub.local"
	}
	if c.SenderName == "" {
		c.SenderName = "Integration Hub"
	}
	if c.RetryCount <= 0 {
		c.RetryCount = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	return c
}

func (c MailConfig) Validate() error {
	if c.Host == "" {
		return errors.New("mail host is required")
	}
	if len(c.Recipients) == 0 {
		return errors.New("mail recipients are required")
	}
	return nil
}

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, receivers []string, subject, body string) error
	Host() string
}

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type mailSender struct {
	dialer        dialer
	host          string
	senderAddress string
	senderName    string
	retry         utils.RetryConfig
	logger        *zap.Logger
}

// NewMailSender builds an SMTP sender with exponential retry.
func NewMailSender(cfg MailConfig, logger *zap.Logger) Sender {
	cfg = cfg.withDefaults()
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	if cfg.InsecureSkipVerify {
		logger.Warn("InsecureSkipVerify is enabled for mail TLS connection")
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test relays
	}
	logger.Info("mail sender initialized",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.Int("retry_count", cfg.RetryCount))
	return newMailSender(d, cfg, logger)
}

func newMailSender(d dialer, cfg MailConfig, logger *zap.Logger) *mailSender {
	return &mailSender{
		dialer:        d,
		host:          cfg.Host,
		senderAddress: cfg.SenderAddress,
		senderName:    cfg.SenderName,
		retry: utils.RetryConfig{
			MaxRetries:        cfg.RetryCount,
			InitialBackoff:    cfg.RetryBackoff,
			MaxBackoff:        32 * time.Second,
			BackoffMultiplier: 2,
		},
		logger: logger,
	}
}

func (s *mailSender) Send(ctx context.Context, receivers []string, subject, body string) error {
	if len(receivers) == 0 {
		return errors.New("cannot send mail with no receivers")
	}
	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", s.senderAddress, s.senderName)
	msg.SetHeader("Bcc", receivers...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	err := utils.Retry(ctx, s.retry, func(context.Context) error {
		return s.dialer.DialAndSend(msg)
	})
	if err != nil {
		metrics.NotificationsFailed.WithLabelValues(channelMail).Inc()
		s.logger.Error("failed to send mail",
			zap.Int("receivers", len(receivers)),
			zap.String("subject", subject),
			zap.Error(err))
		return err
	}
	metrics.NotificationsSent.WithLabelValues(channelMail).Inc()
	s.logger.Debug("mail sent", zap.Int("receivers", len(receivers)), zap.String("subject", subject))
	return nil
}

func (s *mailSender) Host() string {
	return s.host
}
