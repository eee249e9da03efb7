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
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/integration-hub/pkg/metrics"
)

// message is a single mail waiting to be sent.
type message struct {
	id        string
	receivers []string
	subject   string
	body      string
	queuedAt  time.Time
}

// Queue sends mail asynchronously so alerting never blocks the caller.
type Queue struct {
	sender    Sender
	queue     chan *message
	log       *zap.SugaredLogger
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	capacity  int
	stopOnce  sync.Once
	closedMu  sync.RWMutex
	closed    bool
	sendLimit time.Duration
}

// NewQueue creates a mail queue. Start must be called before messages are sent.
func NewQueue(sender Sender, log *zap.SugaredLogger, capacity int) *Queue {
	if capacity <= 0 {
		capacity = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	log.Infow("Initializing notification queue", "capacity", capacity, "host", sender.Host())
	return &Queue{
		sender:    sender,
		queue:     make(chan *message, capacity),
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		capacity:  capacity,
		sendLimit: 2 * time.Minute,
	}
}

// Start begins the background worker.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.worker()
	q.log.Info("Notification queue worker started")
}

// Enqueue adds a mail to the queue without blocking.
func (q *Queue) Enqueue(id string, receivers []string, subject, body string) error {
	if len(receivers) == 0 {
		metrics.NotificationsFailed.WithLabelValues(channelMail).Inc()
		return fmt.Errorf("cannot enqueue mail %s with no receivers", id)
	}

	q.closedMu.RLock()
	defer q.closedMu.RUnlock()
	if q.closed {
		metrics.NotificationsFailed.WithLabelValues(channelMail).Inc()
		return fmt.Errorf("notification queue is shutting down")
	}

	msg := &message{id: id, receivers: receivers, subject: subject, body: body, queuedAt: time.Now()}
	select {
	case q.queue <- msg:
		q.log.Debugw("Mail queued", "id", id, "receivers", len(receivers), "subject", subject)
		return nil
	default:
		metrics.NotificationsFailed.WithLabelValues(channelMail).Inc()
		q.log.Errorw("Notification queue is full, dropping mail", "id", id, "capacity", q.capacity)
		return fmt.Errorf("notification queue is full (capacity: %d)", q.capacity)
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for msg := range q.queue {
		q.send(msg)
	}
	q.log.Info("Notification queue worker stopped")
}

func (q *Queue) send(msg *message) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Errorw("panic while sending mail recovered", "id", msg.id, "panic", r)
			metrics.NotificationsFailed.WithLabelValues(channelMail).Inc()
		}
	}()
	ctx, cancel := context.WithTimeout(q.ctx, q.sendLimit)
	defer cancel()
	if err := q.sender.Send(ctx, msg.receivers, msg.subject, msg.body); err != nil {
		q.log.Errorw("Mail could not be sent", "id", msg.id, "error", err)
		return
	}
	q.log.Infow("Mail sent", "id", msg.id, "queuedFor", time.Since(msg.queuedAt).String())
}

// Stop closes the queue, sends what is already queued and waits for the
// worker. Pending sends are cancelled when ctx expires.
func (q *Queue) Stop(ctx context.Context) error {
	q.stopOnce.Do(func() {
		q.log.Info("Stopping notification queue")
		q.closedMu.Lock()
		q.closed = true
		close(q.queue)
		q.closedMu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		q.log.Warn("Notification queue shutdown timeout, some mail may not have been sent")
		return ctx.Err()
	}
}

// Length returns the number of queued messages.
func (q *Queue) Length() int {
	return len(q.queue)
}
