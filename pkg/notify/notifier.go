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


// Package notify alerts operators by mail when deliveries are dead-lettered.
package notify

import (
	"context"
	"fmt"

	"github.com/telekom/integration-hub/pkg/retry"
)

// DeadLetterNotifier renders dead letters into alert mail and queues them.
type DeadLetterNotifier struct {
	queue      *Queue
	recipients []string
	brand      string
}

// NewDeadLetterNotifier returns a retry.Notifier sending through q.
func NewDeadLetterNotifier(q *Queue, recipients []string, brand string) *DeadLetterNotifier {
	if brand == "" {
		brand = "Integration Hub"
	}
	return &DeadLetterNotifier{queue: q, recipients: recipients, brand: brand}
}

var _ retry.Notifier = (*DeadLetterNotifier)(nil)

func (n *DeadLetterNotifier) NotifyDeadLetter(_ context.Context, dl retry.DeadLetter) error {
	body, err := RenderDeadLetter(paramsFor(n.brand, dl))
	if err != nil {
		return fmt.Errorf("render dead letter mail: %w", err)
	}
	subject := fmt.Sprintf("[%s] %s dead-lettered for %s", n.brand, dl.Event.Type, dl.HandlerID)
	return n.queue.Enqueue(dl.ID, n.recipients, subject, body)
}
