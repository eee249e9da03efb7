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

package bus

import (
	"context"

	"github.com/telekom/integration-hub/pkg/event"
	"github.com/telekom/integration-hub/pkg/utils"
)

// TypedHandler handles events whose payload decodes to P.
type TypedHandler[P event.Payload] func(ctx context.Context, evt event.DomainEvent, payload P) (Result, error)

// On subscribes fn to the event type bound to P. Payloads that fail to
// decode are reported as permanent failures.
func On[P event.Payload](b *Bus, handlerID string, fn TypedHandler[P], opts ...SubscribeOption) (Registration, error) {
	return b.Subscribe(event.TypeOf[P](), handlerID, func(ctx context.Context, evt event.DomainEvent) (Result, error) {
		payload, err := event.Decode[P](evt)
		if err != nil {
			return Result{}, utils.Permanent(err)
		}
		return fn(ctx, evt, payload)
	}, opts...)
}
