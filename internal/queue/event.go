// Package queue carries payment lifecycle events over RabbitMQ.  Webhook
// handlers publish events; a background consumer applies them to sessions
// and the token ledger.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/iliyamo/content-license-server/internal/model"
)

// DefaultPaymentEventsQueue is used when PAYMENT_EVENTS_QUEUE is unset.
const DefaultPaymentEventsQueue = "olp.payment.events"

// EventHandler applies a payment event.
type EventHandler interface {
	HandlePaymentEvent(ctx context.Context, ev model.PaymentEvent) error
}

// EventSink accepts events for eventual processing.
type EventSink interface {
	Publish(ctx context.Context, ev model.PaymentEvent) error
}

// InlineSink applies events synchronously.  It stands in for the broker
// when none is configured.
type InlineSink struct {
	Handler EventHandler
}

func (s InlineSink) Publish(ctx context.Context, ev model.PaymentEvent) error {
	return s.Handler.HandlePaymentEvent(ctx, ev)
}

func encodeEvent(ev model.PaymentEvent) ([]byte, error) {
	if ev.Type == "" {
		return nil, fmt.Errorf("payment event without type")
	}
	return json.Marshal(ev)
}

func decodeEvent(body []byte) (model.PaymentEvent, error) {
	var ev model.PaymentEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return model.PaymentEvent{}, fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Type == "" {
		return model.PaymentEvent{}, fmt.Errorf("payment event without type")
	}
	return ev, nil
}
