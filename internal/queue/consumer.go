package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Consumer applies payment events from the queue.  Run keeps a reconnect
// loop alive until its context is cancelled.
type Consumer struct {
	url     string
	queue   string
	handler EventHandler
	log     zerolog.Logger
}

func NewConsumer(url, queue string, handler EventHandler, log zerolog.Logger) *Consumer {
	if queue == "" {
		queue = DefaultPaymentEventsQueue
	}
	return &Consumer{url: url, queue: queue, handler: handler, log: log.With().Str("component", "event_consumer").Logger()}
}

// Run connects, consumes and reconnects with exponential backoff.  It only
// returns once ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("failed to dial broker")
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn().Err(err).Msg("consume loop ended; reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warn().Err(err).Msg("set QoS failed")
	}
	if err := declare(ch, c.queue); err != nil {
		return err
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.log.Info().Str("queue", c.queue).Msg("consuming payment events")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.settle(d, c.handleMessage(ctx, d.Body))
		}
	}
}

// outcome of handling one delivery
type outcome int

const (
	ack outcome = iota
	requeue
	reject
)

// handleMessage decodes and applies one event.  Malformed bodies are
// rejected; handler failures are retried once.
func (c *Consumer) handleMessage(ctx context.Context, body []byte) outcome {
	ev, err := decodeEvent(body)
	if err != nil {
		c.log.Error().Err(err).Msg("dropping malformed payment event")
		return reject
	}
	if err := c.handler.HandlePaymentEvent(ctx, ev); err != nil {
		c.log.Error().Err(err).Str("event", string(ev.Type)).Str("session_id", ev.SessionID).Msg("handle payment event failed")
		return requeue
	}
	return ack
}

func (c *Consumer) settle(d amqp.Delivery, o outcome) {
	switch {
	case o == ack:
		_ = d.Ack(false)
	case o == requeue && !d.Redelivered:
		_ = d.Nack(false, true)
	default:
		_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
