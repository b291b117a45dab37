// Package rabbitmq consumes member lifecycle events and hands them to the
// trigger engine.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"assocmail/internal/domain/automation"
	"assocmail/internal/domain/member"
)

// Defaults for the lifecycle event topology.
const (
	DefaultExchange   = "member.events"
	DefaultQueue      = "assocmail.member-events"
	DefaultRoutingKey = "member.#"

	// DefaultDeadLetterExchange receives events that failed on redelivery.
	DefaultDeadLetterExchange = "member.events.dlx"
	DefaultDeadLetterQueue    = "assocmail.member-events.dead"
	prefetch                  = 10
)

// Event is the body of a lifecycle message.
type Event struct {
	Trigger  string `json:"trigger"`
	MemberID int64  `json:"member_id"`
}

// TriggerFunc runs the automation rules for one event.
type TriggerFunc func(ctx context.Context, trigger automation.TriggerType, memberID int64) error

// Outcome is what happens to a delivery after handling.
type Outcome int

const (
	// Ack means the event was handled.
	Ack Outcome = iota
	// Drop acknowledges an event that can never succeed.
	Drop
	// Requeue returns the event to the broker for another attempt.
	Requeue
	// DeadLetter rejects the event to the dead letter exchange.
	DeadLetter
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Drop:
		return "drop"
	case DeadLetter:
		return "dead_letter"
	default:
		return "requeue"
	}
}

// Config names the exchange, queue and binding.
type Config struct {
	Exchange           string
	Queue              string
	RoutingKey         string
	DeadLetterExchange string
	DeadLetterQueue    string
}

func (c Config) withDefaults() Config {
	if c.Exchange == "" {
		c.Exchange = DefaultExchange
	}
	if c.Queue == "" {
		c.Queue = DefaultQueue
	}
	if c.RoutingKey == "" {
		c.RoutingKey = DefaultRoutingKey
	}
	if c.DeadLetterExchange == "" {
		c.DeadLetterExchange = DefaultDeadLetterExchange
	}
	if c.DeadLetterQueue == "" {
		c.DeadLetterQueue = DefaultDeadLetterQueue
	}
	return c
}

// Consumer reads lifecycle events from a durable queue bound to a topic exchange.
type Consumer struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	cfg     Config
	trigger TriggerFunc
}

func sanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	parsed, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return "", fmt.Errorf("invalid AMQP scheme: %q", parsed.Scheme)
	}
	return clean, nil
}

// Dial connects to the broker and opens a channel.
// PRE: trigger is non-nil
// POST: Returns a consumer ready to Run; caller closes it
func Dial(amqpURL string, cfg Config, trigger TriggerFunc) (*Consumer, error) {
	cleanURL, err := sanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &Consumer{conn: conn, ch: ch, cfg: cfg.withDefaults(), trigger: trigger}, nil
}

// declareDeadLetter declares the fanout exchange and queue that hold events
// rejected after a failed redelivery.
func (c *Consumer) declareDeadLetter() error {
	if err := c.ch.ExchangeDeclare(c.cfg.DeadLetterExchange, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead letter exchange: %w", err)
	}
	dlq, err := c.ch.QueueDeclare(c.cfg.DeadLetterQueue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare dead letter queue: %w", err)
	}
	if err := c.ch.QueueBind(dlq.Name, "", c.cfg.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind dead letter queue: %w", err)
	}
	return nil
}

// Run declares the topology and consumes until ctx is cancelled or the
// channel closes.
// PRE: an existing queue named cfg.Queue was declared with the same
// x-dead-letter-exchange, or the broker rejects the declaration
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if err := c.declareDeadLetter(); err != nil {
		return err
	}
	q, err := c.ch.QueueDeclare(c.cfg.Queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": c.cfg.DeadLetterExchange,
	})
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := c.ch.QueueBind(q.Name, c.cfg.RoutingKey, c.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	if err := c.ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	zap.L().Info("event_consumer_started",
		zap.String("exchange", c.cfg.Exchange),
		zap.String("queue", q.Name),
		zap.String("routing_key", c.cfg.RoutingKey))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			c.settle(d, c.Handle(ctx, d.Body))
		}
	}
}

// settlement caps redelivery: an event is requeued at most once, and a
// failure on the redelivered copy sends it to the dead letter exchange.
func settlement(outcome Outcome, redelivered bool) Outcome {
	if outcome == Requeue && redelivered {
		return DeadLetter
	}
	return outcome
}

func (c *Consumer) settle(d amqp.Delivery, outcome Outcome) {
	outcome = settlement(outcome, d.Redelivered)
	var err error
	switch outcome {
	case Requeue:
		err = d.Nack(false, true)
	case DeadLetter:
		zap.L().Warn("event_dead_lettered",
			zap.String("exchange", c.cfg.DeadLetterExchange),
			zap.Uint64("delivery_tag", d.DeliveryTag),
			zap.ByteString("body", d.Body))
		err = d.Nack(false, false)
	default:
		err = d.Ack(false)
	}
	if err != nil {
		zap.L().Error("event_settle_failed", zap.Stringer("outcome", outcome), zap.Error(err))
	}
}

// Handle decodes one event body and runs the trigger.
// POST: Malformed bodies, unknown triggers and unknown members are dropped;
// any other failure is requeued
func (c *Consumer) Handle(ctx context.Context, body []byte) Outcome {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		zap.L().Warn("event_malformed", zap.ByteString("body", body), zap.Error(err))
		return Drop
	}
	trigger, err := automation.ParseTriggerType(ev.Trigger)
	if err != nil || ev.MemberID <= 0 {
		zap.L().Warn("event_rejected",
			zap.String("trigger", ev.Trigger), zap.Int64("member_id", ev.MemberID), zap.Error(err))
		return Drop
	}

	err = c.trigger(ctx, trigger, ev.MemberID)
	switch {
	case err == nil:
		return Ack
	case errors.Is(err, member.ErrNotFound), errors.Is(err, automation.ErrUnknownTrigger):
		zap.L().Warn("event_dropped",
			zap.String("trigger", ev.Trigger), zap.Int64("member_id", ev.MemberID), zap.Error(err))
		return Drop
	default:
		zap.L().Error("event_failed",
			zap.String("trigger", ev.Trigger), zap.Int64("member_id", ev.MemberID), zap.Error(err))
		return Requeue
	}
}

// Close releases the channel and connection.
func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
