package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"payment-orchestrator/internal/core/domain"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// EventHandler processes one delivered payment event. A non-nil error
// requeues the delivery, so handlers must stay idempotent.
type EventHandler func(ctx context.Context, event *domain.PaymentEvent) error

// ConsumerConfig names the subscription. Each consumer role uses its own
// group so partition queues are not shared across roles.
type ConsumerConfig struct {
	Exchange   string
	Group      string
	Partitions int
	Prefetch   int
}

// Consumer reads partition queues with manual acknowledgements. One
// goroutine per partition preserves per-transaction ordering while still
// processing different transactions in parallel.
type Consumer struct {
	conn    *amqp.Connection
	cfg     ConsumerConfig
	handler EventHandler
	log     zerolog.Logger

	wg       sync.WaitGroup
	channels []*amqp.Channel
}

// NewConsumer creates a consumer bound to one consumer group.
func NewConsumer(conn *amqp.Connection, cfg ConsumerConfig, handler EventHandler, log zerolog.Logger) *Consumer {
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	return &Consumer{conn: conn, cfg: cfg, handler: handler, log: log}
}

// Start declares the topology and launches one worker per partition.
// It returns after the workers are running; cancel ctx to stop them.
func (c *Consumer) Start(ctx context.Context) error {
	setupCh, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open setup channel: %w", err)
	}
	if err := declareTopology(setupCh, c.cfg.Exchange, c.cfg.Group, c.cfg.Partitions); err != nil {
		return err
	}
	setupCh.Close() //nolint:errcheck

	for i := 0; i < c.cfg.Partitions; i++ {
		ch, err := c.conn.Channel()
		if err != nil {
			return fmt.Errorf("open consumer channel: %w", err)
		}
		if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
			return fmt.Errorf("set qos: %w", err)
		}

		queue := queueName(c.cfg.Exchange, c.cfg.Group, i)
		deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %s: %w", queue, err)
		}

		c.channels = append(c.channels, ch)
		c.wg.Add(1)
		go c.run(ctx, i, deliveries)
	}

	c.log.Info().
		Str("exchange", c.cfg.Exchange).
		Str("group", c.cfg.Group).
		Int("partitions", c.cfg.Partitions).
		Msg("consumer started")
	return nil
}

func (c *Consumer) run(ctx context.Context, partition int, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.handle(ctx, partition, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, partition int, d amqp.Delivery) {
	var event domain.PaymentEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		// Unparseable messages can never succeed; drop without requeue.
		c.log.Error().Err(err).Int("partition", partition).Msg("malformed payment event dropped")
		if nackErr := d.Nack(false, false); nackErr != nil {
			c.log.Error().Err(nackErr).Msg("nack failed")
		}
		return
	}

	if err := c.handler(ctx, &event); err != nil {
		c.log.Error().
			Err(err).
			Str("transaction_id", event.Key()).
			Str("event_type", string(event.EventType)).
			Msg("event handler failed, requeueing")
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.log.Error().Err(nackErr).Msg("nack failed")
		}
		return
	}

	if err := d.Ack(false); err != nil {
		c.log.Error().Err(err).Str("transaction_id", event.Key()).Msg("ack failed")
	}
}

// Stop closes the partition channels and waits for the workers.
func (c *Consumer) Stop() {
	for _, ch := range c.channels {
		ch.Close() //nolint:errcheck
	}
	c.wg.Wait()
	c.log.Info().Str("group", c.cfg.Group).Msg("consumer stopped")
}
