package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"payment-orchestrator/internal/core/domain"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// PublisherConfig names the exchanges and the partition count. The
// results exchange is a mirror of terminal events for downstream
// analytics consumers; it has no consumer inside this service.
type PublisherConfig struct {
	Exchange        string
	ResultsExchange string
	ConsumerGroup   string
	Partitions      int
}

// Publisher implements ports.EventPublisher over RabbitMQ. Messages are
// persistent JSON, routed to a partition queue by hashing the event key,
// so all events of one transaction are delivered in order.
type Publisher struct {
	ch  *amqp.Channel
	cfg PublisherConfig
	mu  sync.Mutex // amqp channels are not safe for concurrent publish
	log zerolog.Logger
}

// NewPublisher opens a channel and declares the topology for both
// exchanges.
func NewPublisher(conn *amqp.Connection, cfg PublisherConfig, log zerolog.Logger) (*Publisher, error) {
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publisher channel: %w", err)
	}
	if err := declareTopology(ch, cfg.Exchange, cfg.ConsumerGroup, cfg.Partitions); err != nil {
		return nil, err
	}
	if cfg.ResultsExchange != "" {
		if err := declareTopology(ch, cfg.ResultsExchange, cfg.ConsumerGroup, cfg.Partitions); err != nil {
			return nil, err
		}
	}

	return &Publisher{ch: ch, cfg: cfg, log: log}, nil
}

// Publish sends the event to the payment-events exchange.
func (p *Publisher) Publish(ctx context.Context, event *domain.PaymentEvent) error {
	return p.publish(ctx, p.cfg.Exchange, event)
}

// PublishResult mirrors a terminal event to the results exchange.
func (p *Publisher) PublishResult(ctx context.Context, event *domain.PaymentEvent) error {
	if p.cfg.ResultsExchange == "" {
		return nil
	}
	return p.publish(ctx, p.cfg.ResultsExchange, event)
}

func (p *Publisher) publish(ctx context.Context, exchange string, event *domain.PaymentEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal payment event: %w", err)
	}

	partition := partitionFor(event.Key(), p.cfg.Partitions)

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx, exchange, strconv.Itoa(partition), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.Key(),
		Type:         string(event.EventType),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", exchange, err)
	}

	p.log.Debug().
		Str("exchange", exchange).
		Int("partition", partition).
		Str("transaction_id", event.Key()).
		Str("event_type", string(event.EventType)).
		Msg("event published")
	return nil
}

// Close releases the publisher channel.
func (p *Publisher) Close() error {
	return p.ch.Close()
}
