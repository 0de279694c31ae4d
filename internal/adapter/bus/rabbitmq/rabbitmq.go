package rabbitmq

import (
	"fmt"
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Connect dials the broker and verifies the connection.
func Connect(url string, log zerolog.Logger) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing rabbitmq: %w", err)
	}
	log.Info().Msg("RabbitMQ connection established")
	return conn, nil
}

// declareTopology declares a direct exchange with one durable queue per
// partition for the given consumer group. Routing key i binds partition
// queue i; publishers route by hashing the message key onto [0,n).
// Declarations are idempotent, so producers and consumers both call this.
func declareTopology(ch *amqp.Channel, exchange, group string, partitions int) error {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	for i := 0; i < partitions; i++ {
		name := queueName(exchange, group, i)
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", name, err)
		}
		if err := ch.QueueBind(name, strconv.Itoa(i), exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", name, err)
		}
	}
	return nil
}
