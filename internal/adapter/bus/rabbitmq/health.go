package rabbitmq

import (
	"context"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

// HealthCheck reports broker connectivity for the health endpoint.
type HealthCheck struct {
	conn *amqp.Connection
}

func NewHealthCheck(conn *amqp.Connection) *HealthCheck {
	return &HealthCheck{conn: conn}
}

func (h *HealthCheck) Ping(_ context.Context) error {
	if h.conn == nil || h.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

func (h *HealthCheck) Name() string {
	return "rabbitmq"
}
