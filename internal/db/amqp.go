package db

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// NewAMQPConnection dials the RabbitMQ broker.
func NewAMQPConnection(amqpURL string) (*amqp.Connection, error) {
	conn, err := amqp.DialConfig(amqpURL, amqp.Config{
		Properties: amqp.Table{"connection_name": "analysis-service"},
	})
	if err != nil {
		return nil, fmt.Errorf("amqp.Dial: %w", err)
	}
	return conn, nil
}
