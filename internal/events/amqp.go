package events

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPConsumer consumes application.created messages from RabbitMQ.
type AMQPConsumer struct {
	channel     *amqp.Channel
	queue       string
	intake      *Intake
	prefetchCnt int
	log         *zap.Logger
}

// NewAMQPConsumer declares a durable queue bound to exchange/routingKey.
func NewAMQPConsumer(conn *amqp.Connection, exchange, routingKey, queue string, intake *Intake) (*AMQPConsumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	c := &AMQPConsumer{
		channel:     ch,
		queue:       queue,
		intake:      intake,
		prefetchCnt: 16,
		log:         intake.log,
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, routingKey, exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("bind queue %s: %w", queue, err)
	}
	if err := ch.Qos(c.prefetchCnt, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}
	return c, nil
}

// Run blocks, handling deliveries until ctx is done. Permanent failures
// are dropped; transient ones are requeued.
func (c *AMQPConsumer) Run(ctx context.Context) error {
	defer c.channel.Close()

	msgs, err := c.channel.Consume(c.queue, "analysis-service", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	c.log.Info("consuming", zap.String("queue", c.queue))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("amqp delivery channel for %s closed", c.queue)
			}
			c.settle(msg, c.intake.Handle(ctx, "amqp", msg.Body))
		}
	}
}

func (c *AMQPConsumer) settle(msg amqp.Delivery, err error) {
	var ackErr error
	switch {
	case err == nil:
		ackErr = msg.Ack(false)
	case Permanent(err):
		ackErr = msg.Nack(false, false)
	default:
		ackErr = msg.Nack(false, true)
	}
	if ackErr != nil {
		c.log.Warn("settling delivery failed", zap.Uint64("tag", msg.DeliveryTag), zap.Error(ackErr))
	}
}
