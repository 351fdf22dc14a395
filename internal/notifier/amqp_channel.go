package notifier

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPChannel carries events over a fanout exchange. Every listener binds
// its own exclusive queue so each node receives every event.
type AMQPChannel struct {
	conn     *amqp.Connection
	exchange string
}

func NewAMQPChannel(conn *amqp.Connection, exchange string) *AMQPChannel {
	if exchange == "" {
		exchange = DefaultBroadcastChannel
	}
	return &AMQPChannel{conn: conn, exchange: exchange}
}

func (c *AMQPChannel) Name() string {
	return "amqp"
}

func (c *AMQPChannel) declare(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(
		c.exchange,
		amqp.ExchangeFanout,
		true,
		false,
		false,
		false,
		nil,
	)
}

func (c *AMQPChannel) Publish(ctx context.Context, payload []byte) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	if err := c.declare(ch); err != nil {
		return fmt.Errorf("declare exchange failed: %w", err)
	}

	if err := ch.PublishWithContext(
		ctx,
		c.exchange,
		"",
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        payload,
		},
	); err != nil {
		return fmt.Errorf("publish event failed: %w", err)
	}
	return nil
}

func (c *AMQPChannel) Listen(ctx context.Context, deliver func([]byte)) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	if err := c.declare(ch); err != nil {
		return fmt.Errorf("declare exchange failed: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue failed: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", c.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue failed: %w", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume failed: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("rabbitmq deliveries closed")
			}
			deliver(d.Body)
		}
	}
}
