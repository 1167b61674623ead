package channel

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPChannel is the subset of *amqp.Channel the broker drives.
type AMQPChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Connection is one transport connection able to open channels.
type Connection interface {
	Channel() (AMQPChannel, error)
	Close() error
}

// DialFunc performs a single connection attempt.
type DialFunc func(ctx context.Context) (Connection, error)

type amqpConnection struct {
	conn *amqp.Connection
}

func (c amqpConnection) Channel() (AMQPChannel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (c amqpConnection) Close() error {
	return c.conn.Close()
}

// AMQPDialer dials a RabbitMQ URL with a bounded per-attempt timeout.
func AMQPDialer(url string, timeout time.Duration) DialFunc {
	return func(ctx context.Context) (Connection, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conn, err := amqp.DialConfig(url, amqp.Config{
			Dial:      amqp.DefaultDial(timeout),
			Heartbeat: 10 * time.Second,
			Properties: amqp.Table{
				"connection_name": "missionctl",
			},
		})
		if err != nil {
			return nil, err
		}
		return amqpConnection{conn: conn}, nil
	}
}
