package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// consumerChannel opens a channel with QoS prefetch applied. A negative
// prefetch means one.
func (c *Client) consumerChannel(prefetch int) (*amqp.Channel, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil || conn.IsClosed() {
		return nil, ErrNotConnected
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	if prefetch < 0 {
		prefetch = 1
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("rabbitmq: qos prefetch=%d: %w", prefetch, err)
		}
	}
	return ch, nil
}

// ConsumeFanout declares an exclusive queue bound to exchange and consumes
// it until ctx ends or the channel dies. Call it again after Reconnected
// fires: the queue does not outlive its connection.
func (c *Client) ConsumeFanout(
	ctx context.Context,
	exchange string,
	queue string,
	prefetch int,
	handler func(context.Context, amqp.Delivery) error,
) error {
	ch, err := c.consumerChannel(prefetch)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := declareInstanceQueue(ch, queue, exchange); err != nil {
		return err
	}
	return c.consume(ctx, ch, queue, handler)
}

// consume acks each delivery after handler returns. A handler error drops
// the message. The queue name doubles as the consumer tag.
func (c *Client) consume(
	ctx context.Context,
	ch *amqp.Channel,
	queue string,
	handler func(context.Context, amqp.Delivery) error,
) error {
	deliveries, err := ch.Consume(queue, queue, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq: consume(%s): %w", queue, err)
	}

	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	for {
		select {
		case <-ctx.Done():
			_ = ch.Cancel(queue, false)
			return nil

		case cerr := <-chClosed:
			if cerr != nil {
				return fmt.Errorf("rabbitmq: channel closed while consuming %s: %w", queue, cerr)
			}
			return nil

		case d, ok := <-deliveries:
			if !ok {
				return nil
			}

			hCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err := handler(hCtx, d)
			cancel()

			if err != nil {
				c.log.Error(ctx, "rabbitmq_delivery_dropped", "Handler rejected delivery", err, map[string]any{
					"queue": queue,
				})
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}
