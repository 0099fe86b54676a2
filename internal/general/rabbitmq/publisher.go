package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const confirmTimeout = 5 * time.Second

var (
	ErrNotConnected = errors.New("rabbitmq: not connected")
	ErrNacked       = errors.New("rabbitmq: publish not acknowledged")
)

// MQPublisher adapts Client to ports.Publisher.
type MQPublisher struct {
	Client *Client
}

func NewMQPublisher(client *Client) *MQPublisher {
	return &MQPublisher{Client: client}
}

func (p *MQPublisher) Publish(exchange, routingKey, correlationID string, body []byte) error {
	return p.Client.PublishMessage(exchange, routingKey, correlationID, body)
}

// PublishMessage publishes a transient JSON message and waits up to
// confirmTimeout for the broker confirm.
func (c *Client) PublishMessage(exchange, routingKey, correlationID string, body []byte) error {
	c.mu.RLock()
	conn, pub := c.conn, c.pub
	c.mu.RUnlock()

	if conn == nil || conn.IsClosed() || pub == nil || pub.ch.IsClosed() {
		return ErrNotConnected
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), confirmTimeout)
	defer cancel()

	msg := amqp.Publishing{
		DeliveryMode:  amqp.Transient,
		ContentType:   "application/json",
		CorrelationId: correlationID,
		Timestamp:     time.Now().UTC(),
		Body:          body,
	}
	if err := pub.ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("rabbitmq: publish to %s: %w", exchange, err)
	}

	select {
	case conf, ok := <-pub.confirms:
		if !ok {
			return ErrNotConnected
		}
		if !conf.Ack {
			return ErrNacked
		}
		return nil
	case <-ctx.Done():
		// Drain the late confirm so the next publish reads its own.
		select {
		case <-pub.confirms:
		case <-time.After(2 * time.Second):
		}
		return ctx.Err()
	}
}
