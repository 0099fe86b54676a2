package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"transit-sync/internal/common/ws"
	"transit-sync/internal/general/contracts"
	"transit-sync/internal/general/logger"
	"transit-sync/internal/general/rabbitmq"

	amqp "github.com/rabbitmq/amqp091-go"
)

const resubscribePause = 5 * time.Second

// FanoutConsumer delivers relay messages from the broker to this
// instance's sessions.
type FanoutConsumer struct {
	logger *logger.Logger
	hub    *ws.Hub
}

func NewFanoutConsumer(logger *logger.Logger, hub *ws.Hub) *FanoutConsumer {
	return &FanoutConsumer{logger: logger, hub: hub}
}

// Handle decodes one relay message and delivers it locally.
func (c *FanoutConsumer) Handle(ctx context.Context, body []byte) error {
	var msg contracts.RelayMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("decode relay message: %w", err)
	}
	if msg.Event == "" {
		return errors.New("relay message without event")
	}

	ctx = c.logger.WithCorrelationID(ctx, msg.CorrelationID)
	n := c.hub.Deliver(ctx, msg)
	c.logger.Debug(ctx, "relay_delivered", "Relay message delivered to local sessions", map[string]any{
		"event":    msg.Event,
		"sessions": n,
		"producer": msg.Producer,
	})
	return nil
}

// Run consumes this instance's queue until ctx ends or the client is
// closed. The queue is redeclared after every broker reconnect.
func (c *FanoutConsumer) Run(ctx context.Context, client *rabbitmq.Client, instanceID string, prefetch int) error {
	queue := contracts.QueueRelayInstancePrefix + instanceID
	for {
		reconnected := client.Reconnected()

		err := client.ConsumeFanout(ctx, contracts.ExchangeRelayFanout, queue, prefetch,
			func(ctx context.Context, d amqp.Delivery) error {
				return c.Handle(ctx, d.Body)
			},
		)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			c.logger.Error(ctx, "relay_consume_stopped", "Fanout consumer stopped", err, map[string]any{"queue": queue})
		}

		select {
		case <-ctx.Done():
			return nil
		case <-client.Done():
			return nil
		case <-reconnected:
		case <-time.After(resubscribePause):
		}
	}
}
