package rabbitmq

import (
	"fmt"

	"transit-sync/internal/general/contracts"

	amqp "github.com/rabbitmq/amqp091-go"
)

// declareTopology declares the durable exchanges. Per-instance queues are
// declared by their consumers since they die with the connection.
func declareTopology(ch *amqp.Channel) error {
	exchanges := []struct {
		name string
		kind string
	}{
		{contracts.ExchangeRelayFanout, "fanout"},
	}

	for _, ex := range exchanges {
		if err := ch.ExchangeDeclare(ex.name, ex.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}
	return nil
}

// declareInstanceQueue declares an exclusive, auto-deleted queue bound to
// exchange with an empty routing key.
func declareInstanceQueue(ch *amqp.Channel, queue, exchange string) error {
	if _, err := ch.QueueDeclare(queue, false, true, true, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, "", exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s to %s: %w", queue, exchange, err)
	}
	return nil
}
