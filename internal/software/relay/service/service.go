package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"transit-sync/internal/general/clock"
	"transit-sync/internal/general/contracts"
	"transit-sync/internal/general/logger"
	"transit-sync/internal/ports"
)

var (
	ErrUnsupportedEvent = errors.New("unsupported event")
	ErrForbidden        = errors.New("sender may not emit this event")
	ErrInvalidPayload   = errors.New("invalid payload")
)

// relayService holds all dependencies required by the relay.
type relayService struct {
	logger    *logger.Logger
	clock     clock.Clock
	uow       ports.UnitOfWork
	locations ports.LocationRepository
	replies   ports.ReplyRepository
	pub       ports.Publisher
	producer  string
}

// NewRelayService constructs the service with required dependencies.
// instanceID names this relay in published envelopes.
func NewRelayService(
	logger *logger.Logger,
	clk clock.Clock,
	uow ports.UnitOfWork,
	locations ports.LocationRepository,
	replies ports.ReplyRepository,
	pub ports.Publisher,
	instanceID string,
) ports.RelayService {
	if clk == nil {
		clk = clock.Real()
	}
	return &relayService{
		logger:    logger,
		clock:     clk,
		uow:       uow,
		locations: locations,
		replies:   replies,
		pub:       pub,
		producer:  "relay-" + instanceID,
	}
}

// publish wraps data in a RelayMessage and hands it to the fanout exchange.
// Delivery to sessions, local ones included, happens in the consumer.
func (service *relayService) publish(ctx context.Context, event, correlationID string, data any, audience contracts.Audience) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	body, err := json.Marshal(contracts.RelayMessage{
		Event:    event,
		Data:     raw,
		Audience: audience,
		Envelope: contracts.Envelope{
			CorrelationID: correlationID,
			Producer:      service.producer,
			SentAt:        service.clock.Now().UTC(),
		},
	})
	if err != nil {
		return fmt.Errorf("encode relay message: %w", err)
	}

	if err := service.pub.Publish(contracts.ExchangeRelayFanout, "", correlationID, body); err != nil {
		service.logger.Error(ctx, "relay_publish_failed", "Failed to publish relay message", err, map[string]any{
			"event": event,
		})
		return fmt.Errorf("publish %s: %w", event, err)
	}
	return nil
}

// clientError reports whether err is the sender's fault. Anything else is
// answered as an internal failure so the client keeps the event queued.
func clientError(err error) bool {
	return errors.Is(err, ErrUnsupportedEvent) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrInvalidPayload)
}

// IsClientError is clientError for the HTTP layer.
func IsClientError(err error) bool { return clientError(err) }
