package service

import (
	"context"
	"fmt"
	"strings"

	"transit-sync/internal/common/ws"
	"transit-sync/internal/domain/geo"
	"transit-sync/internal/domain/user"
	"transit-sync/internal/general/contracts"
)

// AcceptLocation validates a location event, records it as the entity's
// latest sample and relays it to the opposite role and to admins.
func (service *relayService) AcceptLocation(ctx context.Context, from ws.Identity, event, correlationID string, p contracts.LocationPayload) error {
	ctx = service.logger.WithCorrelationID(ctx, correlationID)

	var entityType geo.EntityType
	switch event {
	case contracts.EventDriverLocation:
		entityType = geo.EntityTypeDriver
	case contracts.EventPassengerLocation:
		entityType = geo.EntityTypePassenger
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedEvent, event)
	}

	if !from.Role.IsAdmin() && from.Role != entityType.Role() {
		return fmt.Errorf("%w: %s cannot send %s", ErrForbidden, from.Role, event)
	}

	p.EntityID = strings.TrimSpace(p.EntityID)
	if p.EntityID == "" {
		p.EntityID = from.UserID
	}
	if p.EntityID != from.UserID && !from.Role.IsAdmin() {
		return fmt.Errorf("%w: entity_id does not match token subject", ErrForbidden)
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = service.clock.Now()
	}

	sample, err := geo.NewLocationSample(
		p.EntityID,
		entityType,
		geo.Point{Lat: p.Location.Latitude, Lon: p.Location.Longitude},
		p.Timestamp,
		p.RideID,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	p.Timestamp = sample.Timestamp

	err = service.uow.WithinTx(ctx, func(ctx context.Context) error {
		return service.locations.UpsertLatest(ctx, sample)
	})
	if err != nil {
		service.logger.Error(ctx, "location_persist_failed", "Failed to store latest location", err, map[string]any{
			"entity_id": sample.EntityID,
			"event":     event,
		})
		return err
	}

	counterpart, _ := entityType.Role().Counterpart()
	audience := contracts.Audience{
		Roles:   []string{counterpart.String(), user.RoleAdmin.String()},
		Exclude: from.UserID,
	}
	if err := service.publish(ctx, event, correlationID, p, audience); err != nil {
		return err
	}

	service.logger.Debug(ctx, "location_accepted", "Location accepted and relayed", map[string]any{
		"entity_id": sample.EntityID,
		"event":     event,
		"ride_id":   sample.RideID,
	})
	return nil
}
