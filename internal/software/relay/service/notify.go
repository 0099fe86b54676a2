package service

import (
	"context"
	"fmt"
	"strings"

	"transit-sync/internal/general/contracts"

	"github.com/google/uuid"
)

// Notify relays a notification to one user. event is notification or
// new_notification.
func (service *relayService) Notify(ctx context.Context, event string, p contracts.NotificationPayload) (contracts.NotificationPayload, error) {
	if event == "" {
		event = contracts.EventNotification
	}
	if event != contracts.EventNotification && event != contracts.EventNewNotification {
		return p, fmt.Errorf("%w: %q", ErrUnsupportedEvent, event)
	}
	p.UserID = strings.TrimSpace(p.UserID)
	if p.UserID == "" {
		return p, fmt.Errorf("%w: user_id is required", ErrInvalidPayload)
	}
	p, err := service.normalizeNotification(p)
	if err != nil {
		return p, err
	}

	audience := contracts.Audience{UserIDs: []string{p.UserID}}
	if err := service.publish(ctx, event, p.ID, p, audience); err != nil {
		return p, err
	}
	service.logger.Info(ctx, "notification_sent", "Notification relayed", map[string]any{
		"notification_id": p.ID,
		"user_id":         p.UserID,
		"event":           event,
	})
	return p, nil
}

// Broadcast relays a notification to every session.
func (service *relayService) Broadcast(ctx context.Context, p contracts.NotificationPayload) (contracts.NotificationPayload, error) {
	p.UserID = ""
	p, err := service.normalizeNotification(p)
	if err != nil {
		return p, err
	}
	if err := service.publish(ctx, contracts.EventBroadcast, p.ID, p, contracts.Audience{}); err != nil {
		return p, err
	}
	service.logger.Info(ctx, "broadcast_sent", "Broadcast relayed", map[string]any{"notification_id": p.ID})
	return p, nil
}

// UpdateRoute relays a route update to the sessions subscribed to the
// route's topic.
func (service *relayService) UpdateRoute(ctx context.Context, p contracts.RouteUpdatePayload) (contracts.RouteUpdatePayload, error) {
	p.RouteID = strings.TrimSpace(p.RouteID)
	if p.RouteID == "" {
		return p, fmt.Errorf("%w: route_id is required", ErrInvalidPayload)
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = service.clock.Now()
	}
	p.UpdatedAt = p.UpdatedAt.UTC()

	audience := contracts.Audience{Topic: contracts.RouteTopic(p.RouteID)}
	if err := service.publish(ctx, contracts.EventRouteUpdates, uuid.NewString(), p, audience); err != nil {
		return p, err
	}
	service.logger.Info(ctx, "route_update_sent", "Route update relayed", map[string]any{
		"route_id": p.RouteID,
		"status":   p.Status,
	})
	return p, nil
}

func (service *relayService) normalizeNotification(p contracts.NotificationPayload) (contracts.NotificationPayload, error) {
	p.Title = strings.TrimSpace(p.Title)
	if p.Title == "" {
		return p, fmt.Errorf("%w: title is required", ErrInvalidPayload)
	}
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = service.clock.Now()
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}
