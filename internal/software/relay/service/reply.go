package service

import (
	"context"
	"fmt"
	"strings"

	"transit-sync/internal/common/ws"
	"transit-sync/internal/domain/user"
	"transit-sync/internal/general/contracts"
	"transit-sync/internal/ports"
)

// AcceptReply archives a chat message or reply and relays it to its
// recipient, or to the opposite role when no recipient is named.
func (service *relayService) AcceptReply(ctx context.Context, from ws.Identity, event, correlationID string, p contracts.ReplyPayload) error {
	ctx = service.logger.WithCorrelationID(ctx, correlationID)

	if !contracts.IsReplyEvent(event) {
		return fmt.Errorf("%w: %q", ErrUnsupportedEvent, event)
	}

	p.Message = strings.TrimSpace(p.Message)
	p.RecipientID = strings.TrimSpace(p.RecipientID)
	p.InReplyTo = strings.TrimSpace(p.InReplyTo)
	if p.Message == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidPayload)
	}

	var audience contracts.Audience
	switch event {
	case contracts.EventChat:
		if p.RecipientID == "" {
			return fmt.Errorf("%w: chat needs recipient_id", ErrInvalidPayload)
		}
	case contracts.EventDriverReply:
		if !from.Role.IsDriver() && !from.Role.IsAdmin() {
			return fmt.Errorf("%w: %s cannot send %s", ErrForbidden, from.Role, event)
		}
		audience.Roles = []string{user.RolePassenger.String()}
	case contracts.EventPassengerReply:
		if !from.Role.IsPassenger() && !from.Role.IsAdmin() {
			return fmt.Errorf("%w: %s cannot send %s", ErrForbidden, from.Role, event)
		}
		audience.Roles = []string{user.RoleDriver.String()}
	}
	if p.RecipientID != "" {
		audience = contracts.Audience{UserIDs: []string{p.RecipientID}}
	}
	audience.Exclude = from.UserID
	p.SenderID = from.UserID

	rec := &ports.ReplyRecord{
		CorrelationID: correlationID,
		Event:         event,
		SenderID:      from.UserID,
		RecipientID:   p.RecipientID,
		InReplyTo:     p.InReplyTo,
		Message:       p.Message,
		Metadata:      p.Metadata,
		CreatedAt:     service.clock.Now().UTC(),
	}
	var id int64
	err := service.uow.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		id, err = service.replies.Insert(ctx, rec)
		return err
	})
	if err != nil {
		service.logger.Error(ctx, "reply_persist_failed", "Failed to archive reply", err, map[string]any{
			"sender_id": from.UserID,
			"event":     event,
		})
		return err
	}

	if err := service.publish(ctx, event, correlationID, p, audience); err != nil {
		return err
	}

	service.logger.Info(ctx, "reply_accepted", "Reply archived and relayed", map[string]any{
		"reply_id":     id,
		"event":        event,
		"sender_id":    from.UserID,
		"recipient_id": p.RecipientID,
	})
	return nil
}
