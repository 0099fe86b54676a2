package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"transit-sync/internal/common/ws"
	"transit-sync/internal/general/contracts"
)

// HandleFrame processes one frame emitted by sess, over either transport,
// and returns the ack to send back under the same correlation id.
func (service *relayService) HandleFrame(ctx context.Context, sess *ws.Session, frame contracts.Frame) contracts.Frame {
	msg, err := service.handleFrame(ctx, sess, frame)
	ack := contracts.AckData{Success: err == nil, Message: msg}
	if err != nil {
		ack.Message = "internal error"
		if clientError(err) {
			ack.Message = err.Error()
		}
		service.logger.Error(ctx, "frame_rejected", "Client frame rejected", err, map[string]any{
			"session_id":     sess.ID,
			"user_id":        sess.UserID,
			"type":           frame.Type,
			"correlation_id": frame.CorrelationID,
		})
	}
	out, _ := contracts.NewFrame(contracts.FrameAck, frame.CorrelationID, ack)
	return out
}

func (service *relayService) handleFrame(ctx context.Context, sess *ws.Session, frame contracts.Frame) (string, error) {
	switch {
	case frame.Type == contracts.FrameSubscribe || frame.Type == contracts.FrameUnsubscribe:
		var d contracts.SubscribeData
		if err := json.Unmarshal(frame.Data, &d); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		topic := strings.TrimSpace(d.Topic)
		if topic == "" {
			return "", fmt.Errorf("%w: topic is required", ErrInvalidPayload)
		}
		if frame.Type == contracts.FrameSubscribe {
			sess.Subscribe(topic)
			return "subscribed " + topic, nil
		}
		sess.Unsubscribe(topic)
		return "unsubscribed " + topic, nil

	case contracts.IsLocationEvent(frame.Type):
		var p contracts.LocationPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if err := service.AcceptLocation(ctx, sess.Identity, frame.Type, frame.CorrelationID, p); err != nil {
			return "", err
		}
		return "location accepted", nil

	case contracts.IsReplyEvent(frame.Type):
		var p contracts.ReplyPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if err := service.AcceptReply(ctx, sess.Identity, frame.Type, frame.CorrelationID, p); err != nil {
			return "", err
		}
		return "reply accepted", nil

	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedEvent, frame.Type)
	}
}
