package contracts

// ReplyPayload is the body of chat, driver_reply and passenger_reply.
// Chat uses RecipientID; replies may set InReplyTo instead.
type ReplyPayload struct {
	RecipientID string            `json:"recipient_id,omitempty"`
	InReplyTo   string            `json:"in_reply_to,omitempty"`
	Message     string            `json:"message"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	SenderID    string            `json:"sender_id,omitempty"` // set by the relay
}

// ReplyRequest is the body of POST /v1/replies.
type ReplyRequest struct {
	Event string `json:"event"` // chat|driver_reply|passenger_reply
	ReplyPayload
}
