package contracts

import "encoding/json"

// Frame is the envelope of every message on the websocket and the polling
// transport.
type Frame struct {
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// AuthMessage is the first frame a websocket client sends.
type AuthMessage struct {
	Type  string `json:"type"`  // "auth"
	Token string `json:"token"` // "Bearer <jwt>"
}

// AckData answers an emitted event, and is also the body of the degraded
// REST endpoints.
type AckData struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SubscribeData is the payload of subscribe/unsubscribe frames.
type SubscribeData struct {
	Topic string `json:"topic"`
}

// ErrorData is sent on auth_error and error frames.
type ErrorData struct {
	Message string `json:"message"`
}

// NewFrame marshals data into a Frame.
func NewFrame(typ, correlationID string, data any) (Frame, error) {
	f := Frame{Type: typ, CorrelationID: correlationID}
	if data == nil {
		return f, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		f.Data = raw
		return f, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Frame{}, err
	}
	f.Data = b
	return f, nil
}
