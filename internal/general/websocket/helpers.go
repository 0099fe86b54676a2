package websocket

import (
	"encoding/json"
	"sync"
	"time"

	sessions "transit-sync/internal/common/ws"
	"transit-sync/internal/general/contracts"

	"github.com/gorilla/websocket"
)

// connSink is the hub Sink of one websocket connection. All writes go
// through mu; gorilla allows one concurrent writer.
type connSink struct {
	conn *websocket.Conn

	mu        sync.Mutex
	closeOnce sync.Once
}

func newConnSink(conn *websocket.Conn) *connSink {
	return &connSink{conn: conn}
}

// Deliver writes one text frame with a short write deadline.
func (s *connSink) Deliver(frame []byte) error {
	return s.wsWriteMessage(websocket.TextMessage, frame)
}

// Close closes the socket. Safe to call more than once.
func (s *connSink) Close() {
	s.closeOnce.Do(func() { _ = s.conn.Close() })
}

// wsWriteMessage sets a short write deadline and writes a message.
func (s *connSink) wsWriteMessage(mt int, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteMessage(mt, payload)
}

// wsWriteClose sends a close control frame with the given code and reason.
func (s *connSink) wsWriteClose(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(wsCloseAckWindow),
	)
}

func (s *connSink) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctrlTimeout))
}

// writeJSON marshals v and writes a single TextMessage.
func (s *connSink) writeJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.wsWriteMessage(websocket.TextMessage, payload)
}

// sendAuthError sends authentication error message to client
func (ws *WebSocket) sendAuthError(sink *connSink, message string) {
	f, err := contracts.NewFrame(contracts.FrameAuthError, "", contracts.ErrorData{Message: message})
	if err != nil {
		return
	}
	_ = sink.writeJSON(f)
	sink.wsWriteClose(websocket.ClosePolicyViolation, "unauthenticated")
}

type authSuccessData struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	Timestamp string `json:"timestamp"`
}

// sendAuthSuccess tells the client it may start emitting.
func (ws *WebSocket) sendAuthSuccess(sess *sessions.Session) error {
	f, err := contracts.NewFrame(contracts.FrameAuthSuccess, "", authSuccessData{
		Message:   "Authentication successful",
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Role:      sess.Role.String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return sess.SendFrame(f)
}
