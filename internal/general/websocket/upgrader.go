package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	sessions "transit-sync/internal/common/ws"
	"transit-sync/internal/general/contracts"
	"transit-sync/internal/general/jwt"
	"transit-sync/internal/general/logger"
	"transit-sync/internal/ports"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout   = 5 * time.Second
	wsCloseAckWindow = 2 * time.Second
	ctrlTimeout      = 5 * time.Second
	authTimeout      = 10 * time.Second
	readLimit        = 1 << 20 // 1 MiB
)

// Tuned down in tests.
var (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WebSocket serves the relay's websocket endpoint with JWT auth.
type WebSocket struct {
	logger *logger.Logger
	jwtMgr *jwt.Manager
	hub    *sessions.Hub
	svc    ports.RelayService
}

// NewWebSocket creates a WebSocket handler with JWT auth.
func NewWebSocket(logger *logger.Logger, jwtMgr *jwt.Manager, hub *sessions.Hub, svc ports.RelayService) *WebSocket {
	return &WebSocket{logger: logger, jwtMgr: jwtMgr, hub: hub, svc: svc}
}

// ConnectClient handles a websocket connection from any role. The first
// frame must authenticate; every later frame is answered with an ack.
func (ws *WebSocket) ConnectClient(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Error(r.Context(), "websocket_upgrade_failed", "Failed to upgrade to WebSocket", err, nil)
		return
	}
	sink := newConnSink(conn)
	defer sink.Close()

	ctx := r.Context()

	conn.SetReadLimit(readLimit)
	if err := conn.SetReadDeadline(time.Now().Add(authTimeout)); err != nil {
		ws.logger.Error(ctx, "ws_set_deadline_failed", "Failed to set initial read deadline", err, nil)
		ws.sendAuthError(sink, "internal server error")
		return
	}

	msgType, first, err := conn.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
			ws.logger.Error(ctx, "ws_auth_timeout", "Client disconnected before authentication", err, nil)
		} else {
			ws.logger.Error(ctx, "ws_auth_read_failed", "Failed to read auth message", err, nil)
		}
		ws.sendAuthError(sink, "authentication timeout: send the auth message first")
		return
	}
	if msgType != websocket.TextMessage {
		ws.logger.Error(ctx, "ws_auth_invalid_format", "Auth message must be text format", nil, nil)
		ws.sendAuthError(sink, "auth message must be in text format")
		return
	}

	res, err := jwt.ValidateWSAuth(first, ws.jwtMgr)
	if err != nil {
		ws.logger.Error(ctx, "ws_auth_failed", "Invalid auth message or token", err, nil)
		ws.sendAuthError(sink, "authentication failed: invalid token")
		return
	}

	sess := ws.hub.Add(ctx, identityOf(res.Claims), sessions.TransportWebsocket, sink)
	defer ws.hub.Remove(context.WithoutCancel(ctx), sess.ID)
	ctx = ws.logger.WithRequestID(ctx, sess.ID)

	if err := ws.sendAuthSuccess(sess); err != nil {
		ws.logger.Error(ctx, "ws_auth_success_failed", "Failed to send auth success message", err, nil)
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(_ string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go ws.pingLoop(ctx, sink, done)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				ws.logger.Error(ctx, "ws_unexpected_close", "Connection closed unexpectedly", err, map[string]any{
					"user_id": sess.UserID,
				})
				sink.wsWriteClose(websocket.CloseInternalServerErr, "internal error")
			} else {
				ws.logger.Info(ctx, "ws_connection_closed", "Connection closed normally", map[string]any{
					"user_id": sess.UserID,
				})
				sink.wsWriteClose(websocket.CloseNormalClosure, "bye")
			}
			return
		}

		var frame contracts.Frame
		if err := json.Unmarshal(payload, &frame); err != nil || frame.Type == "" {
			errFrame, _ := contracts.NewFrame(contracts.FrameError, "", contracts.ErrorData{Message: "bad json"})
			_ = sess.SendFrame(errFrame)
			continue
		}

		ack := ws.svc.HandleFrame(ctx, sess, frame)
		if err := sess.SendFrame(ack); err != nil {
			ws.logger.Error(ctx, "ws_ack_failed", "Failed to write ack frame", err, map[string]any{
				"correlation_id": frame.CorrelationID,
			})
			return
		}
	}
}

// pingLoop pings every pingInterval until done closes or a ping fails.
func (ws *WebSocket) pingLoop(ctx context.Context, sink *connSink, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := sink.ping(); err != nil {
				// closing the socket unblocks the reader
				sink.Close()
				ws.logger.Error(ctx, "ws_ping_failed", "Failed to send ping", err, nil)
				return
			}
		}
	}
}

func identityOf(claims *jwt.Claims) sessions.Identity {
	return sessions.Identity{UserID: claims.Subject, Role: claims.Role}
}
