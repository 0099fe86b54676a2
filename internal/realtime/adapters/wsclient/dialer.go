// Package wsclient is the preferred channel transport: a gorilla websocket
// speaking the relay's frame protocol.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"transit-sync/internal/general/contracts"
	"transit-sync/internal/general/logger"
	"transit-sync/internal/realtime"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultAuthTimeout      = 5 * time.Second
	defaultPingInterval     = 30 * time.Second
	defaultReadTimeout      = 60 * time.Second
	writeTimeout            = 5 * time.Second
)

type Config struct {
	// URL is the relay websocket endpoint, e.g. ws://localhost:3000/ws.
	URL              string
	HandshakeTimeout time.Duration
	AuthTimeout      time.Duration
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	Logger           *logger.Logger
}

// Dialer opens websocket channels.
type Dialer struct {
	cfg Config
	ws  *websocket.Dialer
}

func New(cfg Config) *Dialer {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = defaultAuthTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	return &Dialer{
		cfg: cfg,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

func (d *Dialer) Kind() realtime.TransportKind { return realtime.TransportWebsocket }

// Dial connects, sends the auth frame and waits for auth_success.
func (d *Dialer) Dial(ctx context.Context, creds realtime.Credentials) (realtime.Channel, error) {
	conn, resp, err := d.ws.DialContext(ctx, d.cfg.URL, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: handshake status %d", realtime.ErrAuthRejected, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	if err := d.authenticate(conn, creds); err != nil {
		_ = conn.Close()
		return nil, err
	}

	ch := newChannel(conn, d.cfg, d.cfg.Logger)
	go ch.readLoop()
	go ch.forward()
	go ch.pingLoop()
	return ch, nil
}

func (d *Dialer) authenticate(conn *websocket.Conn, creds realtime.Credentials) error {
	auth, err := json.Marshal(contracts.AuthMessage{Type: contracts.FrameAuth, Token: "Bearer " + creds.Token})
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, auth); err != nil {
		return fmt.Errorf("websocket auth write: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(d.cfg.AuthTimeout))
	_, reply, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("websocket auth read: %w", err)
	}

	var f contracts.Frame
	if err := json.Unmarshal(reply, &f); err != nil {
		return fmt.Errorf("websocket auth reply: %w", err)
	}
	switch f.Type {
	case contracts.FrameAuthSuccess:
		return nil
	case contracts.FrameAuthError:
		var e contracts.ErrorData
		_ = json.Unmarshal(f.Data, &e)
		return fmt.Errorf("%w: %s", realtime.ErrAuthRejected, e.Message)
	default:
		return errors.New("websocket auth: unexpected reply " + f.Type)
	}
}
