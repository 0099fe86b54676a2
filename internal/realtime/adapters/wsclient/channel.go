package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"transit-sync/internal/general/contracts"
	"transit-sync/internal/general/logger"
	"transit-sync/internal/realtime"
)

type channel struct {
	conn *websocket.Conn
	cfg  Config
	log  *logger.Logger

	writeMu sync.Mutex
	events  chan realtime.Event

	mu      sync.Mutex
	pending map[string]chan realtime.Ack
	backlog []realtime.Event // read but not yet handed to events
	readEnd bool
	err     error

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// maxBacklog bounds inbound events held while the consumer is slow. The
// oldest are dropped past it.
const maxBacklog = 1024

func newChannel(conn *websocket.Conn, cfg Config, log *logger.Logger) *channel {
	return &channel{
		conn:    conn,
		cfg:     cfg,
		log:     log,
		events:  make(chan realtime.Event, 64),
		pending: make(map[string]chan realtime.Ack),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (c *channel) Events() <-chan realtime.Event { return c.events }

func (c *channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Emit writes msg and waits for the ack with the same correlation id.
func (c *channel) Emit(ctx context.Context, msg realtime.Message) (realtime.Ack, error) {
	id := msg.CorrelationID
	if id == "" {
		id = uuid.NewString()
	}
	frame, err := contracts.NewFrame(msg.Event, id, msg.Payload)
	if err != nil {
		return realtime.Ack{}, err
	}

	wait := make(chan realtime.Ack, 1)
	c.mu.Lock()
	c.pending[id] = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.writeJSON(frame); err != nil {
		return realtime.Ack{}, err
	}

	select {
	case ack := <-wait:
		return ack, nil
	case <-ctx.Done():
		return realtime.Ack{}, ctx.Err()
	case <-c.done:
		return realtime.Ack{}, realtime.ErrChannelClosed
	}
}

func (c *channel) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// readLoop never blocks on the consumer: acks resolve inline and events go
// to the backlog drained by forward.
func (c *channel) readLoop() {
	defer func() {
		c.mu.Lock()
		c.readEnd = true
		c.mu.Unlock()
		c.signal()
	}()

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}

		var f contracts.Frame
		if err := json.Unmarshal(payload, &f); err != nil {
			c.log.Error(context.Background(), "ws_frame_invalid", "dropping unreadable frame", err, nil)
			continue
		}

		switch f.Type {
		case contracts.FrameAck, contracts.FrameError:
			c.resolve(f)
		default:
			c.enqueue(realtime.Event{Name: f.Type, Payload: f.Data, ReceivedAt: time.Now()})
		}
	}
}

func (c *channel) enqueue(ev realtime.Event) {
	c.mu.Lock()
	if len(c.backlog) >= maxBacklog {
		c.backlog = c.backlog[1:]
		c.log.Error(context.Background(), "ws_backlog_overflow", "dropping oldest inbound event",
			errors.New("inbound backlog full"), map[string]any{"limit": maxBacklog})
	}
	c.backlog = append(c.backlog, ev)
	c.mu.Unlock()
	c.signal()
}

func (c *channel) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// forward moves the backlog into events in arrival order and closes events
// once the read side has ended and everything read was handed over.
func (c *channel) forward() {
	defer close(c.events)
	for {
		c.mu.Lock()
		batch := c.backlog
		c.backlog = nil
		ended := c.readEnd
		c.mu.Unlock()

		for _, ev := range batch {
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		}
		if len(batch) > 0 {
			continue
		}
		if ended {
			return
		}
		select {
		case <-c.wake:
		case <-c.done:
			return
		}
	}
}

// resolve hands an ack or error frame to the Emit waiting on it.
func (c *channel) resolve(f contracts.Frame) {
	var ack realtime.Ack
	if f.Type == contracts.FrameAck {
		var d contracts.AckData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			ack = realtime.Ack{Message: "unreadable ack"}
		} else {
			ack = realtime.Ack{Success: d.Success, Message: d.Message}
		}
	} else {
		var d contracts.ErrorData
		_ = json.Unmarshal(f.Data, &d)
		ack = realtime.Ack{Message: d.Message}
	}

	c.mu.Lock()
	wait, ok := c.pending[f.CorrelationID]
	c.mu.Unlock()
	if !ok {
		c.log.Debug(context.Background(), "ws_ack_unmatched", "ack for an operation nobody waits on", map[string]any{
			"correlation_id": f.CorrelationID,
		})
		return
	}
	select {
	case wait <- ack:
	default:
	}
}

func (c *channel) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.fail(err)
				return
			}
		}
	}
}

// fail records the first transport error and tears the socket down.
func (c *channel) fail(err error) {
	c.mu.Lock()
	if c.err == nil && !c.closedLocked() {
		c.err = err
	}
	c.mu.Unlock()
	c.shutdown(false)
}

func (c *channel) closedLocked() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *channel) Close() error {
	c.shutdown(true)
	return nil
}

func (c *channel) shutdown(graceful bool) {
	c.closeOnce.Do(func() {
		close(c.done)
		if graceful {
			c.writeMu.Lock()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
				time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
		}
		_ = c.conn.Close()
	})
}

var _ realtime.Channel = (*channel)(nil)
