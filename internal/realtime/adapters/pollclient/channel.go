package pollclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"transit-sync/internal/general/contracts"
	"transit-sync/internal/realtime"
)

var errSessionGone = errors.New("poll session expired")

type channel struct {
	d         *Dialer
	token     string
	sessionID string

	ctx    context.Context
	cancel context.CancelFunc
	events chan realtime.Event

	mu  sync.Mutex
	err error

	closeOnce sync.Once
}

func newChannel(d *Dialer, token, sessionID string) *channel {
	ctx, cancel := context.WithCancel(context.Background())
	return &channel{
		d:         d,
		token:     token,
		sessionID: sessionID,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan realtime.Event, 64),
	}
}

func (c *channel) Events() <-chan realtime.Event { return c.events }

func (c *channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// pollLoop long-polls until the session dies, three polls in a row fail, or
// the channel is closed.
func (c *channel) pollLoop() {
	defer close(c.events)

	failures := 0
	url := c.d.sessionURL(c.sessionID, "/events?wait="+strconv.Itoa(int(c.d.cfg.Wait/time.Second)))
	for c.ctx.Err() == nil {
		frames, err := c.poll(url)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			failures++
			if errors.Is(err, errSessionGone) || failures >= maxConsecutiveFail {
				c.setErr(err)
				return
			}
			c.d.cfg.Logger.Info(c.ctx, "poll_failed", "poll request failed, retrying", map[string]any{
				"session_id": c.sessionID,
				"failures":   failures,
				"reason":     err.Error(),
			})
			select {
			case <-time.After(defaultRetryPause):
			case <-c.ctx.Done():
				return
			}
			continue
		}
		failures = 0

		now := time.Now()
		for _, f := range frames {
			select {
			case c.events <- realtime.Event{Name: f.Type, Payload: f.Data, ReceivedAt: now}:
			case <-c.ctx.Done():
				return
			}
		}
	}
}

func (c *channel) poll(url string) ([]contracts.Frame, error) {
	resp, err := c.d.do(c.ctx, http.MethodGet, url, c.token, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return nil, nil
	case http.StatusNotFound, http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", errSessionGone, resp.StatusCode)
	default:
		return nil, fmt.Errorf("poll: unexpected status %d", resp.StatusCode)
	}

	var frames []contracts.Frame
	if err := json.NewDecoder(resp.Body).Decode(&frames); err != nil {
		return nil, fmt.Errorf("poll: decode frames: %w", err)
	}
	return frames, nil
}

// Emit posts one frame and returns the ack the relay answers with.
func (c *channel) Emit(ctx context.Context, msg realtime.Message) (realtime.Ack, error) {
	if c.ctx.Err() != nil {
		return realtime.Ack{}, realtime.ErrChannelClosed
	}
	id := msg.CorrelationID
	if id == "" {
		id = uuid.NewString()
	}
	frame, err := contracts.NewFrame(msg.Event, id, msg.Payload)
	if err != nil {
		return realtime.Ack{}, err
	}

	resp, err := c.d.do(ctx, http.MethodPost, c.d.sessionURL(c.sessionID, "/emit"), c.token, frame)
	if err != nil {
		return realtime.Ack{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return realtime.Ack{}, errSessionGone
	}

	var ackFrame contracts.Frame
	if err := json.NewDecoder(resp.Body).Decode(&ackFrame); err != nil {
		return realtime.Ack{}, fmt.Errorf("emit: status %d: %w", resp.StatusCode, err)
	}
	var data contracts.AckData
	if err := json.Unmarshal(ackFrame.Data, &data); err != nil {
		return realtime.Ack{}, fmt.Errorf("emit: decode ack: %w", err)
	}
	return realtime.Ack{Success: data.Success, Message: data.Message}, nil
}

func (c *channel) setErr(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}

// Close stops polling and deletes the session on the relay.
func (c *channel) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		resp, err := c.d.do(ctx, http.MethodDelete, c.d.sessionURL(c.sessionID, ""), c.token, nil)
		if err == nil {
			resp.Body.Close()
		}
	})
	return nil
}

var _ realtime.Channel = (*channel)(nil)
