package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"transit-sync/internal/general/kv"
)

// requireEventually polls cond until it holds or a real-time safety valve
// expires.
func requireEventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func requireReceive[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

type fakeChannel struct {
	events chan Event

	mu      sync.Mutex
	emitted []Message
	respond func(ctx context.Context, msg Message) (Ack, error)
	err     error

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan Event, 16), closed: make(chan struct{})}
}

func (c *fakeChannel) Emit(ctx context.Context, msg Message) (Ack, error) {
	c.mu.Lock()
	c.emitted = append(c.emitted, msg)
	respond := c.respond
	c.mu.Unlock()

	select {
	case <-c.closed:
		return Ack{}, ErrChannelClosed
	default:
	}
	if respond == nil {
		return Ack{Success: true, Message: "ok"}, nil
	}
	return respond(ctx, msg)
}

func (c *fakeChannel) setRespond(f func(ctx context.Context, msg Message) (Ack, error)) {
	c.mu.Lock()
	c.respond = f
	c.mu.Unlock()
}

func (c *fakeChannel) Events() <-chan Event { return c.events }

func (c *fakeChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		close(c.events)
	})
	return nil
}

// kill simulates a transport failure.
func (c *fakeChannel) kill(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	_ = c.Close()
}

func (c *fakeChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeChannel) sent() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.emitted...)
}

func (c *fakeChannel) sentEvents(name string) []Message {
	var out []Message
	for _, m := range c.sent() {
		if m.Event == name {
			out = append(out, m)
		}
	}
	return out
}

type dialResult struct {
	ch  Channel
	err error
}

type fakeDialer struct {
	kind TransportKind
	gate chan struct{}

	mu      sync.Mutex
	results []dialResult
	calls   int
}

func (d *fakeDialer) Kind() TransportKind { return d.kind }

// Dial returns the scripted results in order and repeats the last one.
func (d *fakeDialer) Dial(ctx context.Context, _ Credentials) (Channel, error) {
	d.mu.Lock()
	d.calls++
	var r dialResult
	switch {
	case len(d.results) == 0:
		r = dialResult{err: errors.New("no script")}
	case len(d.results) == 1:
		r = d.results[0]
	default:
		r = d.results[0]
		d.results = d.results[1:]
	}
	d.mu.Unlock()

	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.ch, r.err
}

func (d *fakeDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeDegraded struct {
	mu   sync.Mutex
	sent []Message
	ack  Ack
	err  error
}

func (d *fakeDegraded) Send(_ context.Context, msg Message) (Ack, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, msg)
	return d.ack, d.err
}

func (d *fakeDegraded) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

type stubSource struct {
	mu    sync.Mutex
	ch    Channel
	state ConnectionState
}

func (s *stubSource) ActiveChannel() (Channel, ConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch, s.state
}

func (s *stubSource) set(ch Channel, state ConnectionState) {
	s.mu.Lock()
	s.ch, s.state = ch, state
	s.mu.Unlock()
}

// brokenStore fails every call.
type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, error) { return nil, errors.New("disk gone") }
func (brokenStore) Set(context.Context, string, []byte) error   { return errors.New("disk gone") }
func (brokenStore) Remove(context.Context, string) error        { return errors.New("disk gone") }

var _ kv.Store = brokenStore{}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}
