package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"transit-sync/internal/general/clock"
	"transit-sync/internal/general/contracts"
	"transit-sync/internal/general/kv"
)

var errNetwork = errors.New("dial tcp: connection refused")

type stateRecorder struct {
	mu     sync.Mutex
	states []string
}

func recordStates(r *Router) *stateRecorder {
	rec := &stateRecorder{}
	r.Subscribe(EventConnectionState, func(_ context.Context, ev Event) error {
		var sc StateChange
		if err := json.Unmarshal(ev.Payload, &sc); err != nil {
			return err
		}
		rec.mu.Lock()
		rec.states = append(rec.states, sc.To)
		rec.mu.Unlock()
		return nil
	})
	return rec
}

func (r *stateRecorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

func newTestManager(t *testing.T, cfg ManagerConfig) *Manager {
	t.Helper()
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Dispose)
	return m
}

func TestNewManagerRequiresPreferredDialer(t *testing.T) {
	if _, err := NewManager(ManagerConfig{}); err == nil {
		t.Fatal("expected an error without a preferred dialer")
	}
}

func TestConnectIsSingleFlight(t *testing.T) {
	ch := newFakeChannel()
	dialer := &fakeDialer{kind: TransportWebsocket, gate: make(chan struct{}), results: []dialResult{{ch: ch}}}
	m := newTestManager(t, ManagerConfig{Preferred: dialer, Clock: clock.Fake(epoch)})

	const callers = 8
	var wg sync.WaitGroup
	handles := make([]*ConnectionHandle, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = m.Connect(context.Background(), Credentials{Token: "t"})
		}(i)
	}

	requireEventually(t, "dial to start", func() bool { return dialer.callCount() == 1 })
	time.Sleep(10 * time.Millisecond)
	close(dialer.gate)
	wg.Wait()

	if n := dialer.callCount(); n != 1 {
		t.Fatalf("dials = %d, want 1", n)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if handles[i].State != StateConnected || handles[i].Transport != TransportWebsocket {
			t.Fatalf("caller %d handle = %+v", i, handles[i])
		}
	}
	if m.State() != StateConnected {
		t.Fatalf("state = %v", m.State())
	}
}

func TestConnectAuthRejectionIsTerminal(t *testing.T) {
	preferred := &fakeDialer{kind: TransportWebsocket, results: []dialResult{{err: fmt.Errorf("%w: token expired", ErrAuthRejected)}}}
	fallback := &fakeDialer{kind: TransportPolling, results: []dialResult{{ch: newFakeChannel()}}}
	m := newTestManager(t, ManagerConfig{Preferred: preferred, Fallback: fallback, Clock: clock.Fake(epoch)})

	_, err := m.Connect(context.Background(), Credentials{Token: "old"})
	if !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("err = %v, want ErrAuthRejected", err)
	}
	if preferred.callCount() != 1 || fallback.callCount() != 0 {
		t.Fatalf("dials = %d/%d, want 1/0", preferred.callCount(), fallback.callCount())
	}
	if m.State() != StateDisconnected {
		t.Fatalf("state = %v", m.State())
	}
}

func TestConnectBacksOffThenGivesUp(t *testing.T) {
	clk := clock.Fake(epoch)
	dialer := &fakeDialer{kind: TransportWebsocket, results: []dialResult{{err: errNetwork}}}
	router := NewRouter(nil)
	rec := recordStates(router)
	m := newTestManager(t, ManagerConfig{
		Preferred:      dialer,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		MaxAttempts:    3,
		Clock:          clk,
		Router:         router,
	})

	done := make(chan error, 1)
	go func() {
		_, err := m.Connect(context.Background(), Credentials{Token: "t"})
		done <- err
	}()

	clk.WaitForTimers(1)
	if dialer.callCount() != 1 {
		t.Fatalf("dials before first backoff = %d", dialer.callCount())
	}
	clk.Advance(time.Second)

	clk.WaitForTimers(1)
	clk.Advance(time.Second)
	if dialer.callCount() != 2 {
		t.Fatalf("second backoff should be 2s, dials = %d", dialer.callCount())
	}
	clk.Advance(time.Second)

	err := requireReceive(t, done, "connect result")
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("err = %v, want ErrRetriesExhausted", err)
	}
	if dialer.callCount() != 3 {
		t.Fatalf("dials = %d, want 3", dialer.callCount())
	}
	if m.State() != StateDisconnected {
		t.Fatalf("state = %v", m.State())
	}
	if want := []string{"connecting", "disconnected"}; !reflect.DeepEqual(rec.get(), want) {
		t.Fatalf("states = %v, want %v", rec.get(), want)
	}
}

func TestConnectDowngradesToPolling(t *testing.T) {
	preferred := &fakeDialer{kind: TransportWebsocket, results: []dialResult{{err: errNetwork}}}
	fallback := &fakeDialer{kind: TransportPolling, results: []dialResult{{ch: newFakeChannel()}}}
	m := newTestManager(t, ManagerConfig{Preferred: preferred, Fallback: fallback, Clock: clock.Fake(epoch)})

	h, err := m.Connect(context.Background(), Credentials{Token: "t"})
	if err != nil {
		t.Fatal(err)
	}
	if h.State != StateDegraded || h.Transport != TransportPolling {
		t.Fatalf("handle = %+v", h)
	}
	if preferred.callCount() != 1 || fallback.callCount() != 1 {
		t.Fatalf("dials = %d/%d, want 1/1", preferred.callCount(), fallback.callCount())
	}
}

func TestReconnectReRegistersTopicsAndRunsHooks(t *testing.T) {
	ch1, ch2 := newFakeChannel(), newFakeChannel()
	dialer := &fakeDialer{kind: TransportWebsocket, results: []dialResult{{ch: ch1}, {ch: ch2}}}
	router := NewRouter(nil)
	rec := recordStates(router)
	m := newTestManager(t, ManagerConfig{Preferred: dialer, Clock: clock.Fake(epoch), Router: router})

	var hooks sync.WaitGroup
	hooks.Add(2)
	m.OnConnected(func(context.Context) { hooks.Done() })

	if err := m.Register(context.Background(), contracts.RouteTopic("7")); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Connect(context.Background(), Credentials{Token: "t"}); err != nil {
		t.Fatal(err)
	}
	if got := ch1.sentEvents(contracts.FrameSubscribe); len(got) != 1 || string(got[0].Payload) != `{"topic":"route:7"}` {
		t.Fatalf("first channel subscriptions = %+v", got)
	}

	ch1.kill(errors.New("read: connection reset"))
	hooks.Wait()

	requireEventually(t, "reconnected state", func() bool {
		c, s := m.ActiveChannel()
		return c == Channel(ch2) && s == StateConnected
	})
	if got := ch2.sentEvents(contracts.FrameSubscribe); len(got) != 1 {
		t.Fatalf("second channel subscriptions = %+v", got)
	}
	want := []string{"connecting", "connected", "connecting", "connected"}
	if !reflect.DeepEqual(rec.get(), want) {
		t.Fatalf("states = %v, want %v", rec.get(), want)
	}
}

func TestDisconnectStaysDisconnected(t *testing.T) {
	ch1, ch2 := newFakeChannel(), newFakeChannel()
	dialer := &fakeDialer{kind: TransportWebsocket, results: []dialResult{{ch: ch1}, {ch: ch2}}}
	m := newTestManager(t, ManagerConfig{Preferred: dialer, Clock: clock.Fake(epoch)})

	if _, err := m.Connect(context.Background(), Credentials{Token: "t"}); err != nil {
		t.Fatal(err)
	}
	m.Disconnect()

	if !ch1.isClosed() {
		t.Fatal("channel should be closed")
	}
	time.Sleep(20 * time.Millisecond)
	if dialer.callCount() != 1 || m.State() != StateDisconnected {
		t.Fatalf("dials = %d state = %v after disconnect", dialer.callCount(), m.State())
	}
	if c, _ := m.ActiveChannel(); c != nil {
		t.Fatal("no channel expected after disconnect")
	}

	h, err := m.Connect(context.Background(), Credentials{Token: "t"})
	if err != nil || h.State != StateConnected {
		t.Fatalf("reconnect = %+v, %v", h, err)
	}
	if dialer.callCount() != 2 {
		t.Fatalf("dials = %d, want 2", dialer.callCount())
	}
}

func TestDisconnectInterruptsBackoff(t *testing.T) {
	clk := clock.Fake(epoch)
	dialer := &fakeDialer{kind: TransportWebsocket, results: []dialResult{{err: errNetwork}}}
	m := newTestManager(t, ManagerConfig{Preferred: dialer, Clock: clk, MaxAttempts: 10})

	done := make(chan error, 1)
	go func() {
		_, err := m.Connect(context.Background(), Credentials{Token: "t"})
		done <- err
	}()
	clk.WaitForTimers(1)
	m.Disconnect()

	if err := requireReceive(t, done, "connect result"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	if m.State() != StateDisconnected {
		t.Fatalf("state = %v", m.State())
	}
}

func TestDisposeRejectsConnect(t *testing.T) {
	dialer := &fakeDialer{kind: TransportWebsocket, results: []dialResult{{ch: newFakeChannel()}}}
	m, err := NewManager(ManagerConfig{Preferred: dialer, Clock: clock.Fake(epoch)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Connect(context.Background(), Credentials{}); err != nil {
		t.Fatal(err)
	}
	m.Dispose()
	m.Dispose()

	if _, err := m.Connect(context.Background(), Credentials{}); !errors.Is(err, ErrDisposed) {
		t.Fatalf("err = %v, want ErrDisposed", err)
	}
}

func TestInboundEventsReachCacheAndRouter(t *testing.T) {
	ch := newFakeChannel()
	dialer := &fakeDialer{kind: TransportWebsocket, results: []dialResult{{ch: ch}}}
	router := NewRouter(nil)
	cache := NewCache()
	m := newTestManager(t, ManagerConfig{Preferred: dialer, Clock: clock.Fake(epoch), Router: router, Cache: cache})

	seen := make(chan Event, 4)
	router.Subscribe(contracts.EventDriverLocation, func(_ context.Context, ev Event) error {
		seen <- ev
		return nil
	})
	router.Subscribe(contracts.EventDriverLocation, func(context.Context, Event) error {
		return errors.New("map widget crashed")
	})

	if _, err := m.Connect(context.Background(), Credentials{Token: "t"}); err != nil {
		t.Fatal(err)
	}
	ch.events <- Event{Name: contracts.EventDriverLocation, Payload: mustJSON(t, location("D7"))}

	ev := requireReceive(t, seen, "driver location")
	if ev.ReceivedAt.IsZero() {
		t.Fatal("arrival time should be stamped")
	}
	s, ok := cache.Get("D7")
	if !ok || s.Point.Lat != 43.2 {
		t.Fatalf("cache = %+v, %v", s, ok)
	}
}

func TestQueuedOperationsSurviveReconnects(t *testing.T) {
	ctx := context.Background()
	ch1, ch2 := newFakeChannel(), newFakeChannel()
	ch1.setRespond(func(_ context.Context, msg Message) (Ack, error) {
		if msg.Event == contracts.FrameSubscribe {
			return Ack{Success: true}, nil
		}
		return Ack{}, errors.New("write: broken pipe")
	})
	dialer := &fakeDialer{kind: TransportWebsocket, results: []dialResult{{ch: ch1}, {ch: ch2}}}
	m := newTestManager(t, ManagerConfig{Preferred: dialer, Clock: clock.Fake(epoch)})
	q := NewQueue(ctx, QueueConfig{Source: m, Store: kv.NewMemory(), Clock: clock.Fake(epoch)})

	flushed := make(chan FlushResult, 4)
	m.OnConnected(func(ctx context.Context) {
		res, _ := q.Flush(ctx)
		flushed <- res
	})

	for _, id := range []string{"a", "b", "c"} {
		if out, _ := q.Send(ctx, contracts.EventDriverLocation, location(id)); out != Queued {
			t.Fatalf("%s: outcome = %v, want queued while disconnected", id, out)
		}
	}

	if _, err := m.Connect(ctx, Credentials{Token: "t"}); err != nil {
		t.Fatal(err)
	}
	if res := requireReceive(t, flushed, "first flush"); res.Delivered != 0 || res.Remaining != 3 {
		t.Fatalf("first flush = %+v", res)
	}

	ch1.kill(errors.New("read: connection reset"))
	if res := requireReceive(t, flushed, "second flush"); res.Delivered != 3 || res.Remaining != 0 {
		t.Fatalf("second flush = %+v", res)
	}

	var order []string
	for _, msg := range ch2.sentEvents(contracts.EventDriverLocation) {
		var p contracts.LocationPayload
		_ = json.Unmarshal(msg.Payload, &p)
		order = append(order, p.EntityID)
	}
	if !reflect.DeepEqual(order, []string{"a", "b", "c"}) {
		t.Fatalf("delivery order = %v", order)
	}
}

func TestUnregisteredTopicIsNotResent(t *testing.T) {
	ch1, ch2 := newFakeChannel(), newFakeChannel()
	dialer := &fakeDialer{kind: TransportWebsocket, results: []dialResult{{ch: ch1}, {ch: ch2}}}
	m := newTestManager(t, ManagerConfig{Preferred: dialer, Clock: clock.Fake(epoch)})

	var hooks sync.WaitGroup
	hooks.Add(2)
	m.OnConnected(func(context.Context) { hooks.Done() })

	ctx := context.Background()
	for _, id := range []string{"7", "9"} {
		if err := m.Register(ctx, contracts.RouteTopic(id)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := m.Connect(ctx, Credentials{Token: "t"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Unregister(ctx, contracts.RouteTopic("7")); err != nil {
		t.Fatal(err)
	}
	if got := ch1.sentEvents(contracts.FrameUnsubscribe); len(got) != 1 || string(got[0].Payload) != `{"topic":"route:7"}` {
		t.Fatalf("unsubscribe frames = %+v", got)
	}
	if got := m.Topics(); !reflect.DeepEqual(got, []string{"route:9"}) {
		t.Fatalf("topics = %v", got)
	}

	ch1.kill(errors.New("read: connection reset"))
	hooks.Wait()

	got := ch2.sentEvents(contracts.FrameSubscribe)
	if len(got) != 1 || string(got[0].Payload) != `{"topic":"route:9"}` {
		t.Fatalf("resent subscriptions = %+v", got)
	}

	// unknown topics are a no-op
	if err := m.Unregister(ctx, contracts.RouteTopic("404")); err != nil {
		t.Fatal(err)
	}
	if n := len(ch2.sentEvents(contracts.FrameUnsubscribe)); n != 0 {
		t.Fatalf("unexpected unsubscribe frames: %d", n)
	}
}
