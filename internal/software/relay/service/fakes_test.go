package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"transit-sync/internal/common/ws"
	"transit-sync/internal/domain/geo"
	"transit-sync/internal/domain/user"
	"transit-sync/internal/general/clock"
	"transit-sync/internal/general/contracts"
	"transit-sync/internal/general/logger"
	"transit-sync/internal/ports"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeUoW struct{}

func (fakeUoW) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeLocations struct {
	mu      sync.Mutex
	samples map[string]geo.LocationSample
	err     error
}

func (f *fakeLocations) UpsertLatest(_ context.Context, s geo.LocationSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.samples == nil {
		f.samples = make(map[string]geo.LocationSample)
	}
	f.samples[s.EntityID] = s
	return nil
}

func (f *fakeLocations) GetLatest(_ context.Context, id string) (*geo.LocationSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.samples[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeLocations) CountFresh(context.Context, geo.EntityType, time.Time) (int, error) {
	return 0, nil
}

func (f *fakeLocations) ListFresh(context.Context, geo.EntityType, time.Time, int, int) ([]geo.LocationSample, error) {
	return nil, nil
}

func (f *fakeLocations) Hotspots(context.Context, time.Time, int) ([]ports.Hotspot, error) {
	return nil, nil
}

type fakeReplies struct {
	mu   sync.Mutex
	recs []ports.ReplyRecord
	err  error
}

func (f *fakeReplies) Insert(_ context.Context, rec *ports.ReplyRecord) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.recs = append(f.recs, *rec)
	return int64(len(f.recs)), nil
}

func (f *fakeReplies) CountSince(context.Context, time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recs), nil
}

// loopbackPublisher hands published messages straight to a consumer, the
// way the broker would on a single instance.
type loopbackPublisher struct {
	consumer *FanoutConsumer

	mu        sync.Mutex
	published []contracts.RelayMessage
	err       error
}

func (p *loopbackPublisher) Publish(exchange, _, _ string, body []byte) error {
	if exchange != contracts.ExchangeRelayFanout {
		return errors.New("unexpected exchange " + exchange)
	}
	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return p.err
	}
	var msg contracts.RelayMessage
	_ = json.Unmarshal(body, &msg)
	p.published = append(p.published, msg)
	p.mu.Unlock()
	return p.consumer.Handle(context.Background(), body)
}

func (p *loopbackPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

type recordingSink struct {
	mu     sync.Mutex
	frames []contracts.Frame
}

func (s *recordingSink) Deliver(b []byte) error {
	var f contracts.Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Close() {}

func (s *recordingSink) received() []contracts.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]contracts.Frame(nil), s.frames...)
}

type fixture struct {
	svc       *relayService
	hub       *ws.Hub
	locations *fakeLocations
	replies   *fakeReplies
	pub       *loopbackPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.Discard()
	clk := clock.Fake(epoch)
	hub := ws.NewHub(clk, log)
	f := &fixture{
		hub:       hub,
		locations: &fakeLocations{},
		replies:   &fakeReplies{},
		pub:       &loopbackPublisher{consumer: NewFanoutConsumer(log, hub)},
	}
	f.svc = NewRelayService(log, clk, fakeUoW{}, f.locations, f.replies, f.pub, "test").(*relayService)
	return f
}

func (f *fixture) connect(userID string, role user.Role) (*ws.Session, *recordingSink) {
	sink := &recordingSink{}
	sess := f.hub.Add(context.Background(), ws.Identity{UserID: userID, Role: role}, ws.TransportWebsocket, sink)
	return sess, sink
}

func frameOf(t *testing.T, typ, corrID string, data any) contracts.Frame {
	t.Helper()
	f, err := contracts.NewFrame(typ, corrID, data)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func ackOf(t *testing.T, f contracts.Frame) contracts.AckData {
	t.Helper()
	if f.Type != contracts.FrameAck {
		t.Fatalf("frame type = %q, want ack", f.Type)
	}
	var a contracts.AckData
	if err := json.Unmarshal(f.Data, &a); err != nil {
		t.Fatal(err)
	}
	return a
}
