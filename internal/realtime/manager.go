package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"transit-sync/internal/general/clock"
	"transit-sync/internal/general/contracts"
	"transit-sync/internal/general/logger"
)

const (
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 30 * time.Second
	DefaultMaxAttempts    = 5
)

// ManagerConfig configures NewManager. Only Preferred is required.
type ManagerConfig struct {
	Preferred Dialer
	// Fallback is dialed once Preferred fails with a non-auth error. The
	// switch lasts until the end of the current connect cycle.
	Fallback Dialer

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
	// SubscribeTimeout bounds subscribe/unsubscribe acks.
	SubscribeTimeout time.Duration

	Clock  clock.Clock
	Logger *logger.Logger
	Router *Router
	Cache  *Cache
}

// ConnectionHandle describes the channel a Connect call ended up with.
type ConnectionHandle struct {
	State     ConnectionState
	Transport TransportKind
}

// Manager owns the one channel to the relay and its connection state.
//
// Inbound location events update the Cache before every event is dispatched
// through the Router. Each state transition is dispatched as an
// EventConnectionState event. Handlers of that event must not wait on
// Connect, Disconnect or Dispose.
type Manager struct {
	preferred        Dialer
	fallback         Dialer
	initialBackoff   time.Duration
	maxBackoff       time.Duration
	maxAttempts      int
	subscribeTimeout time.Duration

	clock  clock.Clock
	log    *logger.Logger
	router *Router
	cache  *Cache

	flight singleflight.Group
	// notifyMu keeps state changes and their dispatch in order.
	notifyMu sync.Mutex

	mu       sync.Mutex
	state    ConnectionState
	ch       Channel
	kind     TransportKind
	gen      uint64
	creds    Credentials
	cycle    context.Context
	cancel   context.CancelFunc
	cycleID  uint64
	topics   []string
	hooks    []func(context.Context)
	disposed bool

	wg sync.WaitGroup
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Preferred == nil {
		return nil, errors.New("realtime: preferred dialer is required")
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = DefaultAckTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}

	return &Manager{
		preferred:        cfg.Preferred,
		fallback:         cfg.Fallback,
		initialBackoff:   cfg.InitialBackoff,
		maxBackoff:       cfg.MaxBackoff,
		maxAttempts:      cfg.MaxAttempts,
		subscribeTimeout: cfg.SubscribeTimeout,
		clock:            cfg.Clock,
		log:              cfg.Logger,
		router:           cfg.Router,
		cache:            cfg.Cache,
	}, nil
}

// Connect opens the channel, or returns the one already up. Concurrent
// calls share a single attempt and its result. The error is ErrAuthRejected,
// ErrRetriesExhausted, ErrDisposed, ErrNotConnected when Disconnect
// interrupted the attempt, or ctx's error when the caller stopped waiting.
func (m *Manager) Connect(ctx context.Context, creds Credentials) (*ConnectionHandle, error) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil, ErrDisposed
	}
	if m.ch != nil {
		h := &ConnectionHandle{State: stateFor(m.kind), Transport: m.kind}
		m.mu.Unlock()
		return h, nil
	}
	m.creds = creds
	if m.cycle == nil {
		m.cycleID++
		m.cycle, m.cancel = context.WithCancel(context.Background())
	}
	cycle, key := m.cycle, m.flightKey()
	m.mu.Unlock()

	select {
	case res := <-m.run(cycle, key):
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ConnectionHandle), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) flightKey() string {
	return "connect-" + strconv.FormatUint(m.cycleID, 10)
}

func (m *Manager) run(cycle context.Context, key string) <-chan singleflight.Result {
	return m.flight.DoChan(key, func() (any, error) {
		return m.connectLoop(cycle, key)
	})
}

func (m *Manager) connectLoop(ctx context.Context, key string) (*ConnectionHandle, error) {
	m.setState(ctx, StateConnecting, "", "")

	backoff := m.initialBackoff
	useFallback := false
	var lastErr error

	for attempt := 1; ; attempt++ {
		dialer := m.preferred
		if useFallback {
			dialer = m.fallback
		}

		ch, err := dialer.Dial(ctx, m.credentials())
		if err == nil {
			return m.install(ctx, key, ch, dialer.Kind())
		}
		if ctx.Err() != nil {
			return nil, ErrNotConnected
		}
		if errors.Is(err, ErrAuthRejected) {
			m.log.Error(ctx, "auth_rejected", "relay rejected credentials", err, map[string]any{
				"transport": dialer.Kind(),
			})
			m.setState(ctx, StateDisconnected, "", "auth rejected")
			return nil, err
		}

		lastErr = err
		m.log.Info(ctx, "dial_failed", "channel dial failed", map[string]any{
			"transport": dialer.Kind(),
			"attempt":   attempt,
			"reason":    err.Error(),
		})
		if attempt >= m.maxAttempts {
			break
		}

		if !useFallback && m.fallback != nil {
			useFallback = true
			m.log.Info(ctx, "transport_downgraded", "falling back to the secondary transport", map[string]any{
				"from": m.preferred.Kind(),
				"to":   m.fallback.Kind(),
			})
			continue
		}

		select {
		case <-m.clock.After(backoff):
		case <-ctx.Done():
			return nil, ErrNotConnected
		}
		backoff *= 2
		if backoff > m.maxBackoff {
			backoff = m.maxBackoff
		}
	}

	m.setState(ctx, StateDisconnected, "", "retries exhausted")
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, m.maxAttempts, lastErr)
}

func (m *Manager) credentials() Credentials {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds
}

func (m *Manager) install(ctx context.Context, key string, ch Channel, kind TransportKind) (*ConnectionHandle, error) {
	m.mu.Lock()
	if ctx.Err() != nil || m.disposed {
		m.mu.Unlock()
		_ = ch.Close()
		return nil, ErrNotConnected
	}
	m.gen++
	gen := m.gen
	m.ch, m.kind = ch, kind
	topics := append([]string(nil), m.topics...)
	hooks := append([]func(context.Context){}, m.hooks...)
	m.wg.Add(1)
	m.mu.Unlock()

	state := stateFor(kind)
	m.setState(ctx, state, kind, "")
	m.log.Info(ctx, "channel_connected", "channel established", map[string]any{
		"transport": kind,
		"topics":    len(topics),
	})

	go m.pump(ctx, key, gen, ch)

	for _, topic := range topics {
		if err := m.sendSubscription(ctx, ch, contracts.FrameSubscribe, topic); err != nil {
			m.log.Error(ctx, "topic_register_failed", "failed to re-register topic", err, map[string]any{"topic": topic})
		}
	}
	for _, hook := range hooks {
		m.runHook(ctx, hook)
	}

	return &ConnectionHandle{State: state, Transport: kind}, nil
}

func stateFor(kind TransportKind) ConnectionState {
	if kind == TransportPolling {
		return StateDegraded
	}
	return StateConnected
}

func (m *Manager) runHook(ctx context.Context, hook func(context.Context)) {
	defer func() {
		if rec := recover(); rec != nil {
			m.log.Error(ctx, "connect_hook_failed", "on-connect hook panicked", fmt.Errorf("%v", rec), nil)
		}
	}()
	hook(ctx)
}

// pump feeds inbound events until the channel dies or the cycle ends.
func (m *Manager) pump(ctx context.Context, key string, gen uint64, ch Channel) {
	defer m.wg.Done()

	events := ch.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				m.channelLost(ctx, key, gen, ch)
				return
			}
			m.ingest(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) ingest(ctx context.Context, ev Event) {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = m.clock.Now()
	}
	if m.cache != nil && contracts.IsLocationEvent(ev.Name) {
		s, err := SampleFromEvent(ev)
		if err != nil {
			m.log.Error(ctx, "location_rejected", "inbound location is invalid", err, map[string]any{"event": ev.Name})
		} else {
			m.cache.Set(s)
		}
	}
	if m.router != nil {
		m.router.Dispatch(ctx, ev)
	}
}

func (m *Manager) channelLost(ctx context.Context, key string, gen uint64, ch Channel) {
	m.mu.Lock()
	if m.gen != gen || ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.ch, m.kind = nil, ""
	m.mu.Unlock()

	reason := ErrChannelClosed
	if err := ch.Err(); err != nil {
		reason = err
	}
	m.log.Error(ctx, "channel_lost", "channel dropped, reconnecting", reason, nil)
	_ = ch.Close()

	for {
		res := <-m.run(ctx, key)
		if res.Err != nil {
			m.log.Error(ctx, "reconnect_failed", "automatic reconnect gave up", res.Err, nil)
			return
		}
		m.mu.Lock()
		alive := m.ch != nil
		m.mu.Unlock()
		if alive || ctx.Err() != nil {
			return
		}
	}
}

// Disconnect closes the channel and stays disconnected until the next
// Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	ch := m.teardownLocked()
	m.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	m.setState(nil, StateDisconnected, "", "disconnect requested")
}

// Dispose disconnects and waits for background work to stop. The Manager
// cannot be used afterwards.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	ch := m.teardownLocked()
	m.hooks = nil
	m.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	m.setState(nil, StateDisconnected, "", "disposed")
	m.wg.Wait()
}

func (m *Manager) teardownLocked() Channel {
	if m.cancel != nil {
		m.cancel()
	}
	m.cycle, m.cancel = nil, nil
	m.gen++
	ch := m.ch
	m.ch, m.kind = nil, ""
	return ch
}

// setState applies a transition and dispatches it. A non-nil guard that is
// already done drops the transition, so a cancelled connect cycle cannot
// overwrite what Disconnect decided.
func (m *Manager) setState(guard context.Context, to ConnectionState, kind TransportKind, reason string) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if guard != nil && guard.Err() != nil {
		m.mu.Unlock()
		return
	}
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	m.mu.Unlock()

	now := m.clock.Now()
	m.log.Info(context.Background(), "state_changed", "connection state changed", map[string]any{
		"from":      from.String(),
		"to":        to.String(),
		"transport": kind,
		"reason":    reason,
	})

	if m.router == nil {
		return
	}
	payload, err := json.Marshal(StateChange{
		From:      from.String(),
		To:        to.String(),
		Transport: string(kind),
		Reason:    reason,
		At:        now.UTC(),
	})
	if err != nil {
		return
	}
	m.router.Dispatch(context.Background(), Event{Name: EventConnectionState, Payload: payload, ReceivedAt: now})
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ActiveChannel returns the live channel, or nil, with the current state.
func (m *Manager) ActiveChannel() (Channel, ConnectionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ch, m.state
}

// OnConnected registers hook to run after every successful (re)connect,
// once topics are re-registered. Hooks run in registration order.
func (m *Manager) OnConnected(hook func(context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// Register records a server-side topic registration. It is sent now when a
// channel is up and again after every reconnect.
func (m *Manager) Register(ctx context.Context, topic string) error {
	m.mu.Lock()
	for _, t := range m.topics {
		if t == topic {
			m.mu.Unlock()
			return nil
		}
	}
	m.topics = append(m.topics, topic)
	ch := m.ch
	m.mu.Unlock()

	if ch == nil {
		return nil
	}
	return m.sendSubscription(ctx, ch, contracts.FrameSubscribe, topic)
}

// Unregister forgets topic and tells the relay when a channel is up.
func (m *Manager) Unregister(ctx context.Context, topic string) error {
	m.mu.Lock()
	found := false
	for i, t := range m.topics {
		if t == topic {
			m.topics = append(m.topics[:i:i], m.topics[i+1:]...)
			found = true
			break
		}
	}
	ch := m.ch
	m.mu.Unlock()

	if !found || ch == nil {
		return nil
	}
	return m.sendSubscription(ctx, ch, contracts.FrameUnsubscribe, topic)
}

// Topics returns the registered topics in registration order.
func (m *Manager) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.topics...)
}

func (m *Manager) sendSubscription(ctx context.Context, ch Channel, frame, topic string) error {
	payload, err := json.Marshal(contracts.SubscribeData{Topic: topic})
	if err != nil {
		return err
	}
	ack, err := emitWithin(ctx, m.clock, m.subscribeTimeout, ch, Message{Event: frame, Payload: payload})
	if err != nil {
		return fmt.Errorf("%s %s: %w", frame, topic, err)
	}
	if !ack.Success {
		return fmt.Errorf("%s %s: %s", frame, topic, ack.Message)
	}
	return nil
}
