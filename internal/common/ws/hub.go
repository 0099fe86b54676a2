// Package ws keeps the relay's live client sessions and fans relayed
// events out to them. A session is either a websocket connection or a
// polling mailbox; the hub only sees the Sink.
package ws

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"sync"
	"time"

	"transit-sync/internal/domain/user"
	"transit-sync/internal/general/clock"
	"transit-sync/internal/general/contracts"
	"transit-sync/internal/general/logger"

	"github.com/google/uuid"
)

// Transport names used in logs and session listings.
const (
	TransportWebsocket = "websocket"
	TransportPolling   = "polling"
)

// Identity is the authenticated owner of a session, taken from its token.
type Identity struct {
	UserID string
	Role   user.Role
}

// Sink writes encoded frames to one client.
type Sink interface {
	Deliver(frame []byte) error
	Close()
}

// idler is implemented by sinks that expire when nobody reads them.
type idler interface {
	IdleSince() time.Time
}

// Session is one connected client. Topics are held per session and are
// gone once the session is removed.
type Session struct {
	ID        string
	Transport string
	Identity

	sink Sink

	mu     sync.Mutex
	topics map[string]struct{}
}

// Send delivers an encoded frame to the session's client.
func (s *Session) Send(frame []byte) error {
	return s.sink.Deliver(frame)
}

// Sink returns the session's transport sink.
func (s *Session) Sink() Sink { return s.sink }

// SendFrame encodes and delivers f.
func (s *Session) SendFrame(f contracts.Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return s.sink.Deliver(b)
}

// Subscribe registers topic. It reports false when it was already held.
func (s *Session) Subscribe(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topics[topic]; ok {
		return false
	}
	s.topics[topic] = struct{}{}
	return true
}

// Unsubscribe drops topic. It reports false when it was not held.
func (s *Session) Unsubscribe(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topics[topic]; !ok {
		return false
	}
	delete(s.topics, topic)
	return true
}

func (s *Session) Subscribed(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.topics[topic]
	return ok
}

// Topics returns the held topics, sorted.
func (s *Session) Topics() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

// Matches reports whether the audience selects this session.
func (s *Session) Matches(a contracts.Audience) bool {
	if a.Exclude != "" && a.Exclude == s.UserID {
		return false
	}
	if len(a.Roles) > 0 && !slices.Contains(a.Roles, s.Role.String()) {
		return false
	}
	if len(a.UserIDs) > 0 && !slices.Contains(a.UserIDs, s.UserID) {
		return false
	}
	if a.Topic != "" && !s.Subscribed(a.Topic) {
		return false
	}
	return true
}

// Hub stores all active sessions keyed by session id.
type Hub struct {
	clock  clock.Clock
	logger *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewHub(clk clock.Clock, logger *logger.Logger) *Hub {
	if clk == nil {
		clk = clock.Real()
	}
	return &Hub{
		clock:    clk,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Add registers a new session for identity and returns it.
func (h *Hub) Add(ctx context.Context, identity Identity, transport string, sink Sink) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		Transport: transport,
		Identity:  identity,
		sink:      sink,
		topics:    make(map[string]struct{}),
	}

	h.mu.Lock()
	h.sessions[s.ID] = s
	n := len(h.sessions)
	h.mu.Unlock()

	h.logger.Info(ctx, "session_registered", "Client session registered", map[string]any{
		"session_id": s.ID,
		"user_id":    identity.UserID,
		"role":       identity.Role.String(),
		"transport":  transport,
		"sessions":   n,
	})
	return s
}

// Remove deletes and closes a session. Unknown ids are ignored.
func (h *Hub) Remove(ctx context.Context, id string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()
	if !ok {
		return
	}

	s.sink.Close()
	h.logger.Info(ctx, "session_removed", "Client session removed", map[string]any{
		"session_id": id,
		"user_id":    s.UserID,
		"transport":  s.Transport,
	})
}

// Get looks a session up by id.
func (h *Hub) Get(id string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Online reports whether userID has at least one live session.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sessions {
		if s.UserID == userID {
			return true
		}
	}
	return false
}

// Stats counts live sessions per transport and per role.
type Stats struct {
	Total       int               `json:"total"`
	ByTransport map[string]int    `json:"by_transport"`
	ByRole      map[user.Role]int `json:"by_role"`
}

// Stats takes a snapshot of the live sessions.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st := Stats{ByTransport: map[string]int{}, ByRole: map[user.Role]int{}}
	for _, s := range h.sessions {
		st.Total++
		st.ByTransport[s.Transport]++
		st.ByRole[s.Role]++
	}
	return st
}

// Deliver writes msg as an event frame to every matching session and
// returns how many accepted it. Write failures are logged; the owning
// handler removes broken sessions.
func (h *Hub) Deliver(ctx context.Context, msg contracts.RelayMessage) int {
	frame, err := json.Marshal(contracts.Frame{
		Type:          msg.Event,
		CorrelationID: msg.CorrelationID,
		Data:          msg.Data,
	})
	if err != nil {
		h.logger.Error(ctx, "relay_frame_encode_failed", "Failed to encode relayed frame", err, map[string]any{"event": msg.Event})
		return 0
	}

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		if s.Matches(msg.Audience) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if err := s.Send(frame); err != nil {
			h.logger.Error(ctx, "relay_delivery_failed", "Failed to deliver frame to session", err, map[string]any{
				"session_id": s.ID,
				"user_id":    s.UserID,
				"event":      msg.Event,
			})
			continue
		}
		delivered++
	}
	return delivered
}

// Sweep removes sessions whose sink has been idle for longer than ttl and
// returns how many it removed.
func (h *Hub) Sweep(ctx context.Context, ttl time.Duration) int {
	now := h.clock.Now()

	h.mu.RLock()
	var stale []string
	for id, s := range h.sessions {
		if i, ok := s.sink.(idler); ok && now.Sub(i.IdleSince()) > ttl {
			stale = append(stale, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range stale {
		h.Remove(ctx, id)
	}
	if len(stale) > 0 {
		h.logger.Info(ctx, "sessions_expired", "Expired idle sessions", map[string]any{"count": len(stale)})
	}
	return len(stale)
}
