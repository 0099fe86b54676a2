package realtime

import (
	"context"
	"fmt"
	"sync"

	"transit-sync/internal/general/logger"
)

// Wildcard subscribes to every event type. Wildcard handlers run after the
// type-specific ones.
const Wildcard = "*"

// Handler consumes one event. A returned error is logged and does not reach
// other handlers.
type Handler func(ctx context.Context, ev Event) error

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	router    *Router
	eventType string
	id        uint64
	handler   Handler
	once      sync.Once
}

// EventType returns the type this subscription listens to.
func (s *Subscription) EventType() string { return s.eventType }

// Unsubscribe removes exactly this registration. Calling it again is a no-op.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() { s.router.remove(s) })
}

// Router fans events out to subscribers.
type Router struct {
	log *logger.Logger

	mu     sync.RWMutex
	subs   map[string][]*Subscription
	nextID uint64
}

func NewRouter(log *logger.Logger) *Router {
	if log == nil {
		log = logger.Discard()
	}
	return &Router{log: log, subs: make(map[string][]*Subscription)}
}

// Subscribe registers h for eventType. Handlers for one type run in
// registration order.
func (r *Router) Subscribe(eventType string, h Handler) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	s := &Subscription{router: r, eventType: eventType, id: r.nextID, handler: h}
	r.subs[eventType] = append(r.subs[eventType], s)
	return s
}

func (r *Router) remove(s *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.subs[s.eventType]
	for i, cur := range list {
		if cur.id != s.id {
			continue
		}
		next := make([]*Subscription, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.subs, s.eventType)
		} else {
			r.subs[s.eventType] = next
		}
		return
	}
}

// Count returns the number of live subscriptions for eventType.
func (r *Router) Count(eventType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[eventType])
}

// Dispatch runs every matching handler synchronously and returns how many
// completed without error or panic.
func (r *Router) Dispatch(ctx context.Context, ev Event) int {
	r.mu.RLock()
	handlers := make([]*Subscription, 0, len(r.subs[ev.Name])+len(r.subs[Wildcard]))
	handlers = append(handlers, r.subs[ev.Name]...)
	if ev.Name != Wildcard {
		handlers = append(handlers, r.subs[Wildcard]...)
	}
	r.mu.RUnlock()

	ok := 0
	for _, s := range handlers {
		if err := r.invoke(ctx, s, ev); err != nil {
			r.log.Error(ctx, "handler_failed", "event handler failed", err, map[string]any{
				"event":        ev.Name,
				"subscription": s.id,
			})
			continue
		}
		ok++
	}
	return ok
}

func (r *Router) invoke(ctx context.Context, s *Subscription, ev Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return s.handler(ctx, ev)
}
