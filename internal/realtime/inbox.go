package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"transit-sync/internal/general/contracts"
	"transit-sync/internal/general/logger"
)

// Notification is one visible inbox entry.
type Notification struct {
	ID         string
	Kind       string // notification|new_notification|broadcast
	Title      string
	Body       string
	Data       json.RawMessage
	CreatedAt  time.Time
	ReceivedAt time.Time
}

// Inbox collects notifications and broadcasts in arrival order. Dismissed
// ids go to the Guard so a replayed event cannot bring them back.
type Inbox struct {
	guard *Guard
	log   *logger.Logger
	subs  []*Subscription

	mu    sync.Mutex
	items []Notification
}

// NewInbox subscribes to the notification events on router.
func NewInbox(router *Router, guard *Guard, log *logger.Logger) *Inbox {
	if log == nil {
		log = logger.Discard()
	}
	in := &Inbox{guard: guard, log: log}
	for _, name := range []string{contracts.EventNotification, contracts.EventNewNotification, contracts.EventBroadcast} {
		in.subs = append(in.subs, router.Subscribe(name, in.handle))
	}
	return in
}

func (in *Inbox) handle(ctx context.Context, ev Event) error {
	var p contracts.NotificationPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return fmt.Errorf("decode %s: %w", ev.Name, err)
	}
	if p.ID == "" {
		return errors.New("notification without id")
	}

	// The guard check and the append share in.mu with Dismiss, so a dismissal
	// cannot land between them.
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.guard != nil && in.guard.IsDeleted(p.ID) {
		in.log.Debug(ctx, "notification_suppressed", "dropped event for a dismissed notification", map[string]any{"id": p.ID})
		return nil
	}
	for _, n := range in.items {
		if n.ID == p.ID {
			return nil
		}
	}
	in.items = append(in.items, Notification{
		ID:         p.ID,
		Kind:       ev.Name,
		Title:      p.Title,
		Body:       p.Body,
		Data:       p.Data,
		CreatedAt:  p.CreatedAt,
		ReceivedAt: ev.ReceivedAt,
	})
	return nil
}

// Items returns the visible notifications, oldest first.
func (in *Inbox) Items() []Notification {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]Notification(nil), in.items...)
}

// Dismiss removes id and marks it deleted. It reports whether id was
// visible. The id is marked either way.
func (in *Inbox) Dismiss(ctx context.Context, id string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.guard != nil {
		in.guard.MarkDeleted(ctx, id)
	}
	for i, n := range in.items {
		if n.ID == id {
			in.items = append(in.items[:i:i], in.items[i+1:]...)
			return true
		}
	}
	return false
}

// Close unsubscribes from the router.
func (in *Inbox) Close() {
	for _, s := range in.subs {
		s.Unsubscribe()
	}
}
