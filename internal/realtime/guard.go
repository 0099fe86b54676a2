package realtime

import (
	"context"
	"errors"
	"sync"

	"transit-sync/internal/general/codec"
	"transit-sync/internal/general/kv"
	"transit-sync/internal/general/logger"
)

const (
	// DefaultGuardCapacity is also the most ids a Guard ever holds.
	DefaultGuardCapacity = 100
	DefaultGuardKey      = "realtime/deleted_ids"
)

// GuardConfig configures NewGuard. Store may be nil for a memory-only guard.
type GuardConfig struct {
	Store    kv.Store
	Key      string
	Capacity int
	Logger   *logger.Logger
}

// Guard remembers recently deleted ids so that late or replayed events for
// them can be dropped. It holds at most Capacity ids and evicts the oldest
// insertion first.
type Guard struct {
	store    kv.Store
	key      string
	capacity int
	log      *logger.Logger

	mu  sync.Mutex
	ids []string
	set map[string]struct{}
}

type guardRecord struct {
	IDs []string `cbor:"ids"`
}

// NewGuard builds a Guard and reloads whatever the store holds.
func NewGuard(ctx context.Context, cfg GuardConfig) *Guard {
	if cfg.Capacity <= 0 || cfg.Capacity > DefaultGuardCapacity {
		cfg.Capacity = DefaultGuardCapacity
	}
	if cfg.Key == "" {
		cfg.Key = DefaultGuardKey
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}

	g := &Guard{
		store:    cfg.Store,
		key:      cfg.Key,
		capacity: cfg.Capacity,
		log:      cfg.Logger,
		set:      make(map[string]struct{}),
	}
	g.load(ctx)
	return g
}

func (g *Guard) load(ctx context.Context) {
	if g.store == nil {
		return
	}
	b, err := g.store.Get(ctx, g.key)
	if errors.Is(err, kv.ErrNotFound) {
		return
	}
	if err != nil {
		g.log.Error(ctx, "guard_load_failed", "failed to load deleted ids, starting empty", err, nil)
		return
	}

	var rec guardRecord
	if err := codec.Unmarshal(b, &rec); err != nil {
		g.log.Error(ctx, "guard_load_failed", "stored deleted ids are unreadable, starting empty", err, nil)
		return
	}
	for _, id := range rec.IDs {
		g.addLocked(id)
	}
}

// MarkDeleted records id. Marking an id that is already held does not
// change its position.
func (g *Guard) MarkDeleted(ctx context.Context, id string) {
	if id == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.set[id]; ok {
		return
	}
	g.addLocked(id)
	g.persistLocked(ctx)
}

func (g *Guard) addLocked(id string) {
	if _, ok := g.set[id]; ok {
		return
	}
	g.ids = append(g.ids, id)
	g.set[id] = struct{}{}
	for len(g.ids) > g.capacity {
		delete(g.set, g.ids[0])
		g.ids = g.ids[1:]
	}
}

func (g *Guard) IsDeleted(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.set[id]
	return ok
}

// IDs returns the held ids, oldest first.
func (g *Guard) IDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.ids...)
}

func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ids)
}

func (g *Guard) persistLocked(ctx context.Context) {
	if g.store == nil {
		return
	}
	b, err := codec.Marshal(guardRecord{IDs: g.ids})
	if err == nil {
		err = g.store.Set(ctx, g.key, b)
	}
	if err != nil {
		g.log.Error(ctx, "guard_persist_failed", "failed to persist deleted ids, keeping them in memory", err, map[string]any{
			"count": len(g.ids),
		})
	}
}
