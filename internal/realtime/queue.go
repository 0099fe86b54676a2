package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"transit-sync/internal/general/clock"
	"transit-sync/internal/general/codec"
	"transit-sync/internal/general/kv"
	"transit-sync/internal/general/logger"
)

const (
	DefaultAckTimeout = 10 * time.Second
	DefaultOutboxKey  = "realtime/outbox"
)

// Outcome tells a Send caller where its event ended up.
type Outcome int

const (
	// Delivered means the relay acknowledged the event.
	Delivered Outcome = iota + 1
	// Queued means the event sits in the outbox until the next flush.
	Queued
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Queued:
		return "queued"
	default:
		return "unknown"
	}
}

// QueuedOperation is an outbox entry.
type QueuedOperation struct {
	EventName     string    `cbor:"event_name"`
	Payload       []byte    `cbor:"payload"`
	EnqueuedAt    time.Time `cbor:"enqueued_at"`
	Attempts      int       `cbor:"attempts"`
	CorrelationID string    `cbor:"correlation_id"`
}

func (op QueuedOperation) message() Message {
	return Message{Event: op.EventName, Payload: op.Payload, CorrelationID: op.CorrelationID}
}

// ChannelSource exposes the current channel. *Manager implements it.
type ChannelSource interface {
	ActiveChannel() (Channel, ConnectionState)
}

// QueueConfig configures NewQueue. Degraded and Store are optional.
type QueueConfig struct {
	Source     ChannelSource
	Degraded   DegradedTransport
	Store      kv.Store
	Key        string
	Clock      clock.Clock
	Logger     *logger.Logger
	AckTimeout time.Duration
}

// FlushResult summarizes one Flush.
type FlushResult struct {
	Delivered int
	Failed    int
	Dropped   int // rejected as ErrMalformed
	Remaining int
}

// Queue is the single entry point for outbound events. Every event is
// delivered at least once: over the channel, over the degraded transport, or
// from the outbox after a later reconnect.
type Queue struct {
	source     ChannelSource
	degraded   DegradedTransport
	store      kv.Store
	key        string
	clock      clock.Clock
	log        *logger.Logger
	ackTimeout time.Duration

	mu  sync.Mutex
	ops []QueuedOperation

	flight singleflight.Group
}

// NewQueue builds a Queue and reloads the persisted outbox.
func NewQueue(ctx context.Context, cfg QueueConfig) *Queue {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	if cfg.Key == "" {
		cfg.Key = DefaultOutboxKey
	}

	q := &Queue{
		source:     cfg.Source,
		degraded:   cfg.Degraded,
		store:      cfg.Store,
		key:        cfg.Key,
		clock:      cfg.Clock,
		log:        cfg.Logger,
		ackTimeout: cfg.AckTimeout,
	}
	q.load(ctx)
	return q
}

func (q *Queue) load(ctx context.Context) {
	if q.store == nil {
		return
	}
	b, err := q.store.Get(ctx, q.key)
	if errors.Is(err, kv.ErrNotFound) {
		return
	}
	if err != nil {
		q.log.Error(ctx, "outbox_load_failed", "failed to load outbox, starting empty", err, nil)
		return
	}
	var ops []QueuedOperation
	if err := codec.Unmarshal(b, &ops); err != nil {
		q.log.Error(ctx, "outbox_load_failed", "stored outbox is unreadable, starting empty", err, nil)
		return
	}
	q.ops = ops
	if len(ops) > 0 {
		q.log.Info(ctx, "outbox_loaded", "restored queued operations", map[string]any{"count": len(ops)})
	}
}

// Send delivers payload as eventName. payload may be a json.RawMessage or
// any value encoding/json accepts. An error is returned when payload cannot
// be encoded or a transport reports it as ErrMalformed; nothing is queued
// then.
func (q *Queue) Send(ctx context.Context, eventName string, payload any) (Outcome, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return 0, fmt.Errorf("encode %s payload: %w", eventName, err)
	}

	msg := Message{Event: eventName, Payload: raw, CorrelationID: uuid.NewString()}
	ctx = q.log.WithCorrelationID(ctx, msg.CorrelationID)

	ok, err := q.deliver(ctx, msg)
	if err != nil {
		return 0, err
	}
	if ok {
		return Delivered, nil
	}

	op := QueuedOperation{
		EventName:     msg.Event,
		Payload:       msg.Payload,
		EnqueuedAt:    q.clock.Now().UTC(),
		CorrelationID: msg.CorrelationID,
	}

	pctx := context.WithoutCancel(ctx)
	q.mu.Lock()
	q.ops = append(q.ops, op)
	depth := len(q.ops)
	q.persistLocked(pctx)
	q.mu.Unlock()

	q.log.Info(ctx, "operation_queued", "event queued for the next reconnect", map[string]any{
		"event": eventName,
		"depth": depth,
	})
	return Queued, nil
}

// deliver tries the channel when it is fully connected, then the degraded
// transport. It reports whether either acknowledged msg, or an ErrMalformed
// error when msg can never be delivered.
func (q *Queue) deliver(ctx context.Context, msg Message) (bool, error) {
	if q.source != nil {
		ch, state := q.source.ActiveChannel()
		if ch != nil && state == StateConnected {
			ack, err := emitWithin(ctx, q.clock, q.ackTimeout, ch, msg)
			if err == nil && ack.Success {
				q.log.Debug(ctx, "event_delivered", "event acknowledged over channel", map[string]any{"event": msg.Event})
				return true, nil
			}
			q.logFailure(ctx, "channel", msg, ack, err)
		}
	}

	if q.degraded == nil {
		return false, nil
	}
	ack, err := q.degraded.Send(ctx, msg)
	if err == nil && ack.Success {
		q.log.Debug(ctx, "event_delivered", "event acknowledged over degraded transport", map[string]any{"event": msg.Event})
		return true, nil
	}
	if errors.Is(err, ErrMalformed) {
		q.log.Error(ctx, "operation_malformed", "event payload cannot be delivered", err, map[string]any{"event": msg.Event})
		return false, err
	}
	q.logFailure(ctx, "degraded", msg, ack, err)
	return false, nil
}

func (q *Queue) logFailure(ctx context.Context, path string, msg Message, ack Ack, err error) {
	if err == nil {
		err = fmt.Errorf("negative ack: %s", ack.Message)
	}
	q.log.Info(ctx, "delivery_failed", "delivery attempt failed", map[string]any{
		"event":  msg.Event,
		"path":   path,
		"reason": err.Error(),
	})
}

// emitWithin waits for msg's ack at most d as measured by clk.
func emitWithin(ctx context.Context, clk clock.Clock, d time.Duration, ch Channel, msg Message) (Ack, error) {
	ectx, cancel := context.WithCancel(ctx)
	defer cancel()

	var expired atomic.Bool
	t := clk.AfterFunc(d, func() {
		expired.Store(true)
		cancel()
	})
	defer t.Stop()

	ack, err := ch.Emit(ectx, msg)
	if err != nil && expired.Load() {
		return Ack{}, ErrAckTimeout
	}
	return ack, err
}

// Flush retries every queued operation in enqueue order. Delivered ones are
// removed, failed ones stay in place with Attempts incremented. Concurrent
// calls share one run.
func (q *Queue) Flush(ctx context.Context) (FlushResult, error) {
	v, err, _ := q.flight.Do("flush", func() (any, error) {
		return q.flush(ctx)
	})
	res, _ := v.(FlushResult)
	return res, err
}

func (q *Queue) flush(ctx context.Context) (FlushResult, error) {
	q.mu.Lock()
	batch := append([]QueuedOperation(nil), q.ops...)
	q.mu.Unlock()

	if len(batch) == 0 {
		return FlushResult{}, nil
	}

	delivered := make(map[string]bool, len(batch))
	failed := make(map[string]bool, len(batch))
	dropped := make(map[string]bool)
	for _, op := range batch {
		if ctx.Err() != nil {
			break
		}
		octx := q.log.WithCorrelationID(ctx, op.CorrelationID)
		ok, err := q.deliver(octx, op.message())
		switch {
		case err != nil:
			dropped[op.CorrelationID] = true
		case ok:
			delivered[op.CorrelationID] = true
		default:
			failed[op.CorrelationID] = true
		}
	}

	q.mu.Lock()
	kept := make([]QueuedOperation, 0, len(q.ops))
	for _, op := range q.ops {
		if delivered[op.CorrelationID] || dropped[op.CorrelationID] {
			continue
		}
		if failed[op.CorrelationID] {
			op.Attempts++
		}
		kept = append(kept, op)
	}
	q.ops = kept
	res := FlushResult{Delivered: len(delivered), Failed: len(failed), Dropped: len(dropped), Remaining: len(kept)}
	q.persistLocked(context.WithoutCancel(ctx))
	q.mu.Unlock()

	q.log.Info(ctx, "outbox_flushed", "outbox flush finished", map[string]any{
		"delivered": res.Delivered,
		"failed":    res.Failed,
		"dropped":   res.Dropped,
		"remaining": res.Remaining,
	})
	return res, ctx.Err()
}

// Pending returns a copy of the outbox in enqueue order.
func (q *Queue) Pending() []QueuedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]QueuedOperation(nil), q.ops...)
}

// Prune drops every queued operation match returns true for and reports how
// many were dropped.
func (q *Queue) Prune(ctx context.Context, match func(QueuedOperation) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := make([]QueuedOperation, 0, len(q.ops))
	for _, op := range q.ops {
		if !match(op) {
			kept = append(kept, op)
		}
	}
	n := len(q.ops) - len(kept)
	if n == 0 {
		return 0
	}
	q.ops = kept
	q.persistLocked(ctx)
	q.log.Info(ctx, "outbox_pruned", "queued operations pruned", map[string]any{"pruned": n, "remaining": len(kept)})
	return n
}

func (q *Queue) persistLocked(ctx context.Context) {
	if q.store == nil {
		return
	}
	var err error
	if len(q.ops) == 0 {
		err = q.store.Remove(ctx, q.key)
	} else {
		var b []byte
		b, err = codec.Marshal(q.ops)
		if err == nil {
			err = q.store.Set(ctx, q.key, b)
		}
	}
	if err != nil {
		q.log.Error(ctx, "outbox_persist_failed", "failed to persist outbox, keeping it in memory", err, map[string]any{
			"depth": len(q.ops),
		})
	}
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, errors.New("invalid JSON")
		}
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, errors.New("invalid JSON")
		}
		return json.RawMessage(p), nil
	default:
		return json.Marshal(p)
	}
}
