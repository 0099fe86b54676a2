package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"transit-sync/internal/general/clock"
)

// DefaultMailboxCapacity bounds the frames a polling session buffers
// between two polls. The oldest frame is dropped first.
const DefaultMailboxCapacity = 256

var ErrMailboxClosed = errors.New("ws: mailbox closed")

// Mailbox is the Sink of a polling session. Deliver buffers frames and
// Drain hands them to the next long-poll.
type Mailbox struct {
	clock    clock.Clock
	capacity int

	mu       sync.Mutex
	frames   [][]byte
	ready    chan struct{} // closed when frames arrive or the mailbox closes
	closed   bool
	lastSeen time.Time
	dropped  int
}

func NewMailbox(clk clock.Clock, capacity int) *Mailbox {
	if clk == nil {
		clk = clock.Real()
	}
	if capacity <= 0 {
		capacity = DefaultMailboxCapacity
	}
	return &Mailbox{
		clock:    clk,
		capacity: capacity,
		ready:    make(chan struct{}),
		lastSeen: clk.Now(),
	}
}

func (m *Mailbox) Deliver(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrMailboxClosed
	}
	if len(m.frames) >= m.capacity {
		m.frames = m.frames[1:]
		m.dropped++
	}
	m.frames = append(m.frames, frame)
	m.signalLocked()
	return nil
}

// Drain returns the buffered frames. When none are buffered it waits up to
// wait for some to arrive. An empty result is not an error.
func (m *Mailbox) Drain(ctx context.Context, wait time.Duration) ([][]byte, error) {
	m.Touch()
	defer m.Touch()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrMailboxClosed
	}
	if len(m.frames) == 0 && wait > 0 {
		ready := m.ready
		m.mu.Unlock()
		select {
		case <-ready:
		case <-m.clock.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		m.mu.Lock()
	}
	defer m.mu.Unlock()

	if m.closed && len(m.frames) == 0 {
		return nil, ErrMailboxClosed
	}
	out := m.frames
	m.frames = nil
	m.ready = make(chan struct{})
	return out, nil
}

// Touch marks the mailbox as in use.
func (m *Mailbox) Touch() {
	m.mu.Lock()
	m.lastSeen = m.clock.Now()
	m.mu.Unlock()
}

func (m *Mailbox) IdleSince() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeen
}

// Dropped returns how many frames were discarded on overflow.
func (m *Mailbox) Dropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.signalLocked()
}

func (m *Mailbox) signalLocked() {
	select {
	case <-m.ready:
	default:
		close(m.ready)
	}
}
