package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"transit-sync/internal/domain/user"
)

var (
	// ErrAuthRejected means the relay refused the credentials. It is never
	// retried.
	ErrAuthRejected     = errors.New("realtime: authentication rejected")
	ErrRetriesExhausted = errors.New("realtime: connect retries exhausted")
	ErrNotConnected     = errors.New("realtime: not connected")
	ErrAckTimeout       = errors.New("realtime: ack timeout")
	ErrDisposed         = errors.New("realtime: manager disposed")
	ErrChannelClosed    = errors.New("realtime: channel closed")

	// ErrMalformed is wrapped by transports for a payload that no retry can
	// deliver. The queue refuses or drops such operations.
	ErrMalformed = errors.New("realtime: malformed payload")
)

// TransportKind names a channel transport.
type TransportKind string

const (
	TransportWebsocket TransportKind = "websocket"
	TransportPolling   TransportKind = "polling"
)

// Credentials authenticate a channel. Token is the raw JWT without the
// "Bearer " prefix.
type Credentials struct {
	Token    string
	Role     user.Role
	EntityID string
}

// Event is one inbound message.
type Event struct {
	Name       string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// Message is one outbound event. Channels generate a CorrelationID when it
// is empty.
type Message struct {
	Event         string
	Payload       json.RawMessage
	CorrelationID string
}

// Ack is the relay's answer to an emitted Message.
type Ack struct {
	Success bool
	Message string
}

// Channel is an authenticated, bidirectional connection to the relay.
//
// Events is closed when the channel dies, after which Err reports why.
// Emit blocks until the matching ack arrives or ctx ends, and must not stop
// the channel from delivering events and other acks meanwhile.
type Channel interface {
	Emit(ctx context.Context, msg Message) (Ack, error)
	Events() <-chan Event
	Err() error
	Close() error
}

// Dialer opens Channels over one transport.
type Dialer interface {
	Kind() TransportKind
	// Dial returns an error wrapping ErrAuthRejected when the relay refuses
	// creds.
	Dial(ctx context.Context, creds Credentials) (Channel, error)
}

// DegradedTransport sends events over plain request/response calls when no
// healthy channel is available. It never receives.
type DegradedTransport interface {
	Send(ctx context.Context, msg Message) (Ack, error)
}
