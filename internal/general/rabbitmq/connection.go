package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"transit-sync/internal/general/config"
	"transit-sync/internal/general/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	minRedial = time.Second
	maxRedial = 30 * time.Second
)

// Client owns one AMQP connection plus a confirm-mode publishing channel and
// redials in the background when either dies. Consumers open their own
// channels and watch Reconnected to redeclare per-connection queues.
type Client struct {
	url    string
	log    *logger.Logger
	logCtx context.Context

	mu   sync.RWMutex
	conn *amqp.Connection
	pub  *publisher

	closeOnce sync.Once
	closed    chan struct{}
	lost      chan struct{}

	genMu sync.Mutex
	gen   chan struct{}
}

// publisher is the confirm-mode channel used by PublishMessage. mu keeps
// publishes and their confirms in lockstep.
type publisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	confirms chan amqp.Confirmation
}

// ConnectRabbitMQ dials once and declares the topology. Later failures are
// retried by a background redial loop until Close.
func ConnectRabbitMQ(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Client, error) {
	c := &Client{
		url:    cfg.RabbitMQURL(),
		log:    log,
		logCtx: context.WithoutCancel(ctx),
		closed: make(chan struct{}),
		lost:   make(chan struct{}, 1),
		gen:    make(chan struct{}),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	go c.redialLoop()
	return c, nil
}

// Close stops the redial loop and releases the connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.closed) })

	c.mu.Lock()
	pub, conn := c.pub, c.conn
	c.pub, c.conn = nil, nil
	c.mu.Unlock()

	if pub != nil {
		_ = pub.ch.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

// Done is closed once Close has been called.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// Reconnected returns a channel closed after the next successful redial.
func (c *Client) Reconnected() <-chan struct{} {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	return c.gen
}

func (c *Client) connect() error {
	conn, err := amqp.DialConfig(c.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(30 * time.Second),
	})
	if err != nil {
		c.log.Error(c.logCtx, "rabbitmq_dial_failed", "Failed to dial RabbitMQ", err, nil)
		return fmt.Errorf("rabbitmq dial failed: %w", err)
	}

	pub, err := c.openPublisher(conn)
	if err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	old := c.pub
	c.conn, c.pub = conn, pub
	c.mu.Unlock()
	if old != nil && !old.ch.IsClosed() {
		_ = old.ch.Close()
	}

	go c.notifyLost(conn, pub.ch)

	c.log.Info(c.logCtx, "rabbitmq_connected", "RabbitMQ connection established", nil)
	return nil
}

// openPublisher declares the topology on a fresh channel and puts it in
// confirm mode.
func (c *Client) openPublisher(conn *amqp.Connection) (*publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		c.log.Error(c.logCtx, "rabbitmq_open_channel_failed", "Failed to open RabbitMQ channel", err, nil)
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}

	fail := func(action, msg string, err error) (*publisher, error) {
		_ = ch.Close()
		c.log.Error(c.logCtx, action, msg, err, nil)
		return nil, fmt.Errorf("rabbitmq: %s: %w", msg, err)
	}

	if err := declareTopology(ch); err != nil {
		return fail("rabbitmq_declare_topology_failed", "declare topology", err)
	}
	if err := ch.Confirm(false); err != nil {
		return fail("rabbitmq_enable_confirms_failed", "enable confirms", err)
	}

	returns := ch.NotifyReturn(make(chan amqp.Return, 1))
	go func() {
		for r := range returns {
			c.log.Error(c.logCtx, "rabbitmq_returned", "Message was returned (unroutable)",
				fmt.Errorf("code=%d text=%s", r.ReplyCode, r.ReplyText),
				map[string]any{"exchange": r.Exchange, "routing_key": r.RoutingKey, "size": len(r.Body)},
			)
		}
	}()

	return &publisher{
		ch:       ch,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
	}, nil
}

// notifyLost signals the redial loop once conn or ch closes.
func (c *Client) notifyLost(conn *amqp.Connection, ch *amqp.Channel) {
	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
	select {
	case <-c.closed:
		return
	case <-connClosed:
	case <-chClosed:
	}
	select {
	case c.lost <- struct{}{}:
	default:
	}
}

func (c *Client) redialLoop() {
	for {
		select {
		case <-c.closed:
			return
		case <-c.lost:
		}

		delay := minRedial
		for {
			err := c.connect()
			if err == nil {
				c.log.Info(c.logCtx, "rabbitmq_reconnected", "Reconnected to RabbitMQ", nil)
				c.bumpGeneration()
				break
			}
			c.log.Error(c.logCtx, "retry_attempted", "Failed to reconnect to RabbitMQ", err, map[string]any{
				"retry_in": delay.String(),
			})

			select {
			case <-c.closed:
				return
			case <-time.After(delay):
			}
			delay = nextRedial(delay)
		}
	}
}

// nextRedial doubles d, clamped to [minRedial, maxRedial].
func nextRedial(d time.Duration) time.Duration {
	d *= 2
	if d < minRedial {
		return minRedial
	}
	if d > maxRedial {
		return maxRedial
	}
	return d
}

func (c *Client) bumpGeneration() {
	c.genMu.Lock()
	close(c.gen)
	c.gen = make(chan struct{})
	c.genMu.Unlock()
}
