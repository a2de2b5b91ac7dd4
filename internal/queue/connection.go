package queue

import (
	"errors"
	"fmt"
	"net/url"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrBrokerUnavailable is returned when the dispatch broker cannot be reached
var ErrBrokerUnavailable = errors.New("dispatch broker unavailable")

// Connection holds the single AMQP channel shared by the dispatch publisher
// and consumer. A closed channel is replaced on the next call to Channel.
type Connection struct {
	url    string
	broker string
	dial   func(url string) (*amqp.Connection, error)
	logger *zap.Logger

	mu         sync.Mutex
	conn       *amqp.Connection
	channel    *amqp.Channel
	reconnects int
}

// NewConnection dials the broker and opens the dispatch channel
func NewConnection(brokerURL string, logger *zap.Logger) (*Connection, error) {
	c, err := newConnection(brokerURL, amqp.Dial, logger)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.open(); err != nil {
		return nil, err
	}

	c.logger.Info("connected to dispatch broker")
	return c, nil
}

func newConnection(brokerURL string, dial func(string) (*amqp.Connection, error), logger *zap.Logger) (*Connection, error) {
	if brokerURL == "" {
		return nil, errors.New("rabbitmq url cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	broker := redactURL(brokerURL)
	return &Connection{
		url:    brokerURL,
		broker: broker,
		dial:   dial,
		logger: logger.With(zap.String("broker", broker)),
	}, nil
}

// Channel returns the dispatch channel, redialing when the previous channel
// or connection has been closed
func (c *Connection) Channel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.live() {
		return c.channel, nil
	}

	c.reconnects++
	c.logger.Warn("dispatch channel closed, redialing", zap.Int("reconnects", c.reconnects))
	c.release()
	if err := c.open(); err != nil {
		return nil, err
	}

	c.logger.Info("dispatch channel restored", zap.Int("reconnects", c.reconnects))
	return c.channel, nil
}

// Reconnects reports how many times the channel had to be redialed
func (c *Connection) Reconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnects
}

// open must be called with mu held
func (c *Connection) open() error {
	conn, err := c.dial(c.url)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrBrokerUnavailable, c.broker, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: open channel on %s: %v", ErrBrokerUnavailable, c.broker, err)
	}

	c.conn = conn
	c.channel = channel
	return nil
}

// release must be called with mu held
func (c *Connection) release() error {
	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
		c.channel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
		c.conn = nil
	}
	return errors.Join(errs...)
}

func (c *Connection) live() bool {
	return c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed()
}

// Close closes the channel and the connection
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.release(); err != nil {
		return err
	}

	c.logger.Info("dispatch broker connection closed")
	return nil
}

// IsConnected reports whether the dispatch channel is open
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live()
}

// redactURL keeps scheme, host and vhost so credentials never reach the logs
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "invalid-url"
	}
	return u.Scheme + "://" + u.Host + u.Path
}
