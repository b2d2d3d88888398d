package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/technosupport/ts-camviewer/internal/log"
)

// NATSClient adapts nats.go to Client. Core NATS has no QoS, so publishes are
// retried with a short linear backoff to approximate at-least-once.
type NATSClient struct {
	cfg        Config
	maxRetries int
	retryWait  time.Duration
	logger     zerolog.Logger
	dial       func(url string, opts ...nats.Option) (natsConn, error)

	mu   sync.Mutex
	conn natsConn
	subs map[string]Handler
}

// natsConn is the part of *nats.Conn the client uses.
type natsConn interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Publish(subject string, data []byte) error
	IsConnected() bool
	Drain() error
	Close()
}

func NewNATSClient(cfg Config) *NATSClient {
	return &NATSClient{
		cfg:        cfg,
		maxRetries: 3,
		retryWait:  100 * time.Millisecond,
		logger:     log.WithComponent("nats"),
		dial: func(url string, opts ...nats.Option) (natsConn, error) {
			return nats.Connect(url, opts...)
		},
		subs: make(map[string]Handler),
	}
}

func (c *NATSClient) Connect(_ context.Context) error {
	opts := []nats.Option{
		nats.Name(c.cfg.ClientID),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn().Err(err).Str("broker", c.cfg.URL).Msg("nats disconnected, waiting for reconnect")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info().Str("broker", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	if c.cfg.Username != "" {
		opts = append(opts, nats.UserInfo(c.cfg.Username, c.cfg.Password))
	}

	c.logger.Info().Str("broker", c.cfg.URL).Str("client_id", c.cfg.ClientID).Msg("connecting to nats")

	nc, err := c.dial(c.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}

	c.mu.Lock()
	c.conn = nc
	pending := make(map[string]Handler, len(c.subs))
	for k, v := range c.subs {
		pending[k] = v
	}
	c.mu.Unlock()

	// nats.go re-establishes subscriptions on reconnect by itself; only the
	// ones registered before Connect need applying here.
	for subject, h := range pending {
		if err := c.subscribe(nc, subject, h); err != nil {
			return err
		}
	}
	return nil
}

func (c *NATSClient) Subscribe(subject string, h Handler) error {
	c.mu.Lock()
	nc := c.conn
	if nc == nil {
		c.subs[subject] = h
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.subscribe(nc, subject, h)
}

func (c *NATSClient) subscribe(nc natsConn, subject string, h Handler) error {
	_, err := nc.Subscribe(subject, func(m *nats.Msg) {
		h(m.Subject, m.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	c.logger.Debug().Str("topic", subject).Msg("subscribed")
	return nil
}

// Publish ignores qos; see the type comment.
func (c *NATSClient) Publish(subject string, _ byte, payload []byte) error {
	c.mu.Lock()
	nc := c.conn
	c.mu.Unlock()
	if nc == nil || !nc.IsConnected() {
		return ErrNotConnected
	}

	var err error
	for i := 0; i <= c.maxRetries; i++ {
		err = nc.Publish(subject, payload)
		if err == nil {
			return nil
		}
		time.Sleep(time.Duration(i+1) * c.retryWait)
	}
	return fmt.Errorf("publish failed after %d retries: %w", c.maxRetries, err)
}

func (c *NATSClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.conn.IsConnected()
}

func (c *NATSClient) Close() {
	c.mu.Lock()
	nc := c.conn
	c.conn = nil
	c.mu.Unlock()
	if nc != nil {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}
}
