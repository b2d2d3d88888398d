package broker

import (
	"context"
	"errors"
)

// Handler receives raw deliveries. It runs on the broker library's delivery
// goroutine and must return quickly.
type Handler func(topic string, payload []byte)

// Client is the subset of a pub/sub transport the viewer relies on.
// Implementations must tolerate Subscribe before the connection is up and
// restore subscriptions after a reconnect.
type Client interface {
	Connect(ctx context.Context) error
	Subscribe(pattern string, h Handler) error
	Publish(topic string, qos byte, payload []byte) error
	IsConnected() bool
	Close()
}

var (
	ErrNotConnected   = errors.New("broker not connected")
	ErrConnectTimeout = errors.New("broker connect timeout")
	ErrPublishTimeout = errors.New("broker publish timeout")
)

// Config selects and parameterises a broker adapter.
type Config struct {
	Kind     string `yaml:"kind"` // "mqtt" or "nats"
	URL      string `yaml:"url"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"topic_prefix"`
}

// New builds the adapter named by cfg.Kind together with its topic layout.
func New(cfg Config) (Client, Topics, error) {
	switch cfg.Kind {
	case "", "mqtt":
		return NewMQTTClient(cfg), MQTTTopics(cfg.Prefix), nil
	case "nats":
		return NewNATSClient(cfg), NATSTopics(cfg.Prefix), nil
	default:
		return nil, Topics{}, errors.New("unknown broker kind: " + cfg.Kind)
	}
}
