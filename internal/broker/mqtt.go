package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/technosupport/ts-camviewer/internal/log"
)

const (
	mqttConnectWait = 5 * time.Second
	mqttTokenWait   = 2 * time.Second
)

// MQTTClient adapts paho to Client. Subscriptions are remembered and replayed
// from the OnConnect handler, so they survive reconnects and a late broker.
type MQTTClient struct {
	cfg       Config
	client    mqtt.Client
	newClient func(*mqtt.ClientOptions) mqtt.Client
	logger    zerolog.Logger

	mu        sync.RWMutex
	connected bool
	subs      map[string]Handler
}

func NewMQTTClient(cfg Config) *MQTTClient {
	return &MQTTClient{
		cfg:       cfg,
		newClient: mqtt.NewClient,
		logger:    log.WithComponent("mqtt"),
		subs:      make(map[string]Handler),
	}
}

// Connect starts the paho client. If the broker is not reachable within a few
// seconds ErrConnectTimeout is returned while paho keeps retrying in the
// background; subscriptions are applied once it gets through.
func (c *MQTTClient) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.URL)
	opts.SetClientID(c.cfg.ClientID)
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	client := c.newClient(opts)
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	c.logger.Info().Str("broker", c.cfg.URL).Str("client_id", c.cfg.ClientID).Msg("connecting to mqtt broker")

	token := client.Connect()
	wait := mqttConnectWait
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < wait {
		wait = time.Until(dl)
	}
	if !token.WaitTimeout(wait) {
		return ErrConnectTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.mu.Lock()
	c.connected = true
	subs := make(map[string]Handler, len(c.subs))
	for k, v := range c.subs {
		subs[k] = v
	}
	c.mu.Unlock()

	c.logger.Info().Str("broker", c.cfg.URL).Int("subscriptions", len(subs)).Msg("mqtt connection established")

	for pattern, h := range subs {
		if err := c.subscribe(client, pattern, h); err != nil {
			c.logger.Error().Err(err).Str("topic", pattern).Msg("resubscribe failed")
		}
	}
}

func (c *MQTTClient) onConnectionLost(_ mqtt.Client, err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.logger.Warn().Err(err).Str("broker", c.cfg.URL).Msg("mqtt connection lost, waiting for automatic reconnect")
}

// Subscribe registers h for pattern at QoS 1.
func (c *MQTTClient) Subscribe(pattern string, h Handler) error {
	c.mu.Lock()
	c.subs[pattern] = h
	client := c.client
	connected := c.connected && client != nil
	c.mu.Unlock()

	if !connected {
		return nil
	}
	return c.subscribe(client, pattern, h)
}

func (c *MQTTClient) subscribe(client mqtt.Client, pattern string, h Handler) error {
	token := client.Subscribe(pattern, 1, func(_ mqtt.Client, msg mqtt.Message) {
		h(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(mqttConnectWait) {
		return fmt.Errorf("subscribe %s: timeout", pattern)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", pattern, err)
	}
	c.logger.Debug().Str("topic", pattern).Msg("subscribed")
	return nil
}

func (c *MQTTClient) Publish(topic string, qos byte, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	token := client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(mqttTokenWait) {
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnectionOpen()
}

func (c *MQTTClient) Close() {
	c.mu.Lock()
	client := c.client
	c.connected = false
	c.mu.Unlock()
	if client != nil {
		client.Disconnect(250)
	}
}
