package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type pendingToken struct{}

func (pendingToken) Wait() bool                     { return false }
func (pendingToken) WaitTimeout(time.Duration) bool { return false }
func (pendingToken) Done() <-chan struct{}          { return make(chan struct{}) }
func (pendingToken) Error() error                   { return nil }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fakePaho struct {
	mu           sync.Mutex
	connectToken mqtt.Token
	open         bool
	subscribed   map[string]mqtt.MessageHandler
	published    []string
	disconnected bool
}

func newFakePaho(connect mqtt.Token) *fakePaho {
	return &fakePaho{connectToken: connect, subscribed: make(map[string]mqtt.MessageHandler)}
}

func (f *fakePaho) IsConnected() bool { return f.IsConnectionOpen() }
func (f *fakePaho) IsConnectionOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}
func (f *fakePaho) Connect() mqtt.Token { return f.connectToken }
func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	f.disconnected = true
	f.open = false
	f.mu.Unlock()
}
func (f *fakePaho) Publish(topic string, _ byte, _ bool, _ interface{}) mqtt.Token {
	f.mu.Lock()
	f.published = append(f.published, topic)
	f.mu.Unlock()
	return doneToken{}
}
func (f *fakePaho) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	f.subscribed[topic] = cb
	f.mu.Unlock()
	return doneToken{}
}
func (f *fakePaho) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return doneToken{}
}
func (f *fakePaho) Unsubscribe(...string) mqtt.Token        { return doneToken{} }
func (f *fakePaho) AddRoute(string, mqtt.MessageHandler)    {}
func (f *fakePaho) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }
func (f *fakePaho) deliver(topic string, payload []byte) {
	f.mu.Lock()
	cb := f.subscribed[topic]
	f.mu.Unlock()
	cb(f, fakeMessage{topic: topic, payload: payload})
}

func newTestMQTT(fake *fakePaho) *MQTTClient {
	c := NewMQTTClient(Config{URL: "tcp://127.0.0.1:1883", ClientID: "viewer-test"})
	c.newClient = func(*mqtt.ClientOptions) mqtt.Client { return fake }
	return c
}

func TestMQTTClient_SubscribeBeforeConnectIsReplayed(t *testing.T) {
	fake := newFakePaho(doneToken{})
	c := newTestMQTT(fake)

	var got []string
	require.NoError(t, c.Subscribe("camera/+/events", func(topic string, payload []byte) {
		got = append(got, topic+"="+string(payload))
	}))
	assert.Empty(t, fake.subscribed)

	require.NoError(t, c.Connect(context.Background()))
	fake.open = true
	c.onConnect(fake)

	require.Contains(t, fake.subscribed, "camera/+/events")
	fake.deliver("camera/+/events", []byte("x"))
	assert.Equal(t, []string{"camera/+/events=x"}, got)
	assert.True(t, c.IsConnected())
}

func TestMQTTClient_ConnectTimeoutKeepsRetrying(t *testing.T) {
	fake := newFakePaho(pendingToken{})
	c := newTestMQTT(fake)

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrConnectTimeout)
	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.Publish("t", 1, nil), ErrNotConnected)

	// paho gets through later
	fake.open = true
	c.onConnect(fake)
	assert.True(t, c.IsConnected())
	assert.NoError(t, c.Publish("rtsp_client/status/viewer-test", 1, []byte("{}")))
	assert.Equal(t, []string{"rtsp_client/status/viewer-test"}, fake.published)
}

func TestMQTTClient_ConnectionLost(t *testing.T) {
	fake := newFakePaho(doneToken{})
	c := newTestMQTT(fake)
	require.NoError(t, c.Connect(context.Background()))
	fake.open = true
	c.onConnect(fake)

	c.onConnectionLost(fake, assert.AnError)
	assert.False(t, c.IsConnected())

	c.Close()
	assert.True(t, fake.disconnected)
}
