package broker

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/minichat/auth"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken(err error, done bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if done {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m *fakeMessage) Topic() string   { return m.topic }
func (m *fakeMessage) Payload() []byte { return m.payload }

// fakeMqttClient implements only what mqttBroker calls.
type fakeMqttClient struct {
	mqtt.Client
	sync.Mutex
	opts         *mqtt.ClientOptions
	connectToken *fakeToken
	connectErrs  []error // failures of the first connects, then connectToken
	connects     int
	publishToken *fakeToken
	connected    bool
	filters      map[string]byte
	handler      mqtt.MessageHandler
	published    map[string][]byte
	disconnects  int
}

func (c *fakeMqttClient) Connect() mqtt.Token {
	c.Lock()
	defer c.Unlock()
	c.connects++
	if c.connects <= len(c.connectErrs) {
		return newToken(c.connectErrs[c.connects-1], true)
	}
	return c.connectToken
}

func (c *fakeMqttClient) connectCount() int {
	c.Lock()
	defer c.Unlock()
	return c.connects
}
func (c *fakeMqttClient) IsConnected() bool   { return c.connected }

func (c *fakeMqttClient) SubscribeMultiple(filters map[string]byte, cb mqtt.MessageHandler) mqtt.Token {
	c.filters = filters
	c.handler = cb
	return newToken(nil, true)
}

func (c *fakeMqttClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.Lock()
	defer c.Unlock()
	if c.published == nil {
		c.published = make(map[string][]byte)
	}
	c.published[topic] = payload.([]byte)
	return c.publishToken
}

func (c *fakeMqttClient) Disconnect(uint) {
	c.disconnects++
}

func newTestMqttBroker(t *testing.T, conf *Config, rawURL string) (*mqttBroker, *fakeMqttClient) {
	fake := &fakeMqttClient{
		connectToken: newToken(nil, true),
		publishToken: newToken(nil, true),
	}

	orig := newMqttClient
	newMqttClient = func(o *mqtt.ClientOptions) mqtt.Client {
		fake.opts = o
		return fake
	}
	t.Cleanup(func() { newMqttClient = orig })

	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return newMqttBroker(conf, u), fake
}

func nextMqttEvent(t *testing.T, b *mqttBroker) Event {
	t.Helper()
	select {
	case ev := <-b.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func TestMqttOptions(t *testing.T) {
	conf := &Config{
		ClientId:    "c1",
		Credentials: auth.Credentials{Username: "alice", Password: "secret"},
		Reconnect:   DefaultReconnectPolicy(),
	}
	b, fake := newTestMqttBroker(t, conf, "mqtt://127.0.0.1:1883")
	defer b.Close()

	o := fake.opts
	assert.Equal(t, "c1", o.ClientID)
	assert.Equal(t, "alice", o.Username)
	assert.Equal(t, "secret", o.Password)
	assert.False(t, o.AutoReconnect, "reconnects follow our own policy")
	require.Len(t, o.Servers, 1)
	assert.Equal(t, "127.0.0.1:1883", o.Servers[0].Host)
	assert.Nil(t, o.CustomOpenConnectionFn)
}

func TestMqttOptionsWebsocket(t *testing.T) {
	b, fake := newTestMqttBroker(t, &Config{ClientId: "c1"}, "wss://broker.example.com:8084/mqtt")
	defer b.Close()

	assert.False(t, fake.opts.AutoReconnect)
	assert.NotNil(t, fake.opts.CustomOpenConnectionFn)
}

// recordSleeps makes backoff waits return at once and records them.
func recordSleeps(b *mqttBroker) func() []time.Duration {
	var mu sync.Mutex
	var sleeps []time.Duration
	b.after = func(d time.Duration) <-chan time.Time {
		mu.Lock()
		sleeps = append(sleeps, d)
		mu.Unlock()
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
	return func() []time.Duration {
		mu.Lock()
		defer mu.Unlock()
		return append([]time.Duration(nil), sleeps...)
	}
}

func TestMqttConnectEvents(t *testing.T) {
	b, fake := newTestMqttBroker(t, &Config{ClientId: "c1"}, "tcp://127.0.0.1:1883")
	defer b.Close()

	require.NoError(t, b.Connect(context.Background()))
	fake.opts.OnConnect(fake)
	assert.Equal(t, EventConnected, nextMqttEvent(t, b).Kind)
}

func TestMqttReconnectBackoff(t *testing.T) {
	conf := &Config{ClientId: "c1", Reconnect: ReconnectPolicy{
		Enabled:     true,
		MaxAttempts: 4,
		MinInterval: 10 * time.Millisecond,
		MaxInterval: 30 * time.Millisecond,
		Multiplier:  2,
	}}
	b, fake := newTestMqttBroker(t, conf, "tcp://127.0.0.1:1883")
	defer b.Close()
	sleeps := recordSleeps(b)
	fake.connectToken = newToken(errors.New("connection refused"), true)

	fake.opts.OnConnectionLost(fake, errors.New("EOF"))
	for i := 0; i < 4; i++ {
		assert.Equal(t, EventReconnecting, nextMqttEvent(t, b).Kind)
	}
	ev := nextMqttEvent(t, b)
	assert.Equal(t, EventError, ev.Kind)
	assert.ErrorIs(t, ev.Err, ErrReconnectLimit)

	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		30 * time.Millisecond,
		30 * time.Millisecond,
	}, sleeps())
	assert.Equal(t, 4, fake.connectCount())
}

func TestMqttReconnectRecovers(t *testing.T) {
	conf := &Config{ClientId: "c1", Reconnect: ReconnectPolicy{
		Enabled:     true,
		MaxAttempts: 3,
		MinInterval: 5 * time.Millisecond,
		MaxInterval: time.Second,
		Multiplier:  3,
	}}
	b, fake := newTestMqttBroker(t, conf, "tcp://127.0.0.1:1883")
	defer b.Close()
	sleeps := recordSleeps(b)
	fake.connectErrs = []error{errors.New("connection refused")}

	fake.opts.OnConnectionLost(fake, errors.New("EOF"))
	assert.Equal(t, EventReconnecting, nextMqttEvent(t, b).Kind)
	assert.Equal(t, EventReconnecting, nextMqttEvent(t, b).Kind)
	require.Eventually(t, func() bool { return fake.connectCount() == 2 }, 2*time.Second, time.Millisecond)

	// paho reports the new link through the connect handler.
	fake.opts.OnConnect(fake)
	assert.Equal(t, EventConnected, nextMqttEvent(t, b).Kind)
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 15 * time.Millisecond}, sleeps())

	// the next loss starts over from the min interval.
	require.Eventually(t, func() bool { return atomic.LoadInt32(&b.reconnecting) == 0 }, 2*time.Second, time.Millisecond)
	fake.opts.OnConnectionLost(fake, errors.New("EOF"))
	assert.Equal(t, EventReconnecting, nextMqttEvent(t, b).Kind)
	require.Eventually(t, func() bool { return fake.connectCount() == 3 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 5*time.Millisecond, sleeps()[2])
}

func TestMqttConnectionLostWithoutReconnect(t *testing.T) {
	b, fake := newTestMqttBroker(t, &Config{ClientId: "c1"}, "tcp://127.0.0.1:1883")
	defer b.Close()

	fake.opts.OnConnectionLost(fake, errors.New("EOF"))
	ev := nextMqttEvent(t, b)
	assert.Equal(t, EventError, ev.Kind)
	assert.EqualError(t, ev.Err, "EOF")
}

func TestMqttConnectFailure(t *testing.T) {
	b, fake := newTestMqttBroker(t, &Config{ClientId: "c1"}, "tcp://127.0.0.1:1883")
	defer b.Close()
	fake.connectToken = newToken(errors.New("not authorized"), true)

	require.NoError(t, b.Connect(context.Background()))
	ev := nextMqttEvent(t, b)
	assert.Equal(t, EventError, ev.Kind)
	assert.EqualError(t, ev.Err, "not authorized")
}

func TestMqttSubscribe(t *testing.T) {
	b, fake := newTestMqttBroker(t, &Config{ClientId: "c1", QoS: 1}, "tcp://127.0.0.1:1883")
	defer b.Close()

	require.NoError(t, b.Subscribe(context.Background(), []string{"chat/host", "chat/guest"}))
	assert.Equal(t, map[string]byte{"chat/host": 1, "chat/guest": 1}, fake.filters)

	fake.handler(fake, &fakeMessage{topic: "chat/guest", payload: []byte(`{"text":"yo"}`)})
	ev := nextMqttEvent(t, b)
	assert.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, "chat/guest", ev.Topic)
	assert.Equal(t, `{"text":"yo"}`, string(ev.Payload))
}

func TestMqttPublish(t *testing.T) {
	b, fake := newTestMqttBroker(t, &Config{ClientId: "c1", OpTimeout: 10 * time.Millisecond}, "tcp://127.0.0.1:1883")
	defer b.Close()

	assert.ErrorIs(t, b.Publish(context.Background(), "chat/guest", []byte("x")), ErrNotConnected)

	fake.connected = true
	require.NoError(t, b.Publish(context.Background(), "chat/guest", []byte(`{"text":"hello"}`)))
	assert.Equal(t, `{"text":"hello"}`, string(fake.published["chat/guest"]))

	fake.publishToken = newToken(nil, false)
	assert.ErrorIs(t, b.Publish(context.Background(), "chat/guest", []byte("x")), ErrTimeout)
}

func TestMqttClose(t *testing.T) {
	b, fake := newTestMqttBroker(t, &Config{ClientId: "c1"}, "tcp://127.0.0.1:1883")

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, 1, fake.disconnects)

	// events after close are dropped
	fake.opts.OnConnect(fake)
	select {
	case ev := <-b.Events():
		t.Fatalf("unexpected event after close: %v", ev.Kind)
	default:
	}
}
