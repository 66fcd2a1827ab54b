package broker

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
)

const mqttDisconnectQuiesce = 250 // ms

// mqttBroker is an MQTT connection over tcp, tls or websocket. Reconnects
// follow the policy of conf, paho's own auto reconnect is off.
type mqttBroker struct {
	emitter
	conf         *Config
	client       mqtt.Client
	reconnecting int32
	after        func(time.Duration) <-chan time.Time
}

// newMqttClient is replaced in tests.
var newMqttClient = mqtt.NewClient

func newMqttBroker(conf *Config, u *url.URL) *mqttBroker {
	b := &mqttBroker{
		emitter: newEmitter(),
		conf:    conf,
		after:   time.After,
	}
	b.client = newMqttClient(b.options(u))
	return b
}

func (b *mqttBroker) options(u *url.URL) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(u.String()).
		SetClientID(b.conf.ClientId).
		SetConnectTimeout(opTimeout(b.conf)).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetCleanSession(true).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(b.onConnectionLost)

	if c := b.conf.Credentials; !c.Empty() {
		opts.SetUsername(c.Username)
		opts.SetPassword(c.Password)
	}

	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
		header := b.conf.Credentials.Header()
		timeout := opTimeout(b.conf)
		opts.SetCustomOpenConnectionFn(func(uri *url.URL, o mqtt.ClientOptions) (net.Conn, error) {
			return dialWs(uri, o.TLSConfig, header, timeout)
		})
	}
	return opts
}

func (b *mqttBroker) onConnect(mqtt.Client) {
	b.emit(Event{Kind: EventConnected})
}

func (b *mqttBroker) onConnectionLost(_ mqtt.Client, err error) {
	glog.Errorf("mqtt: connection lost: %v", err)
	if !b.conf.Reconnect.Enabled {
		b.emit(Event{Kind: EventError, Err: err})
		return
	}
	if atomic.CompareAndSwapInt32(&b.reconnecting, 0, 1) {
		go b.reconnectLoop(err)
	}
}

// reconnectLoop retries Connect with backoff until it succeeds, the policy
// gives up or the broker is closed. Success is reported by onConnect.
func (b *mqttBroker) reconnectLoop(err error) {
	defer atomic.StoreInt32(&b.reconnecting, 0)

	var sleep time.Duration
	for attempts := 1; ; attempts++ {
		if b.conf.Reconnect.Exhausted(attempts) {
			b.emit(Event{Kind: EventError, Err: fmt.Errorf("%w: %d: %v", ErrReconnectLimit, attempts-1, err)})
			return
		}
		b.emit(Event{Kind: EventReconnecting})

		b.conf.Reconnect.Backoff(&sleep)
		glog.V(2).Infof("mqtt: reconnecting in %s, attempt %d", sleep, attempts)
		select {
		case <-b.after(sleep):
		case <-b.done:
			return
		}

		token := b.client.Connect()
		select {
		case <-token.Done():
		case <-b.done:
			return
		}
		if err = token.Error(); err == nil {
			return
		}
		glog.Errorf("mqtt: reconnect attempt %d error: %v", attempts, err)
	}
}

func (b *mqttBroker) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if glog.V(5) {
		glog.Infof("mqtt: incoming message, topic: %s, payload: %s", msg.Topic(), msg.Payload())
	}
	b.emit(Event{Kind: EventMessage, Topic: msg.Topic(), Payload: msg.Payload()})
}

func (b *mqttBroker) Connect(context.Context) error {
	token := b.client.Connect()
	go func() {
		select {
		case <-token.Done():
			if err := token.Error(); err != nil {
				b.emit(Event{Kind: EventError, Err: err})
			}
		case <-b.done:
		}
	}()
	return nil
}

func (b *mqttBroker) Subscribe(ctx context.Context, topics []string) error {
	filters := make(map[string]byte, len(topics))
	for _, t := range topics {
		filters[t] = b.conf.QoS
	}
	return b.wait(ctx, b.client.SubscribeMultiple(filters, b.onMessage))
}

func (b *mqttBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if !b.client.IsConnected() {
		return ErrNotConnected
	}
	return b.wait(ctx, b.client.Publish(topic, b.conf.QoS, false, payload))
}

func (b *mqttBroker) wait(ctx context.Context, token mqtt.Token) error {
	timer := time.NewTimer(opTimeout(b.conf))
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *mqttBroker) Close() error {
	if b.shutdown() {
		b.client.Disconnect(mqttDisconnectQuiesce)
	}
	return nil
}
