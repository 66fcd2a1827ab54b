package broker

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mqy/minichat/auth"
)

var (
	ErrNotConnected      = errors.New("broker: not connected")
	ErrTimeout           = errors.New("broker: operation timeout")
	ErrReconnectLimit    = errors.New("broker: reconnect attempts exhausted")
	ErrUnsupportedScheme = errors.New("broker: unsupported url scheme")
)

type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventReconnecting
	EventMessage
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventReconnecting:
		return "reconnecting"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is delivered by a backend on its events channel.
type Event struct {
	Kind    EventKind
	Topic   string // EventMessage only
	Payload []byte // EventMessage only
	Err     error  // EventError only
}

// IBroker is one connection to a pub/sub broker.
// Connect returns as soon as the attempt is started; the outcome arrives as an event.
type IBroker interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, topics []string) error
	Publish(ctx context.Context, topic string, payload []byte) error
	Events() <-chan Event
	Close() error
}

type IKafkaReader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

type IKafkaWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// ReconnectPolicy is handed to the backend, the manager itself never retries.
type ReconnectPolicy struct {
	Enabled     bool
	MaxAttempts int // 0: unlimited
	MinInterval time.Duration
	MaxInterval time.Duration
	Multiplier  float64
}

type Config struct {
	URL         string // tcp, ssl, tls, mqtt, mqtts, ws, wss or kafka scheme
	ClientId    string
	Credentials auth.Credentials
	Reconnect   ReconnectPolicy
	OpTimeout   time.Duration // subscribe, publish and dial timeout
	QoS         byte
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Enabled:     true,
		MaxAttempts: 10,
		MinInterval: time.Second,
		MaxInterval: 60 * time.Second,
		Multiplier:  1.5,
	}
}
