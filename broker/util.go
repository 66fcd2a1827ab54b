package broker

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	defaultOpTimeout = 3 * time.Second
	eventsBufferSize = 256
)

// Backoff advances d to the next retry interval.
func (p *ReconnectPolicy) Backoff(d *time.Duration) {
	if *d == 0 {
		*d = p.MinInterval
		return
	}
	*d = time.Duration(float64(*d) * p.Multiplier)
	if *d > p.MaxInterval {
		*d = p.MaxInterval
	}
	*d = d.Truncate(time.Millisecond)
}

// Exhausted reports whether `attempts` retries exceed the policy.
func (p *ReconnectPolicy) Exhausted(attempts int) bool {
	return !p.Enabled || (p.MaxAttempts > 0 && attempts > p.MaxAttempts)
}

// KafkaTopic maps a topic name to a legal kafka topic: `chat/host` => `chat.host`.
func KafkaTopic(topic string) string {
	return strings.ReplaceAll(topic, "/", ".")
}

func opTimeout(conf *Config) time.Duration {
	if conf.OpTimeout > 0 {
		return conf.OpTimeout
	}
	return defaultOpTimeout
}

// emitter delivers events until closed. Sends after close are dropped.
type emitter struct {
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func newEmitter() emitter {
	return emitter{
		events: make(chan Event, eventsBufferSize),
		done:   make(chan struct{}),
	}
}

func (e *emitter) Events() <-chan Event {
	return e.events
}

func (e *emitter) emit(ev Event) {
	select {
	case <-e.done:
	default:
		select {
		case e.events <- ev:
		case <-e.done:
		}
	}
}

// shutdown returns false if already closed.
func (e *emitter) shutdown() bool {
	closed := false
	e.closeOnce.Do(func() {
		close(e.done)
		closed = true
	})
	return closed
}

func (e *emitter) closed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

func withTimeout(ctx context.Context, conf *Config) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, opTimeout(conf))
}
