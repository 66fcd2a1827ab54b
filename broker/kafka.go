package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	kafka "github.com/segmentio/kafka-go"
)

const (
	kafkaReadTimeout  = 10 * time.Second
	kafkaWriteTimeout = 10 * time.Second
	kafkaGroupPrefix  = "minichat-"
)

// kafkaBroker maps topics onto kafka topics. Every subscribed topic gets its
// own reader in the consumer group of this client, starting from the newest offset.
type kafkaBroker struct {
	emitter
	conf    *Config
	brokers []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	probe     func(ctx context.Context) error
	newReader func(topic string) IKafkaReader
	writer    IKafkaWriter

	mu  sync.Mutex
	sub *kafkaSub
}

// kafkaSub is one Subscribe call: its readers and their consume loops.
type kafkaSub struct {
	topics  []string
	cancel  context.CancelFunc
	readers []IKafkaReader
	failing int // readers currently failing to fetch
}

func (s *kafkaSub) sameTopics(topics []string) bool {
	if len(s.topics) != len(topics) {
		return false
	}
	for i := range topics {
		if s.topics[i] != topics[i] {
			return false
		}
	}
	return true
}

func newKafkaBroker(conf *Config, brokers []string) *kafkaBroker {
	dialer := &kafka.Dialer{
		Timeout:       kafkaReadTimeout,
		DualStack:     true,
		ClientID:      conf.ClientId,
		SASLMechanism: conf.Credentials.SASL(),
	}

	b := &kafkaBroker{
		emitter: newEmitter(),
		conf:    conf,
		brokers: brokers,
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())

	b.probe = func(ctx context.Context) error {
		var err error
		for _, addr := range brokers {
			var conn *kafka.Conn
			if conn, err = dialer.DialContext(ctx, "tcp", addr); err == nil {
				return conn.Close()
			}
			glog.Errorf("kafka: dial %s error: %v", addr, err)
		}
		return err
	}

	b.newReader = func(topic string) IKafkaReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			GroupID:     kafkaGroupPrefix + conf.ClientId,
			Topic:       topic,
			StartOffset: kafka.LastOffset,
			Dialer:      dialer,
		})
	}

	transport := &kafka.Transport{
		DialTimeout: kafkaWriteTimeout,
		ClientID:    conf.ClientId,
	}
	if m := conf.Credentials.SASL(); m != nil {
		transport.SASL = m
	}
	b.writer = &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		Transport:              transport,
		WriteTimeout:           kafkaWriteTimeout,
		AllowAutoTopicCreation: true,
	}
	return b
}

func (b *kafkaBroker) Connect(ctx context.Context) error {
	if len(b.brokers) == 0 || b.brokers[0] == "" {
		return fmt.Errorf("kafka: no brokers")
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		ctx2, cancel := withTimeout(b.ctx, b.conf)
		defer cancel()
		if err := b.probe(ctx2); err != nil {
			b.emit(Event{Kind: EventError, Err: err})
			return
		}
		b.emit(Event{Kind: EventConnected})
	}()
	return nil
}

func (b *kafkaBroker) Subscribe(ctx context.Context, topics []string) error {
	b.mu.Lock()
	if b.closed() {
		b.mu.Unlock()
		return ErrNotConnected
	}
	// readers survive fetch errors, a resubscribe after their recovery keeps them.
	if b.sub != nil && b.sub.sameTopics(topics) {
		b.mu.Unlock()
		glog.V(5).Infof("kafka: already subscribed to %v", topics)
		return nil
	}

	old := b.sub
	sub := &kafkaSub{topics: append([]string(nil), topics...)}
	var subCtx context.Context
	subCtx, sub.cancel = context.WithCancel(b.ctx)
	for _, topic := range topics {
		r := b.newReader(KafkaTopic(topic))
		sub.readers = append(sub.readers, r)
		b.wg.Add(1)
		go b.consumeLoop(subCtx, sub, r, topic)
	}
	b.sub = sub
	b.mu.Unlock()

	stopSub(old)
	return nil
}

// stopSub cancels the consume loops of s and closes its readers.
func stopSub(s *kafkaSub) {
	if s == nil {
		return
	}
	s.cancel()
	for _, r := range s.readers {
		_ = r.Close() // slow: may take seconds to leave the group
	}
}

// consumeLoop fetches messages of one topic until the broker is closed.
// Fetch errors follow the reconnect policy.
func (b *kafkaBroker) consumeLoop(ctx context.Context, sub *kafkaSub, r IKafkaReader, topic string) {
	defer func() {
		glog.V(5).Infof("kafka: consume loop of %s exited", topic)
		b.wg.Done()
	}()

	var sleep time.Duration
	var attempts int

	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			glog.Errorf("kafka: fetch %s error: %v", topic, err)

			attempts++
			if b.conf.Reconnect.Exhausted(attempts) {
				b.emit(Event{Kind: EventError, Err: fmt.Errorf("%w: %s: %v", ErrReconnectLimit, topic, err)})
				return
			}
			if attempts == 1 {
				b.setFailing(sub, 1)
			}
			b.emit(Event{Kind: EventReconnecting})

			b.conf.Reconnect.Backoff(&sleep)
			select {
			case <-time.After(sleep):
				continue
			case <-ctx.Done():
				return
			}
		}

		if ctx.Err() != nil {
			// replaced or closed meanwhile: leave msg uncommitted for the group.
			return
		}

		if attempts > 0 {
			attempts, sleep = 0, 0
			if b.setFailing(sub, -1) == 0 {
				b.emit(Event{Kind: EventConnected})
			}
		}

		glog.V(5).Infof("kafka: fetched %s offset %d", topic, msg.Offset)
		b.emit(Event{Kind: EventMessage, Topic: topic, Payload: msg.Value})

		if err := r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			// not fatal: the message may be fetched again by a later reader of this group.
			glog.Errorf("kafka: commit %s offset %d error: %v", topic, msg.Offset, err)
		}
	}
}

// setFailing returns the number of failing readers of sub, or -1 when sub is
// no longer the current subscription.
func (b *kafkaBroker) setFailing(sub *kafkaSub, delta int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub.failing += delta
	if sub != b.sub {
		return -1
	}
	return sub.failing
}

func (b *kafkaBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if b.closed() {
		return ErrNotConnected
	}

	ctx2, cancel := withTimeout(ctx, b.conf)
	defer cancel()
	err := b.writer.WriteMessages(ctx2, kafka.Message{
		Topic: KafkaTopic(topic),
		Value: payload,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return fmt.Errorf("error write to kafka: %w", err)
	}
	return nil
}

func (b *kafkaBroker) Close() error {
	if !b.shutdown() {
		return nil
	}
	b.cancel()

	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()
	stopSub(sub)

	err := b.writer.Close()
	b.wg.Wait()
	return err
}
