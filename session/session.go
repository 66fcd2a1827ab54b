package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/minichat/broker"
	"github.com/mqy/minichat/history"
	"github.com/mqy/minichat/model"
	"github.com/mqy/minichat/router"
	"github.com/mqy/minichat/timeline"
)

var (
	ErrEmptyText  = errors.New("session: empty text")
	ErrOutboxFull = errors.New("session: outbox full")
	ErrStopped    = errors.New("session: stopped")
)

// OfflinePolicy decides what Send does while the broker is not connected.
type OfflinePolicy int

const (
	OfflineDrop OfflinePolicy = iota
	OfflineQueue
)

const DefaultOutboxSize = 64

type Config struct {
	Routes    map[string]model.Origin // inbound topic => origin
	SelfTopic string                  // where Send publishes
	ClientId  string

	// TagOwnEcho tags inbound payloads whose `sender` is ClientId as self.
	// Off, origin comes from the topic only.
	TagOwnEcho bool

	Offline    OfflinePolicy
	OutboxSize int
	Location   *time.Location // for day grouping, defaults to time.Local
	Now        func() time.Time
}

type sendReq struct {
	text  string
	color model.Color
	done  chan error
}

// Session is the message session controller. All state below is owned by the
// goroutine running Run; other goroutines talk to it through channels and
// read the latest published snapshot.
type Session struct {
	conf     *Config
	manager  *broker.Manager
	loader   *history.Loader
	router   *router.Router
	timeline *timeline.Timeline

	historyCh chan []model.Message
	sendCh    chan *sendReq
	connectCh chan chan error
	updates   chan struct{}
	stopped   chan struct{}

	ready      bool // history seeded
	subscribed bool
	outbox     []*model.Payload

	snapshot atomic.Value // []model.Message
}

func New(conf *Config, manager *broker.Manager, loader *history.Loader) *Session {
	if conf.Now == nil {
		conf.Now = time.Now
	}
	if conf.Location == nil {
		conf.Location = time.Local
	}
	if conf.OutboxSize <= 0 {
		conf.OutboxSize = DefaultOutboxSize
	}

	var opts []router.Option
	if conf.TagOwnEcho {
		opts = append(opts, router.WithSelf(conf.ClientId))
	}

	s := &Session{
		conf:      conf,
		manager:   manager,
		loader:    loader,
		router:    router.New(conf.Routes, opts...),
		timeline:  timeline.New(),
		historyCh: make(chan []model.Message, 1),
		sendCh:    make(chan *sendReq),
		connectCh: make(chan chan error),
		updates:   make(chan struct{}, 1),
		stopped:   make(chan struct{}),
	}
	s.snapshot.Store(s.timeline.Messages())
	return s
}

// Run loads history, then processes events until ctx is done. The broker
// connection is closed on return.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.stopped)
	defer func() {
		s.manager.Close()
		s.notify()
	}()

	go func() {
		s.historyCh <- s.loader.Load(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			glog.V(5).Infof("session: exit loop: %v", ctx.Err())
			return ctx.Err()

		case msgs := <-s.historyCh:
			s.onHistory(ctx, msgs)

		case ev := <-s.manager.Events():
			s.onEvent(ctx, ev)

		case req := <-s.sendCh:
			req.done <- s.send(ctx, req.text, req.color)

		case done := <-s.connectCh:
			done <- s.connect(ctx)
		}
		s.notify()
	}
}

// Send publishes text on the session's own topic. The message shows up in the
// timeline once the broker echoes it back.
func (s *Session) Send(ctx context.Context, text string, color model.Color) error {
	if text == "" {
		return ErrEmptyText
	}
	req := &sendReq{text: text, color: color, done: make(chan error, 1)}
	select {
	case s.sendCh <- req:
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-req.done
}

// Connect (re)establishes the broker connection.
func (s *Session) Connect(ctx context.Context) error {
	done := make(chan error, 1)
	select {
	case s.connectCh <- done:
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-done
}

// Messages is the current timeline in insertion order. The returned slice
// must not be modified.
func (s *Session) Messages() []model.Message {
	return s.snapshot.Load().([]model.Message)
}

func (s *Session) Groups() []model.DayGroup {
	return timeline.GroupByDay(s.Messages(), s.conf.Location)
}

func (s *Session) Status() model.Status {
	return s.manager.Status()
}

// Updates signals after the timeline or the status may have changed.
// Signals are coalesced.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

func (s *Session) notify() {
	s.snapshot.Store(s.timeline.Messages())
	statusGauge.Set(float64(s.manager.Status()))

	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func (s *Session) onHistory(ctx context.Context, msgs []model.Message) {
	if err := s.timeline.Seed(msgs); err != nil {
		glog.Errorf("session: seed history: %v", err)
	}
	s.ready = true
	historyGauge.Set(float64(len(msgs)))
	glog.V(2).Infof("session: history ready, %d messages", len(msgs))

	s.subscribe(ctx)
}

func (s *Session) onEvent(ctx context.Context, ev broker.Event) {
	glog.V(5).Infof("session: broker event %s", ev.Kind)
	s.manager.Handle(ev)

	switch ev.Kind {
	case broker.EventConnected:
		// a fresh link may have lost the subscriptions.
		s.subscribed = false
		s.subscribe(ctx)
	case broker.EventReconnecting, broker.EventError:
		s.subscribed = false
	case broker.EventMessage:
		s.onMessage(ev)
	}
}

func (s *Session) onMessage(ev broker.Event) {
	if !s.ready {
		droppedCounter.WithLabelValues(dropNotReady).Inc()
		glog.V(5).Infof("session: drop message on %s: history not ready", ev.Topic)
		return
	}

	m, err := s.router.Decode(ev.Topic, ev.Payload, s.conf.Now())
	if err != nil {
		reason := dropMalformed
		if errors.Is(err, router.ErrUnknownTopic) {
			reason = dropUnknownTopic
		}
		droppedCounter.WithLabelValues(reason).Inc()
		glog.V(5).Infof("session: drop message on %s: %v", ev.Topic, err)
		return
	}

	s.timeline.Append(m)
	receivedCounter.WithLabelValues(string(m.Origin)).Inc()
}

// subscribe runs once both history is ready and the broker is connected.
func (s *Session) subscribe(ctx context.Context) {
	if !s.ready || s.subscribed {
		return
	}
	conn := s.manager.Conn()
	if conn == nil {
		return
	}

	topics := s.router.Topics()
	if err := conn.Subscribe(ctx, topics); err != nil {
		s.manager.Handle(broker.Event{Kind: broker.EventError, Err: fmt.Errorf("subscribe %v: %w", topics, err)})
		return
	}
	s.subscribed = true
	glog.Infof("session: subscribed to %v", topics)

	s.flush(ctx)
}

func (s *Session) connect(ctx context.Context) error {
	s.subscribed = false
	return s.manager.Connect(ctx)
}

func (s *Session) send(ctx context.Context, text string, color model.Color) error {
	if text == "" {
		return ErrEmptyText
	}

	p := &model.Payload{
		Text:   text,
		Color:  model.CoerceColor(string(color)),
		Time:   s.conf.Now().UnixMilli(),
		Sender: s.conf.ClientId,
	}

	conn := s.manager.Conn()
	if conn == nil || !s.subscribed {
		return s.offline(p)
	}
	if len(s.outbox) > 0 {
		// keep order behind queued messages.
		if len(s.outbox) >= s.conf.OutboxSize {
			return ErrOutboxFull
		}
		s.outbox = append(s.outbox, p)
		s.flush(ctx)
		return nil
	}
	return s.publish(ctx, conn, p)
}

func (s *Session) offline(p *model.Payload) error {
	if s.conf.Offline != OfflineQueue {
		droppedCounter.WithLabelValues(dropOffline).Inc()
		return broker.ErrNotConnected
	}
	if len(s.outbox) >= s.conf.OutboxSize {
		droppedCounter.WithLabelValues(dropOffline).Inc()
		return ErrOutboxFull
	}
	s.outbox = append(s.outbox, p)
	glog.V(2).Infof("session: queued message, outbox size: %d", len(s.outbox))
	return nil
}

// flush publishes queued messages in order, stops at the first failure.
func (s *Session) flush(ctx context.Context) {
	for len(s.outbox) > 0 {
		conn := s.manager.Conn()
		if conn == nil {
			return
		}
		if err := s.publish(ctx, conn, s.outbox[0]); err != nil {
			glog.Errorf("session: flush outbox: %v", err)
			return
		}
		s.outbox[0] = nil
		s.outbox = s.outbox[1:]
	}
}

func (s *Session) publish(ctx context.Context, conn broker.IBroker, p *model.Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("error marshal payload: %v", err)
	}
	if err := conn.Publish(ctx, s.conf.SelfTopic, body); err != nil {
		glog.Errorf("session: publish to %s error: %v", s.conf.SelfTopic, err)
		return err
	}
	publishedCounter.Inc()

	s.loader.Mirror(&model.Payload{Text: p.Text, Color: p.Color})
	return nil
}
