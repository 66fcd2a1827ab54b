package broker

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/mqy/minichat/model"
)

// Dialer creates a backend for conf without connecting it.
type Dialer func(conf *Config) (IBroker, error)

// Manager owns at most one live broker connection and its status. A new
// Manager reports Connecting: it is expected to be connected right away.
// Connect, Handle and Close are called from one goroutine (the session loop);
// Status may be read from anywhere.
type Manager struct {
	conf   *Config
	dial   Dialer
	conn   IBroker
	events <-chan Event
	status int32
}

func NewManager(conf *Config, dial Dialer) *Manager {
	if dial == nil {
		dial = Dial
	}
	return &Manager{
		conf:   conf,
		dial:   dial,
		status: int32(model.StatusConnecting),
	}
}

func (m *Manager) Status() model.Status {
	return model.Status(atomic.LoadInt32(&m.status))
}

func (m *Manager) setStatus(s model.Status) {
	if old := model.Status(atomic.SwapInt32(&m.status, int32(s))); old != s {
		glog.V(2).Infof("manager: status %s => %s", old, s)
	}
}

// Events of the current connection; nil when there is none, which blocks forever in select.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Conn lends the live handle, nil unless connected.
func (m *Manager) Conn() IBroker {
	if m.Status() != model.StatusConnected {
		return nil
	}
	return m.conn
}

// Connect replaces the current connection (if any) with a new one.
func (m *Manager) Connect(ctx context.Context) error {
	if m.conn != nil {
		m.Close()
	}

	m.setStatus(model.StatusConnecting)
	conn, err := m.dial(m.conf)
	if err != nil {
		m.setStatus(model.StatusDisconnected)
		return fmt.Errorf("dial %s: %w", m.conf.URL, err)
	}

	m.conn = conn
	m.events = conn.Events()

	glog.Infof("manager: connecting to %s as %s", m.conf.URL, m.conf.Credentials)
	if err := conn.Connect(ctx); err != nil {
		glog.Errorf("manager: connect %s error: %v", m.conf.URL, err)
		m.Close()
		return err
	}
	return nil
}

// Handle applies a connection event to the status. Message events are ignored.
func (m *Manager) Handle(ev Event) {
	if m.conn == nil {
		return
	}
	switch ev.Kind {
	case EventConnected:
		glog.Infof("manager: connected to %s", m.conf.URL)
		m.setStatus(model.StatusConnected)
	case EventReconnecting:
		m.setStatus(model.StatusReconnecting)
	case EventError:
		glog.Errorf("manager: connection error: %v", ev.Err)
		m.Close()
	}
}

// Close closes the current connection. The handle is gone afterwards.
func (m *Manager) Close() {
	if m.conn == nil {
		m.setStatus(model.StatusDisconnected)
		return
	}

	m.setStatus(model.StatusDisconnecting)
	if err := m.conn.Close(); err != nil {
		glog.Errorf("manager: close error: %v", err)
	}
	m.conn = nil
	m.events = nil
	m.setStatus(model.StatusDisconnected)
}
