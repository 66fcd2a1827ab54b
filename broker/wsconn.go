package broker

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"golang.org/x/net/proxy"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 3 * time.Second

	wsReadBufferSize  = 4096
	wsWriteBufferSize = 4096
)

// wsConn adapts a websocket connection to a byte stream: every Write is one
// binary frame, Read drains frames in order.
type wsConn struct {
	*websocket.Conn
	rmu    sync.Mutex
	reader io.Reader
	wmu    sync.Mutex
}

// dialWs opens a websocket for MQTT. Proxies from ALL_PROXY/NO_PROXY are honored.
func dialWs(u *url.URL, tlsConf *tls.Config, header http.Header, timeout time.Duration) (net.Conn, error) {
	dialer := websocket.Dialer{
		NetDial:          proxy.FromEnvironment().Dial,
		TLSClientConfig:  tlsConf,
		HandshakeTimeout: timeout,
		Subprotocols:     []string{"mqtt"},
		ReadBufferSize:   wsReadBufferSize,
		WriteBufferSize:  wsWriteBufferSize,
	}

	conn, resp, err := dialer.Dial(u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial `%s`: %v, status: %s", u, err, resp.Status)
		}
		return nil, fmt.Errorf("websocket dial `%s`: %v", u, err)
	}
	glog.V(5).Infof("websocket: connected to %s, subprotocol: %q", u, conn.Subprotocol())
	return &wsConn{Conn: conn}, nil
}

func (c *wsConn) Read(p []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	for {
		if c.reader == nil {
			msgType, r, err := c.NextReader()
			if err != nil {
				return 0, err
			}
			if msgType != websocket.BinaryMessage {
				glog.Errorf("websocket: unexpected message type: %d", msgType)
				continue
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if err == io.EOF {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	c.wmu.Lock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.wmu.Unlock()
	return c.Conn.Close()
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.Conn.SetReadDeadline(t); err != nil {
		return err
	}
	return c.Conn.SetWriteDeadline(t)
}
