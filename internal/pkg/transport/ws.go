package transport

import (
	"context"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/pkg/errors"
)

// WSConn is a Conn over a websocket, for clients on networks that drop
// UDP. The underlying link is reliable and ordered, so the reliable flag
// is a no-op and the protocol's dedup discipline sees no duplicates.
type WSConn struct {
	ws     *websocket.Conn
	remote string

	mu     sync.Mutex
	queue  [][]byte
	status Status
	reason string
}

// DialWS connects to a websocket server at url.
func DialWS(ctx context.Context, url string) (*WSConn, error) {
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s failed", url)
	}
	c := newWSConn(ws, url)
	return c, nil
}

func newWSConn(ws *websocket.Conn, remote string) *WSConn {
	ws.SetReadLimit(MaxPayload + 64)
	c := &WSConn{
		ws:     ws,
		remote: remote,
		status: StatusConnected,
	}
	go c.readLoop()
	return c
}

func (c *WSConn) readLoop() {
	for {
		_, payload, err := c.ws.Read(context.Background())
		if err != nil {
			reason := "connection lost"
			if s := websocket.CloseStatus(err); s != -1 {
				reason = err.Error()
			}
			c.mu.Lock()
			if c.status != StatusDisconnected {
				c.status = StatusDisconnected
				c.reason = reason
			}
			c.mu.Unlock()
			return
		}
		c.mu.Lock()
		c.queue = append(c.queue, payload)
		c.mu.Unlock()
	}
}

func (c *WSConn) Send(payload []byte, _ bool) error {
	c.mu.Lock()
	closed := c.status == StatusDisconnected
	c.mu.Unlock()
	if closed {
		return ErrConnClosed
	}
	return errors.Wrap(c.ws.Write(context.Background(), websocket.MessageBinary, payload), "websocket write failed")
}

func (c *WSConn) Poll() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil, false
	}
	payload := c.queue[0]
	c.queue = c.queue[1:]
	return payload, true
}

func (c *WSConn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *WSConn) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusDisconnected {
		return ""
	}
	return c.reason
}

func (c *WSConn) RemoteAddr() string { return c.remote }

func (c *WSConn) Close(reason string) error {
	c.mu.Lock()
	if c.status == StatusDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.status = StatusDisconnected
	c.reason = reason
	c.mu.Unlock()
	return errors.Wrap(c.ws.Close(websocket.StatusNormalClosure, reason), "close websocket failed")
}

// WSAcceptor upgrades incoming HTTP requests and queues the resulting
// links for the server update loop.
type WSAcceptor struct {
	mu       sync.Mutex
	accepted []*WSConn
}

// NewWSAcceptor creates an acceptor; mount it on an http mux and drain
// Accept from the update loop.
func NewWSAcceptor() *WSAcceptor {
	return &WSAcceptor{}
}

func (a *WSAcceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.WithError(err).Warn("websocket accept failed")
		return
	}
	c := newWSConn(ws, r.RemoteAddr)
	a.mu.Lock()
	a.accepted = append(a.accepted, c)
	a.mu.Unlock()
}

// Accept returns the next upgraded link, if any. Non-blocking.
func (a *WSAcceptor) Accept() (Conn, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.accepted) == 0 {
		return nil, false
	}
	c := a.accepted[0]
	a.accepted = a.accepted[1:]
	return c, true
}
