package transport

import (
	"net"
	"sync"

	"github.com/pkg/errors"
)

// UDPConn is a Conn over a UDP socket.
type UDPConn struct {
	ep     *endpoint
	remote string
	closer func()
}

// DialUDP connects to a server at addr ("host:port").
func DialUDP(addr string) (*UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s failed", addr)
	}
	sock, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s failed", addr)
	}
	c := &UDPConn{
		remote: udpAddr.String(),
		closer: func() { _ = sock.Close() },
	}
	c.ep = newEndpoint(func(datagram []byte) error {
		_, err := sock.Write(datagram)
		return errors.Wrap(err, "udp write failed")
	})
	go func() {
		buf := make([]byte, MaxPayload+64)
		for {
			n, err := sock.Read(buf)
			if err != nil {
				return
			}
			c.ep.handleRaw(buf[:n])
		}
	}()
	return c, nil
}

func (c *UDPConn) Send(payload []byte, reliable bool) error { return c.ep.send(payload, reliable) }
func (c *UDPConn) Poll() ([]byte, bool)                     { return c.ep.poll() }
func (c *UDPConn) Status() Status                           { return c.ep.currentStatus() }
func (c *UDPConn) CloseReason() string                      { return c.ep.closeReason() }
func (c *UDPConn) RemoteAddr() string                       { return c.remote }

func (c *UDPConn) Close(reason string) error {
	c.ep.close(reason, true)
	c.closer()
	return nil
}

// UDPListener accepts peer links on a single UDP socket, demultiplexing
// datagrams by source address.
type UDPListener struct {
	sock *net.UDPConn

	mu       sync.Mutex
	peers    map[string]*UDPConn
	accepted []*UDPConn
	closed   bool
}

// ListenUDP binds addr and starts receiving.
func ListenUDP(addr string) (*UDPListener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s failed", addr)
	}
	sock, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s failed", addr)
	}
	l := &UDPListener{
		sock:  sock,
		peers: make(map[string]*UDPConn),
	}
	go l.readLoop()
	return l, nil
}

func (l *UDPListener) readLoop() {
	buf := make([]byte, MaxPayload+64)
	for {
		n, from, err := l.sock.ReadFromUDP(buf)
		if err != nil {
			return
		}
		l.connFor(from).ep.handleRaw(buf[:n])
	}
}

func (l *UDPListener) connFor(from *net.UDPAddr) *UDPConn {
	key := from.String()
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.peers[key]; ok {
		return c
	}
	c := &UDPConn{remote: key, closer: func() {}}
	c.ep = newEndpoint(func(datagram []byte) error {
		_, err := l.sock.WriteToUDP(datagram, from)
		return errors.Wrap(err, "udp write failed")
	})
	l.peers[key] = c
	l.accepted = append(l.accepted, c)
	return c
}

// Accept returns the next newly connected peer, if any. Non-blocking,
// intended to be drained from the server update loop.
func (l *UDPListener) Accept() (Conn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.accepted) == 0 {
		return nil, false
	}
	c := l.accepted[0]
	l.accepted = l.accepted[1:]
	return c, true
}

// Addr returns the bound socket address.
func (l *UDPListener) Addr() string { return l.sock.LocalAddr().String() }

// Close shuts the listener and all accepted links down.
func (l *UDPListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	peers := make([]*UDPConn, 0, len(l.peers))
	for _, c := range l.peers {
		peers = append(peers, c)
	}
	l.mu.Unlock()
	for _, c := range peers {
		c.ep.close("server shutting down", true)
	}
	return errors.Wrap(l.sock.Close(), "close udp socket failed")
}
