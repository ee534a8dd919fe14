package transport

// Pipe is an in-memory Conn pair for tests. Unreliable sends pass through
// the configurable Filter, which may drop or reorder them; reliable sends
// go through the same ack/resend endpoint the UDP transport uses, so loss
// injected by the filter exercises the retransmission path.
type Pipe struct {
	ep     *endpoint
	peer   *Pipe
	name   string
	filter func(datagram []byte) bool
}

// NewPipe returns two connected ends.
func NewPipe() (*Pipe, *Pipe) {
	a := &Pipe{name: "pipe-a"}
	b := &Pipe{name: "pipe-b"}
	a.peer, b.peer = b, a
	a.ep = newEndpoint(func(datagram []byte) error {
		if a.filter != nil && !a.filter(datagram) {
			return nil
		}
		b.ep.handleRaw(datagram)
		return nil
	})
	b.ep = newEndpoint(func(datagram []byte) error {
		if b.filter != nil && !b.filter(datagram) {
			return nil
		}
		a.ep.handleRaw(datagram)
		return nil
	})
	return a, b
}

// SetFilter installs a predicate deciding whether an outgoing raw datagram
// is delivered. Must be set before concurrent use.
func (p *Pipe) SetFilter(f func(datagram []byte) bool) { p.filter = f }

func (p *Pipe) Send(payload []byte, reliable bool) error { return p.ep.send(payload, reliable) }
func (p *Pipe) Poll() ([]byte, bool)                     { return p.ep.poll() }
func (p *Pipe) Status() Status                           { return p.ep.currentStatus() }
func (p *Pipe) CloseReason() string                      { return p.ep.closeReason() }
func (p *Pipe) RemoteAddr() string                       { return p.peer.name }

func (p *Pipe) Close(reason string) error {
	p.ep.close(reason, true)
	return nil
}
