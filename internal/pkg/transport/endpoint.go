package transport

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Raw datagram framing, one byte of type followed by type-specific data:
//
//	rawUnrel: payload
//	rawRel:   seq uint16, payload // resent until acked
//	rawAck:   seq uint16
//	rawDisco: reason string bytes
type rawType byte

const (
	rawUnrel rawType = iota
	rawRel
	rawAck
	rawDisco
)

const (
	resendInterval = 200 * time.Millisecond
	resendDeadline = 10 * time.Second
	seenWindow     = 1024
)

var logger logrus.FieldLogger = logrus.StandardLogger()

type pendingSend struct {
	datagram []byte
	lastSent time.Time
	firstSent time.Time
}

// endpoint implements the reliable-mode ack/resend discipline on top of a
// raw datagram send function. It is shared by the UDP and pipe transports.
type endpoint struct {
	sendRaw func([]byte) error

	mu        sync.Mutex
	nextSeq   uint16
	pending   map[uint16]*pendingSend
	seen      map[uint16]struct{}
	seenOrder []uint16
	queue     [][]byte
	status    Status
	reason    string

	stop chan struct{}
}

func newEndpoint(sendRaw func([]byte) error) *endpoint {
	e := &endpoint{
		sendRaw: sendRaw,
		pending: make(map[uint16]*pendingSend),
		seen:    make(map[uint16]struct{}),
		status:  StatusConnected,
		stop:    make(chan struct{}),
	}
	go e.resendLoop()
	return e
}

func (e *endpoint) send(payload []byte, reliable bool) error {
	e.mu.Lock()
	if e.status == StatusDisconnected {
		e.mu.Unlock()
		return ErrConnClosed
	}
	if !reliable {
		e.mu.Unlock()
		datagram := make([]byte, 0, len(payload)+1)
		datagram = append(datagram, byte(rawUnrel))
		datagram = append(datagram, payload...)
		return e.sendRaw(datagram)
	}
	seq := e.nextSeq
	e.nextSeq++
	datagram := make([]byte, 0, len(payload)+3)
	datagram = append(datagram, byte(rawRel), byte(seq>>8), byte(seq))
	datagram = append(datagram, payload...)
	now := time.Now()
	e.pending[seq] = &pendingSend{datagram: datagram, lastSent: now, firstSent: now}
	e.mu.Unlock()
	return e.sendRaw(datagram)
}

// handleRaw processes one datagram received from the wire.
func (e *endpoint) handleRaw(datagram []byte) {
	if len(datagram) == 0 {
		return
	}
	switch rawType(datagram[0]) {
	case rawUnrel:
		e.deliver(datagram[1:])
	case rawRel:
		if len(datagram) < 3 {
			return
		}
		seq := uint16(datagram[1])<<8 | uint16(datagram[2])
		ack := []byte{byte(rawAck), datagram[1], datagram[2]}
		if err := e.sendRaw(ack); err != nil {
			logger.WithError(err).Debug("send ack failed")
		}
		e.mu.Lock()
		if _, dup := e.seen[seq]; dup {
			e.mu.Unlock()
			return
		}
		e.seen[seq] = struct{}{}
		e.seenOrder = append(e.seenOrder, seq)
		if len(e.seenOrder) > seenWindow {
			delete(e.seen, e.seenOrder[0])
			e.seenOrder = e.seenOrder[1:]
		}
		e.mu.Unlock()
		e.deliver(datagram[3:])
	case rawAck:
		if len(datagram) < 3 {
			return
		}
		seq := uint16(datagram[1])<<8 | uint16(datagram[2])
		e.mu.Lock()
		delete(e.pending, seq)
		e.mu.Unlock()
	case rawDisco:
		e.close(string(datagram[1:]), false)
	}
}

func (e *endpoint) deliver(payload []byte) {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	e.mu.Lock()
	e.queue = append(e.queue, cp)
	e.mu.Unlock()
}

func (e *endpoint) poll() ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return nil, false
	}
	payload := e.queue[0]
	e.queue = e.queue[1:]
	return payload, true
}

func (e *endpoint) resendLoop() {
	ticker := time.NewTicker(resendInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case now := <-ticker.C:
			var resend [][]byte
			var dead bool
			e.mu.Lock()
			for _, p := range e.pending {
				if now.Sub(p.firstSent) > resendDeadline {
					dead = true
					break
				}
				if now.Sub(p.lastSent) >= resendInterval {
					p.lastSent = now
					resend = append(resend, p.datagram)
				}
			}
			e.mu.Unlock()
			if dead {
				e.close("reliable delivery timed out", true)
				return
			}
			for _, datagram := range resend {
				if err := e.sendRaw(datagram); err != nil {
					logger.WithError(err).Debug("resend failed")
				}
			}
		}
	}
}

func (e *endpoint) close(reason string, notifyPeer bool) {
	e.mu.Lock()
	if e.status == StatusDisconnected {
		e.mu.Unlock()
		return
	}
	e.status = StatusDisconnected
	e.reason = reason
	e.mu.Unlock()
	close(e.stop)
	if notifyPeer {
		datagram := append([]byte{byte(rawDisco)}, reason...)
		if err := e.sendRaw(datagram); err != nil {
			logger.WithError(err).Debug("send disconnect failed")
		}
	}
}

func (e *endpoint) currentStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *endpoint) closeReason() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusDisconnected {
		return ""
	}
	return e.reason
}
