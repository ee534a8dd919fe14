// Package transport wraps the peer link. The primary implementation runs
// over UDP and is unreliable by default, with an ack/resend layer for
// messages sent in reliable mode. A websocket implementation exists for
// networks that block UDP, and an in-memory pipe supports tests that need
// deterministic loss and reordering.
package transport

import (
	"github.com/pkg/errors"
)

// MaxPayload is the largest datagram payload a packet builder may produce.
// Kept under typical MTU so the UDP transport never fragments.
const MaxPayload = 1200

// Status is the lifecycle stage of a Conn.
type Status int

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// ErrConnClosed is returned by Send on a closed Conn.
var ErrConnClosed = errors.New("connection closed")

// Conn is a single peer link carrying opaque datagrams.
//
// Send with reliable=false is best effort: the payload may be lost,
// duplicated or reordered. Send with reliable=true guarantees eventual
// delivery while the link lives but still no ordering; callers needing
// order must sequence their own payloads.
//
// Poll is non-blocking and returns the next received payload, if any.
// The update loop is expected to call it until it reports false.
type Conn interface {
	Send(payload []byte, reliable bool) error
	Poll() ([]byte, bool)
	Status() Status
	// Close tears the link down, transmitting reason to the peer on a
	// best-effort basis.
	Close(reason string) error
	// CloseReason returns the reason the link died: the argument of a
	// local Close, the reason the peer transmitted, or a transport
	// diagnostic. Empty while the Conn is alive.
	CloseReason() string
	RemoteAddr() string
}
