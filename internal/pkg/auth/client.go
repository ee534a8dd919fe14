package auth

import (
	"time"

	"fathom/internal/pkg/transport"
	"fathom/internal/pkg/wire"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type clientPhase int

const (
	phaseRequesting clientPhase = iota
	phaseProving
	phaseDone
	phaseFailed
)

// ErrTimedOut is surfaced when the handshake exceeds its overall bound.
var ErrTimedOut = errors.New("authentication timed out")

// Client drives the client side of the handshake. It is ticked by the
// session coordinator's update loop and keeps re-sending its current
// message until answered, so individual datagram loss never stalls it.
type Client struct {
	conn     transport.Conn
	identity uuid.UUID
	name     string
	version  string
	content  string
	password string

	phase    clientPhase
	nonce    []byte
	needsPwd bool
	reason   string

	started  time.Time
	lastSent time.Time
}

// NewClient creates a handshake driver for one connection attempt.
// identity is stable across reconnects so the server can resume the
// existing record instead of duplicating it.
func NewClient(conn transport.Conn, identity uuid.UUID, name, version, contentHash, password string) *Client {
	return &Client{
		conn:     conn,
		identity: identity,
		name:     name,
		version:  version,
		content:  contentHash,
		password: password,
	}
}

// Done reports whether the server admitted us.
func (c *Client) Done() bool { return c.phase == phaseDone }

// Failure returns the user-facing failure reason, if the handshake failed.
func (c *Client) Failure() (string, bool) {
	if c.phase != phaseFailed {
		return "", false
	}
	return c.reason, true
}

// Update re-sends the outstanding handshake message and enforces the
// overall timeout. Returns ErrTimedOut once the bound is exceeded.
func (c *Client) Update(now time.Time) error {
	switch c.phase {
	case phaseDone, phaseFailed:
		return nil
	}
	if c.started.IsZero() {
		c.started = now
	}
	if now.Sub(c.started) > Timeout*time.Second {
		c.phase = phaseFailed
		c.reason = "the server did not respond to the authentication request"
		return ErrTimedOut
	}
	if !c.lastSent.IsZero() && now.Sub(c.lastSent) < RetryInterval*time.Second {
		return nil
	}
	c.lastSent = now
	switch c.phase {
	case phaseRequesting:
		c.sendRequestAuth()
	case phaseProving:
		c.sendRequestInit()
	}
	return nil
}

// HandlePacket processes one ClassAuth payload from the server.
func (c *Client) HandlePacket(r *wire.Reader) error {
	switch kind := r.ReadByte(); kind {
	case msgAuthResponse:
		needsPwd := r.ReadBool()
		nonce := r.ReadBytes()
		if r.Err() != nil {
			return errors.Wrap(r.Err(), "read auth response failed")
		}
		if c.phase != phaseRequesting {
			// duplicate response, our proof is already underway
			return nil
		}
		c.needsPwd = needsPwd
		c.nonce = append([]byte(nil), nonce...)
		c.phase = phaseProving
		c.lastSent = time.Time{}
		return nil

	case msgAuthOK:
		c.phase = phaseDone
		return nil

	case msgAuthFailure:
		reason := r.ReadString()
		if r.Err() != nil {
			return errors.Wrap(r.Err(), "read auth failure failed")
		}
		c.phase = phaseFailed
		c.reason = reason
		return nil

	default:
		return errors.Errorf("unknown auth message kind %d", kind)
	}
}

func (c *Client) sendRequestAuth() {
	w := wire.NewWriter(wire.ClassAuth)
	w.WriteByte(msgRequestAuth)
	w.WriteBytes(c.identity[:])
	w.WriteEnd()
	if err := c.conn.Send(w.Bytes(), false); err != nil {
		logger.WithError(err).Debug("send auth request failed")
	}
}

func (c *Client) sendRequestInit() {
	var proof []byte
	if c.needsPwd {
		proof = SaltedHash(PasswordHash(c.password), c.nonce)
	}
	w := wire.NewWriter(wire.ClassAuth)
	w.WriteByte(msgRequestInit)
	w.WriteBytes(c.identity[:])
	w.WriteBytes(proof)
	w.WriteString(c.version)
	w.WriteString(c.content)
	w.WriteString(c.name)
	w.WriteEnd()
	if err := c.conn.Send(w.Bytes(), false); err != nil {
		logger.WithError(err).Debug("send init request failed")
	}
}
