package session

import (
	"time"

	"fathom/internal/pkg/permission"
	"fathom/internal/pkg/registry"
	"fathom/internal/pkg/sequence"
	"fathom/internal/pkg/transport"

	"github.com/google/uuid"
)

// ClientRecord is the server's view of one admitted client. Created on
// successful authentication, destroyed on disconnect. The record is keyed
// by Identity, not by connection handle, so a client that drops mid-round
// and redials resumes the same record.
type ClientRecord struct {
	Identity uuid.UUID
	Name     string
	Conn     transport.Conn
	State    ConnectionState

	Permissions *permission.Set

	// Bound simulation entity, registry.NullEntity while spectating.
	Character registry.EntityID

	// Entity event stream positions. LastRecvEventID is the newest
	// server event the client has acked; LastSentEventID is the newest
	// server event written to this client; LastClientEventID is the
	// newest client-originated event the server has applied.
	LastRecvEventID   sequence.ID
	LastSentEventID   sequence.ID
	LastClientEventID sequence.ID

	// Lobby version last acked by the client.
	LastLobbyVersion sequence.ID

	// Mid-round join sync bookkeeping.
	NeedsMidRoundSync    bool
	UnreceivedEventCount uint16
	FirstNewEventID      sequence.ID
	MidRoundSyncDeadline time.Time

	// Smoothed round-trip latency.
	RTT time.Duration

	lastPingSent time.Time
	pingToken    uint32
}

// NewClientRecord creates a record for a freshly authenticated client.
func NewClientRecord(identity uuid.UUID, name string, conn transport.Conn) *ClientRecord {
	return &ClientRecord{
		Identity:    identity,
		Name:        name,
		Conn:        conn,
		State:       StateAuthenticated,
		Permissions: permission.NewSet(permission.None),
	}
}

// Advance moves the record to next if the transition is legal.
func (c *ClientRecord) Advance(next ConnectionState) bool {
	if !c.State.CanAdvanceTo(next) {
		return false
	}
	c.State = next
	return true
}

// InRound reports whether the client is participating in the running round.
func (c *ClientRecord) InRound() bool { return c.State == StateInRound }

// MarkPingSent records an outgoing ping token and send time.
func (c *ClientRecord) MarkPingSent(token uint32, now time.Time) {
	c.pingToken = token
	c.lastPingSent = now
}

// ObservePong folds a pong into the smoothed RTT. Stale tokens are ignored.
func (c *ClientRecord) ObservePong(token uint32, now time.Time) {
	if token != c.pingToken || c.lastPingSent.IsZero() {
		return
	}
	sample := now.Sub(c.lastPingSent)
	if c.RTT == 0 {
		c.RTT = sample
		return
	}
	// exponential moving average, weight 1/8 like TCP's SRTT
	c.RTT += (sample - c.RTT) / 8
}
