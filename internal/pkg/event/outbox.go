package event

import (
	"time"

	"fathom/internal/pkg/registry"
	"fathom/internal/pkg/sequence"
	"fathom/internal/pkg/wire"

	"github.com/pkg/errors"
)

// Outbox is the client-side event producer: a single-recipient stream of
// intents ("I moved", "I used this") retransmitted until the server's sync
// header acknowledges them.
type Outbox struct {
	counter   sequence.Counter
	pending   []*Event
	lastAcked sequence.ID
}

// NewOutbox creates an empty Outbox.
func NewOutbox() *Outbox {
	return &Outbox{}
}

// Create queues an intent under the next stream ID. A recently queued
// unsent event describing the same change is not re-queued; payloads above
// MaxEventPayload are rejected so the stream head can never stall on an
// event that does not fit a packet.
func (o *Outbox) Create(target registry.EntityID, kind byte, payload []byte, now time.Time) (*Event, error) {
	if len(payload) > MaxEventPayload {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "%d of %d bytes", len(payload), MaxEventPayload)
	}
	for i, scanned := len(o.pending)-1, 0; i >= 0 && scanned < dupScanWindow; i, scanned = i-1, scanned+1 {
		e := o.pending[i]
		if e.sent {
			break
		}
		if e.sameChange(target, kind, payload) {
			return e, nil
		}
	}
	e := &Event{
		ID:      o.counter.Next(),
		Target:  target,
		Kind:    kind,
		Payload: payload,
		created: now,
	}
	o.pending = append(o.pending, e)
	return e, nil
}

// Ack evicts events up to and including the acked ID.
func (o *Outbox) Ack(id sequence.ID) {
	if !sequence.Advances(id, o.lastAcked) {
		return
	}
	o.lastAcked = id
	keep := len(o.pending)
	for i, e := range o.pending {
		if sequence.MoreRecent(e.ID, id) {
			keep = i
			break
		}
	}
	o.pending = o.pending[keep:]
}

// WriteTo appends the unacked intents that fit maxBytes, oldest first.
func (o *Outbox) WriteTo(w *wire.Writer, maxBytes int) int {
	if len(o.pending) == 0 {
		return 0
	}
	w.WriteObjectKind(wire.ObjEntityEvents)
	countAt := w.Len()
	w.WriteByte(0)
	written := 0
	for _, e := range o.pending {
		if written == maxEventsPerObject || w.Len()+e.encodedSize() > maxBytes {
			break
		}
		e.encode(w)
		e.sent = true
		written++
	}
	w.Bytes()[countAt] = byte(written)
	return written
}

// PendingCount returns the number of unacknowledged intents.
func (o *Outbox) PendingCount() int { return len(o.pending) }

// Reset clears the stream, used between rounds.
func (o *Outbox) Reset() {
	o.counter.Reset()
	o.pending = nil
	o.lastAcked = 0
}
