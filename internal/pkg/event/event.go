// Package event replicates discrete entity state changes reliably over the
// unreliable transport. Every event carries a wrapping 16-bit stream ID;
// receivers apply an event only when its ID is more recent than the last
// applied one, which makes retransmission safe. Continuous positional state
// travels on a separate non-deduplicated sub-stream.
package event

import (
	"bytes"
	"time"

	"fathom/internal/pkg/registry"
	"fathom/internal/pkg/sequence"
	"fathom/internal/pkg/wire"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

const (
	// RetentionWindow is how long an event acked by every recipient is
	// still kept before eviction.
	RetentionWindow = 15 * time.Second

	// SyncLagTimeout disconnects a recipient whose oldest unacked event
	// has been waiting this long.
	SyncLagTimeout = 10 * time.Second

	// MidRoundSyncTimeout bounds how long a mid-round joiner may take to
	// catch up on the round's unique events.
	MidRoundSyncTimeout = 60 * time.Second

	// BufferedClientEventCap bounds server-side buffering of client
	// events; on overflow the oldest half is dropped.
	BufferedClientEventCap = 512

	// MaxEventPayload caps one event's payload so a single event always
	// fits an outgoing packet even next to a full chat section. Larger
	// state belongs on the file transfer channel.
	MaxEventPayload = 512

	// maxEventsPerObject is the count-byte ceiling of one events object.
	maxEventsPerObject = 255

	// dupScanWindow bounds how far back Create looks for an identical
	// unsent change.
	dupScanWindow = 8
)

// ErrPayloadTooLarge rejects events that could never be flushed whole.
var ErrPayloadTooLarge = errors.New("event payload exceeds the packet budget")

// Event is one replicated state change, targeted at a single entity.
type Event struct {
	ID      sequence.ID
	Target  registry.EntityID
	Kind    byte
	Payload []byte

	created time.Time
	sent    bool
}

// Created returns when the event entered the retransmission buffer.
func (e *Event) Created() time.Time { return e.created }

func (e *Event) sameChange(target registry.EntityID, kind byte, payload []byte) bool {
	return e.Target == target && e.Kind == kind && bytes.Equal(e.Payload, payload)
}

// encodedSize is the wire footprint of one event inside an events object.
func (e *Event) encodedSize() int {
	return 2 + 2 + 1 + 2 + len(e.Payload)
}

func (e *Event) encode(w *wire.Writer) {
	w.WriteUint16(uint16(e.ID))
	w.WriteUint16(uint16(e.Target))
	w.WriteByte(e.Kind)
	w.WriteBytes(e.Payload)
}

func decodeEvent(r *wire.Reader) Event {
	return Event{
		ID:      sequence.ID(r.ReadUint16()),
		Target:  registry.EntityID(r.ReadUint16()),
		Kind:    r.ReadByte(),
		Payload: r.ReadBytes(),
	}
}

// PositionUpdate is one entry of the unreliable positional sub-stream.
type PositionUpdate struct {
	Entity  registry.EntityID
	Payload []byte
}

// WritePositions appends an entity-positions object. Updates that would
// overflow maxBytes are dropped rather than queued: positional state is
// superseded by the next tick anyway.
func WritePositions(w *wire.Writer, updates []PositionUpdate, maxBytes int) int {
	if len(updates) == 0 {
		return 0
	}
	w.WriteObjectKind(wire.ObjEntityPositions)
	countAt := w.Len()
	w.WriteByte(0)
	written := 0
	for _, u := range updates {
		if written == maxEventsPerObject || w.Len()+2+2+len(u.Payload) > maxBytes {
			break
		}
		w.WriteUint16(uint16(u.Entity))
		w.WriteBytes(u.Payload)
		written++
	}
	w.Bytes()[countAt] = byte(written)
	return written
}

// ReadPositions decodes an entity-positions object, handing each update to
// its entity. Updates for unknown entities are skipped via their declared
// length.
func ReadPositions(r *wire.Reader, reg *registry.Registry) error {
	count := int(r.ReadByte())
	for i := 0; i < count; i++ {
		id := registry.EntityID(r.ReadUint16())
		payload := r.ReadBytes()
		if r.Err() != nil {
			return r.Err()
		}
		e, ok := reg.Find(id)
		if !ok {
			continue
		}
		if p, ok := e.(registry.PositionApplier); ok {
			p.ApplyPosition(payload)
		}
	}
	return nil
}
