package event

import (
	"fathom/internal/pkg/registry"
	"fathom/internal/pkg/sequence"
	"fathom/internal/pkg/wire"

	"github.com/pkg/errors"
)

// Receiver applies one incoming event stream in order. Stale and duplicate
// events are dropped by the wraparound comparator; events for entities that
// no longer exist are consumed via their declared length so the rest of the
// packet stays parseable.
type Receiver struct {
	reg         *registry.Registry
	lastApplied sequence.ID

	// mid-round sync progress, zero until an initial object arrives
	expectedUnique uint16
	firstNewID     sequence.ID
	syncing        bool

	onApplied func(Event)
}

// ReceiverCfg configures a Receiver.
type ReceiverCfg func(*Receiver) error

// WithOnApplied sets a hook invoked after each applied event.
func WithOnApplied(fn func(Event)) ReceiverCfg {
	return func(r *Receiver) error {
		r.onApplied = fn
		return nil
	}
}

// NewReceiver creates a Receiver resolving targets against reg.
func NewReceiver(reg *registry.Registry, cfgs ...ReceiverCfg) (*Receiver, error) {
	r := &Receiver{reg: reg}
	for _, cfg := range cfgs {
		if err := cfg(r); err != nil {
			return nil, errors.Wrap(err, "apply receiver cfg failed")
		}
	}
	return r, nil
}

// LastApplied returns the newest applied event ID, echoed back to the
// sender in sync headers as the acknowledgement.
func (r *Receiver) LastApplied() sequence.ID { return r.lastApplied }

// Syncing reports whether a mid-round unique-event replay is in progress.
func (r *Receiver) Syncing() bool { return r.syncing }

// Reset rewinds the stream position, used between rounds.
func (r *Receiver) Reset() {
	r.lastApplied = 0
	r.expectedUnique = 0
	r.firstNewID = 0
	r.syncing = false
}

// ReadInitial decodes a mid-round initial object: how many unique events
// the replay carries and the first ID that postdates the join.
func (r *Receiver) ReadInitial(reader *wire.Reader) error {
	r.expectedUnique = reader.ReadUint16()
	r.firstNewID = sequence.ID(reader.ReadUint16())
	if reader.Err() != nil {
		return errors.Wrap(reader.Err(), "read initial events header failed")
	}
	if !r.syncing {
		r.syncing = true
		r.lastApplied = 0
	}
	return nil
}

// Read decodes one events object and applies whatever is new. Malformed
// object contents abort the packet with an error; unknown target entities
// and stale IDs are not errors.
func (r *Receiver) Read(reader *wire.Reader) (applied int, err error) {
	count := int(reader.ReadByte())
	for i := 0; i < count; i++ {
		e := decodeEvent(reader)
		if reader.Err() != nil {
			return applied, errors.Wrapf(reader.Err(), "read event %d of %d failed", i+1, count)
		}
		if !sequence.Advances(e.ID, r.lastApplied) {
			continue
		}
		r.lastApplied = e.ID
		if r.syncing && !sequence.MoreRecent(r.firstNewID, e.ID+1) {
			// replay caught up with the live stream
			r.syncing = false
		}
		target, ok := r.reg.Find(e.Target)
		if !ok {
			logger.WithFields(map[string]interface{}{
				"event":  uint16(e.ID),
				"entity": uint16(e.Target),
			}).Debug("event target not found, skipped")
			continue
		}
		applier, ok := target.(registry.EventApplier)
		if !ok {
			continue
		}
		if err := applier.ApplyEvent(e.Kind, e.Payload, e.ID); err != nil {
			logger.WithError(err).WithField("event", uint16(e.ID)).Warn("apply event failed")
			continue
		}
		applied++
		if r.onApplied != nil {
			r.onApplied(e)
		}
	}
	return applied, nil
}

// ReadBatch decodes one events object without applying anything, used by
// the server for client-originated intents whose application is deferred to
// the update tick.
func ReadBatch(reader *wire.Reader) ([]Event, error) {
	count := int(reader.ReadByte())
	out := make([]Event, 0, count)
	for i := 0; i < count; i++ {
		e := decodeEvent(reader)
		if reader.Err() != nil {
			return nil, errors.Wrapf(reader.Err(), "read event %d of %d failed", i+1, count)
		}
		out = append(out, e)
	}
	return out, nil
}

// Buffer holds client-originated events on the server until the coordinator
// applies them on its tick. It is bounded: flooding drops the oldest half
// rather than growing without limit.
type Buffer struct {
	items []Event
}

// Push appends an event, trimming the oldest half on overflow.
func (b *Buffer) Push(e Event) {
	if len(b.items) >= BufferedClientEventCap {
		drop := len(b.items) / 2
		b.items = append(b.items[:0], b.items[drop:]...)
		logger.WithField("dropped", drop).Warn("client event buffer overflow")
	}
	b.items = append(b.items, e)
}

// Drain applies and removes every buffered event in arrival order.
func (b *Buffer) Drain(apply func(Event)) {
	for _, e := range b.items {
		apply(e)
	}
	b.items = b.items[:0]
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int { return len(b.items) }

// Clear discards all buffered events.
func (b *Buffer) Clear() { b.items = nil }
