package chat

import (
	"fathom/internal/pkg/registry"
	"fathom/internal/pkg/sequence"
	"fathom/internal/pkg/wire"

	"github.com/pkg/errors"
)

// Channel is one direction of the chat stream between two peers: it queues
// outgoing envelopes until acked and deduplicates incoming ones.
type Channel struct {
	catalog Catalog

	counter sequence.Counter
	queue   []Envelope

	lastApplied sequence.ID
}

// NewChannel creates a Channel sharing the given order catalog.
func NewChannel(catalog Catalog) *Channel {
	return &Channel{catalog: catalog}
}

// Send assigns the next stream ID and queues the envelope for delivery.
// The envelope stays queued until the peer's sync header acks it. Text
// above MaxTextLength is truncated so the envelope always fits a packet.
func (c *Channel) Send(env Envelope) sequence.ID {
	if len(env.Text) > MaxTextLength {
		env.Text = env.Text[:MaxTextLength]
	}
	env.ID = c.counter.Next()
	c.queue = append(c.queue, env)
	return env.ID
}

// Ack drops every queued envelope the peer has confirmed applied.
func (c *Channel) Ack(lastReceived sequence.ID) {
	kept := c.queue[:0]
	for _, env := range c.queue {
		if sequence.Advances(env.ID, lastReceived) {
			kept = append(kept, env)
		}
	}
	c.queue = kept
}

// Pending returns the number of queued, unacknowledged envelopes.
func (c *Channel) Pending() int { return len(c.queue) }

// LastApplied returns the newest incoming ID applied, for the sync header.
func (c *Channel) LastApplied() sequence.ID { return c.lastApplied }

// WriteTo appends queued envelopes to the packet, oldest first, stopping at
// MaxPerPacket or before an envelope that would overflow the byte budget.
// Envelopes remain queued for retry until acked.
func (c *Channel) WriteTo(w *wire.Writer, budget int) int {
	written := 0
	for _, env := range c.queue {
		if written >= MaxPerPacket || w.Len()+env.encodedSize() > budget {
			break
		}
		writeEnvelope(w, env)
		written++
	}
	return written
}

// encodedSize is the wire footprint of one envelope including its tag.
func (env Envelope) encodedSize() int {
	size := 1 + 2 + 1 + 2 + len(env.SenderName) + 2
	if env.Type == TypeOrder {
		return size + 6
	}
	return size + 2 + len(env.Text)
}

func writeEnvelope(w *wire.Writer, env Envelope) {
	w.WriteObjectKind(wire.ObjChat)
	w.WriteUint16(uint16(env.ID))
	w.WriteByte(byte(env.Type))
	w.WriteString(env.SenderName)
	w.WriteUint16(uint16(env.SenderEntity))
	if env.Type == TypeOrder {
		w.WriteUint16(env.OrderIndex)
		w.WriteUint16(env.OptionIndex)
		w.WriteUint16(uint16(env.TargetEntity))
	} else {
		w.WriteString(env.Text)
	}
}

// Read decodes one ObjChat object (tag already consumed) and reports
// whether it should be applied. Stale and duplicate envelopes are dropped
// silently; out-of-range order indices are protocol errors.
func (c *Channel) Read(r *wire.Reader) (Envelope, bool, error) {
	var env Envelope
	env.ID = sequence.ID(r.ReadUint16())
	env.Type = MessageType(r.ReadByte())
	env.SenderName = r.ReadString()
	env.SenderEntity = registry.EntityID(r.ReadUint16())
	if env.Type == TypeOrder {
		env.OrderIndex = r.ReadUint16()
		env.OptionIndex = r.ReadUint16()
		env.TargetEntity = registry.EntityID(r.ReadUint16())
	} else {
		env.Text = r.ReadString()
	}
	if r.Err() != nil {
		return Envelope{}, false, errors.Wrap(r.Err(), "read chat envelope failed")
	}
	if env.Type == TypeOrder {
		if err := c.catalog.Validate(env.OrderIndex, env.OptionIndex); err != nil {
			return Envelope{}, false, err
		}
	}
	if len(env.Text) > MaxTextLength {
		return Envelope{}, false, errors.Wrapf(ErrTextTooLong, "%d of %d bytes", len(env.Text), MaxTextLength)
	}
	if !sequence.Advances(env.ID, c.lastApplied) {
		return env, false, nil
	}
	c.lastApplied = env.ID
	return env, true, nil
}

// Clear resets both directions, used when a round ends.
func (c *Channel) Clear() {
	c.counter.Reset()
	c.queue = nil
	c.lastApplied = 0
}
