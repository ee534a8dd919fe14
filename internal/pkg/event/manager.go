package event

import (
	"time"

	"fathom/internal/pkg/registry"
	"fathom/internal/pkg/sequence"
	"fathom/internal/pkg/session"
	"fathom/internal/pkg/wire"

	"github.com/pkg/errors"
)

// Desync flags a recipient the stream can no longer serve incrementally.
// The coordinator is expected to terminate the connection with the reason.
type Desync struct {
	Client *session.ClientRecord
	Reason string
}

// Desync reasons surfaced in the disconnect message.
const (
	ReasonExpectingDiscardedEvent = "expecting an event no longer retained by the server"
	ReasonSyncTimeout             = "fell too far behind the event stream"
	ReasonMidRoundSyncTimeout     = "mid-round sync was not completed in time"
)

// Manager is the server's authoritative event stream: one ID counter shared
// by every entity, a retransmission buffer held until all recipients ack,
// and a parallel list of unique events replayed to mid-round joiners.
type Manager struct {
	counter sequence.Counter

	// pending is ordered by ID. uniqueEvents aliases the subset that a
	// mid-round joiner must replay; it survives eviction from pending.
	pending      []*Event
	uniqueEvents []*Event
}

// NewManager creates an empty Manager. Call Reset between rounds.
func NewManager() *Manager {
	return &Manager{}
}

// Create queues a replicated state change under the next stream ID. A
// recently queued event that nobody has been sent yet and that describes
// the same change is not re-queued. Payloads above MaxEventPayload are
// rejected: they could never be flushed and would stall the stream head.
func (m *Manager) Create(target registry.EntityID, kind byte, payload []byte, now time.Time) (*Event, error) {
	if len(payload) > MaxEventPayload {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "%d of %d bytes", len(payload), MaxEventPayload)
	}
	for i, scanned := len(m.pending)-1, 0; i >= 0 && scanned < dupScanWindow; i, scanned = i-1, scanned+1 {
		e := m.pending[i]
		if e.sent {
			break
		}
		if e.sameChange(target, kind, payload) {
			return e, nil
		}
	}
	e := &Event{
		ID:      m.counter.Next(),
		Target:  target,
		Kind:    kind,
		Payload: payload,
		created: now,
	}
	m.pending = append(m.pending, e)
	return e, nil
}

// CreateUnique queues a state change that mid-round joiners must also
// receive. A previous unique event for the same entity and kind is
// superseded in the replay list; the live stream still carries both.
func (m *Manager) CreateUnique(target registry.EntityID, kind byte, payload []byte, now time.Time) (*Event, error) {
	e, err := m.Create(target, kind, payload, now)
	if err != nil {
		return nil, err
	}
	// drop the superseded entry so the replay list stays in ID order
	for i, u := range m.uniqueEvents {
		if u.Target == target && u.Kind == kind {
			m.uniqueEvents = append(m.uniqueEvents[:i], m.uniqueEvents[i+1:]...)
			break
		}
	}
	m.uniqueEvents = append(m.uniqueEvents, e)
	return e, nil
}

// PendingCount returns the size of the retransmission buffer.
func (m *Manager) PendingCount() int { return len(m.pending) }

// UniqueCount returns the size of the mid-round replay list.
func (m *Manager) UniqueCount() int { return len(m.uniqueEvents) }

// LastID returns the newest issued stream ID.
func (m *Manager) LastID() sequence.ID { return m.counter.Last() }

// InitMidRoundSync marks a client that joined while the round was running.
// It learns how many unique events it must replay and the first ID that is
// new to it; until the replay completes it is excluded from retention
// arithmetic so it cannot stall eviction.
func (m *Manager) InitMidRoundSync(rec *session.ClientRecord, now time.Time) {
	rec.NeedsMidRoundSync = true
	rec.UnreceivedEventCount = uint16(len(m.uniqueEvents))
	rec.FirstNewEventID = m.counter.Last() + 1
	if rec.FirstNewEventID == 0 {
		rec.FirstNewEventID = 1
	}
	rec.MidRoundSyncDeadline = now.Add(MidRoundSyncTimeout)
	rec.LastRecvEventID = 0
	rec.LastSentEventID = 0
	if len(m.uniqueEvents) == 0 {
		rec.NeedsMidRoundSync = false
	}
}

// WriteTo appends this client's share of the event stream to an outgoing
// packet: the mid-round initial object first if one is owed, then as many
// unacked events as fit maxBytes, oldest first. Events are written in ID
// order so the receiver's dedup comparator sees a monotone stream.
func (m *Manager) WriteTo(rec *session.ClientRecord, w *wire.Writer, maxBytes int) int {
	var source []*Event
	if rec.NeedsMidRoundSync {
		w.WriteObjectKind(wire.ObjEntityEventsInitial)
		w.WriteUint16(rec.UnreceivedEventCount)
		w.WriteUint16(uint16(rec.FirstNewEventID))
		source = m.uniqueEvents
	} else {
		source = m.pending
	}

	start := -1
	for i, e := range source {
		if sequence.Advances(e.ID, rec.LastRecvEventID) {
			start = i
			break
		}
	}
	if start < 0 {
		return 0
	}

	w.WriteObjectKind(wire.ObjEntityEvents)
	countAt := w.Len()
	w.WriteByte(0)
	written := 0
	for _, e := range source[start:] {
		if written == maxEventsPerObject || w.Len()+e.encodedSize() > maxBytes {
			break
		}
		e.encode(w)
		e.sent = true
		if sequence.Advances(e.ID, rec.LastSentEventID) {
			rec.LastSentEventID = e.ID
		}
		written++
	}
	w.Bytes()[countAt] = byte(written)
	return written
}

// Ack records the newest event ID the client has applied, echoed in its
// sync headers. Completing the unique-event replay ends mid-round sync.
func (m *Manager) Ack(rec *session.ClientRecord, id sequence.ID) {
	if !sequence.Advances(id, rec.LastRecvEventID) {
		return
	}
	rec.LastRecvEventID = id
	if rec.NeedsMidRoundSync {
		last := m.lastUniqueID()
		if last == 0 || !sequence.MoreRecent(last, id) {
			rec.NeedsMidRoundSync = false
		}
	}
}

func (m *Manager) lastUniqueID() sequence.ID {
	newest := sequence.ID(0)
	for _, e := range m.uniqueEvents {
		if sequence.Advances(e.ID, newest) {
			newest = e.ID
		}
	}
	return newest
}

// Update evicts events acknowledged by every live in-round client once they
// age past the retention window, and reports clients the stream can no
// longer serve. The newest acked event is always kept so the stream head
// stays recoverable.
func (m *Manager) Update(now time.Time, clients []*session.ClientRecord) []Desync {
	var out []Desync

	minAcked := sequence.ID(0)
	haveRecipient := false
	for _, rec := range clients {
		if !rec.InRound() {
			continue
		}
		if rec.NeedsMidRoundSync {
			if now.After(rec.MidRoundSyncDeadline) {
				out = append(out, Desync{Client: rec, Reason: ReasonMidRoundSyncTimeout})
			}
			continue
		}
		if !haveRecipient {
			minAcked = rec.LastRecvEventID
		} else if minAcked != 0 && !sequence.Advances(rec.LastRecvEventID, minAcked) {
			minAcked = rec.LastRecvEventID
		}
		haveRecipient = true

		if oldest := m.oldestUnacked(rec); oldest != nil {
			// the next event the client needs; a client that acked
			// nothing needs the stream's first event
			next := rec.LastRecvEventID + 1
			if next == 0 {
				next = 1
			}
			switch {
			case sequence.MoreRecent(m.oldestRetained(), next):
				out = append(out, Desync{Client: rec, Reason: ReasonExpectingDiscardedEvent})
			case now.Sub(oldest.created) > SyncLagTimeout:
				out = append(out, Desync{Client: rec, Reason: ReasonSyncTimeout})
			}
		}
	}

	if !haveRecipient {
		// no live recipients: everything pending is undeliverable history
		minAcked = m.counter.Last()
	} else if minAcked == 0 {
		// a live recipient has applied nothing yet, nothing is evictable
		return out
	}

	evict := 0
	for _, e := range m.pending {
		if sequence.MoreRecent(e.ID, minAcked) || e.ID == minAcked {
			break
		}
		if now.Sub(e.created) <= RetentionWindow {
			break
		}
		evict++
	}
	if evict > 0 {
		m.pending = m.pending[evict:]
		logger.WithField("evicted", evict).Debug("event buffer trimmed")
	}

	return out
}

func (m *Manager) oldestRetained() sequence.ID {
	if len(m.pending) == 0 {
		return 0
	}
	return m.pending[0].ID
}

func (m *Manager) oldestUnacked(rec *session.ClientRecord) *Event {
	for _, e := range m.pending {
		if sequence.Advances(e.ID, rec.LastRecvEventID) {
			return e
		}
	}
	return nil
}

// Reset clears all buffers and rewinds the stream, used between rounds.
func (m *Manager) Reset() {
	m.counter.Reset()
	m.pending = nil
	m.uniqueEvents = nil
}
