package event

import (
	"testing"
	"time"

	"fathom/internal/pkg/registry"
	"fathom/internal/pkg/sequence"
	"fathom/internal/pkg/session"
	"fathom/internal/pkg/transport"
	"fathom/internal/pkg/wire"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeEntity struct {
	id        registry.EntityID
	applied   []byte
	positions [][]byte
}

func (f *fakeEntity) EntityID() registry.EntityID { return f.id }

func (f *fakeEntity) ApplyEvent(kind byte, payload []byte, id sequence.ID) error {
	f.applied = append(f.applied, kind)
	return nil
}

func (f *fakeEntity) ApplyPosition(payload []byte) {
	f.positions = append(f.positions, payload)
}

func mustCreate(t *testing.T, m *Manager, target registry.EntityID, kind byte, payload []byte, now time.Time) *Event {
	t.Helper()
	e, err := m.Create(target, kind, payload, now)
	require.NoError(t, err)
	return e
}

func mustCreateUnique(t *testing.T, m *Manager, target registry.EntityID, kind byte, payload []byte, now time.Time) *Event {
	t.Helper()
	e, err := m.CreateUnique(target, kind, payload, now)
	require.NoError(t, err)
	return e
}

func mustIntent(t *testing.T, o *Outbox, target registry.EntityID, kind byte, payload []byte, now time.Time) *Event {
	t.Helper()
	e, err := o.Create(target, kind, payload, now)
	require.NoError(t, err)
	return e
}

func inRoundRecord(t *testing.T) *session.ClientRecord {
	t.Helper()
	conn, _ := transport.NewPipe()
	rec := session.NewClientRecord(uuid.New(), "player", conn)
	require.True(t, rec.Advance(session.StateLobbySynced))
	require.True(t, rec.Advance(session.StateInRound))
	return rec
}

// roundTrip writes the record's share of the stream and feeds it to recv.
func roundTrip(t *testing.T, m *Manager, rec *session.ClientRecord, recv *Receiver) int {
	t.Helper()
	w := wire.NewWriter(wire.ClassInRoundUpdate)
	m.WriteTo(rec, w, transport.MaxPayload)
	w.WriteEnd()

	r, class := wire.NewReader(w.Bytes())
	require.Equal(t, wire.ClassInRoundUpdate, class)
	applied := 0
	for {
		kind := r.ReadObjectKind()
		require.NoError(t, r.Err())
		switch kind {
		case wire.ObjEnd:
			m.Ack(rec, recv.LastApplied())
			return applied
		case wire.ObjEntityEventsInitial:
			require.NoError(t, recv.ReadInitial(r))
		case wire.ObjEntityEvents:
			n, err := recv.Read(r)
			require.NoError(t, err)
			applied += n
		default:
			t.Fatalf("unexpected object kind %s", kind)
		}
	}
}

func TestStaleAndDuplicateEventsDropped(t *testing.T) {
	reg := registry.New()
	ent := &fakeEntity{id: 7}
	reg.Register(ent)

	recv, err := NewReceiver(reg)
	require.NoError(t, err)
	recv.lastApplied = 40000

	w := wire.NewWriter(wire.ClassInRoundUpdate)
	w.WriteObjectKind(wire.ObjEntityEvents)
	w.WriteByte(3)
	for _, id := range []uint16{40001, 39999, 40001} {
		(&Event{ID: sequence.ID(id), Target: 7, Kind: 1, Payload: []byte{0xaa}}).encode(w)
	}
	w.WriteEnd()

	r, _ := wire.NewReader(w.Bytes())
	require.Equal(t, wire.ObjEntityEvents, r.ReadObjectKind())
	applied, err := recv.Read(r)
	require.NoError(t, err)
	require.Equal(t, 1, applied)
	require.Equal(t, sequence.ID(40001), recv.LastApplied())
	require.Len(t, ent.applied, 1)
}

func TestUnknownEntityConsumedNotFatal(t *testing.T) {
	reg := registry.New()
	known := &fakeEntity{id: 2}
	reg.Register(known)

	recv, err := NewReceiver(reg)
	require.NoError(t, err)

	w := wire.NewWriter(wire.ClassInRoundUpdate)
	w.WriteObjectKind(wire.ObjEntityEvents)
	w.WriteByte(2)
	(&Event{ID: 1, Target: 99, Kind: 5, Payload: []byte("gone entity")}).encode(w)
	(&Event{ID: 2, Target: 2, Kind: 6, Payload: []byte("live entity")}).encode(w)

	r, _ := wire.NewReader(w.Bytes())
	require.Equal(t, wire.ObjEntityEvents, r.ReadObjectKind())
	applied, err := recv.Read(r)
	require.NoError(t, err)
	require.Equal(t, 1, applied)
	// the unknown-entity event still advanced the stream position
	require.Equal(t, sequence.ID(2), recv.LastApplied())
	require.Equal(t, []byte{6}, known.applied)
}

func TestDuplicatePendingChangeNotRequeued(t *testing.T) {
	m := NewManager()
	now := time.Now()

	a := mustCreate(t, m, 3, 1, []byte{1, 2}, now)
	b := mustCreate(t, m, 3, 1, []byte{1, 2}, now)
	require.Same(t, a, b)
	require.Equal(t, 1, m.PendingCount())

	// once sent, the same change becomes a new event again
	rec := inRoundRecord(t)
	w := wire.NewWriter(wire.ClassInRoundUpdate)
	m.WriteTo(rec, w, transport.MaxPayload)
	c := mustCreate(t, m, 3, 1, []byte{1, 2}, now)
	require.NotSame(t, a, c)
	require.Equal(t, 2, m.PendingCount())
}

func TestRetransmitUntilAcked(t *testing.T) {
	reg := registry.New()
	ent := &fakeEntity{id: 4}
	reg.Register(ent)

	m := NewManager()
	rec := inRoundRecord(t)
	recv, err := NewReceiver(reg)
	require.NoError(t, err)

	now := time.Now()
	mustCreate(t, m, 4, 1, nil, now)
	mustCreate(t, m, 4, 2, nil, now)

	require.Equal(t, 2, roundTrip(t, m, rec, recv))
	require.Equal(t, sequence.ID(2), rec.LastRecvEventID)

	// everything acked, the next packet carries no events
	require.Equal(t, 0, roundTrip(t, m, rec, recv))

	// new event, lost packet, then a retransmission that lands
	mustCreate(t, m, 4, 3, nil, now)
	w := wire.NewWriter(wire.ClassInRoundUpdate)
	require.Equal(t, 1, m.WriteTo(rec, w, transport.MaxPayload)) // dropped in flight
	require.Equal(t, 1, roundTrip(t, m, rec, recv))
	require.Equal(t, []byte{1, 2, 3}, ent.applied)
}

func TestEvictionWaitsForAckAndRetention(t *testing.T) {
	m := NewManager()
	rec := inRoundRecord(t)
	now := time.Now()

	mustCreate(t, m, 1, 1, nil, now)
	mustCreate(t, m, 1, 2, nil, now)

	// unacked events survive any amount of time
	m.Update(now.Add(RetentionWindow*10), []*session.ClientRecord{rec})
	require.Equal(t, 2, m.PendingCount())

	w := wire.NewWriter(wire.ClassInRoundUpdate)
	m.WriteTo(rec, w, transport.MaxPayload)
	m.Ack(rec, 2)

	// acked but younger than the retention window
	m.Update(now.Add(time.Second), []*session.ClientRecord{rec})
	require.Equal(t, 2, m.PendingCount())

	// acked and old: evicted, except the newest acked event
	m.Update(now.Add(RetentionWindow+time.Second), []*session.ClientRecord{rec})
	require.Equal(t, 1, m.PendingCount())
}

func TestSlowestClientPinsBuffer(t *testing.T) {
	m := NewManager()
	fast := inRoundRecord(t)
	slow := inRoundRecord(t)
	now := time.Now()

	mustCreate(t, m, 1, 1, nil, now)
	mustCreate(t, m, 1, 2, nil, now)
	for _, rec := range []*session.ClientRecord{fast, slow} {
		w := wire.NewWriter(wire.ClassInRoundUpdate)
		m.WriteTo(rec, w, transport.MaxPayload)
	}
	m.Ack(fast, 2)
	m.Ack(slow, 1)

	m.Update(now.Add(RetentionWindow+time.Second), []*session.ClientRecord{fast, slow})
	require.Equal(t, 2, m.PendingCount(), "event 2 is unacked by the slow client")
}

func TestDesyncReasons(t *testing.T) {
	t.Run("sync timeout", func(t *testing.T) {
		m := NewManager()
		rec := inRoundRecord(t)
		now := time.Now()
		mustCreate(t, m, 1, 1, nil, now)
		w := wire.NewWriter(wire.ClassInRoundUpdate)
		m.WriteTo(rec, w, transport.MaxPayload)

		out := m.Update(now.Add(SyncLagTimeout+time.Second), []*session.ClientRecord{rec})
		require.Len(t, out, 1)
		require.Equal(t, ReasonSyncTimeout, out[0].Reason)
	})

	t.Run("expecting discarded event", func(t *testing.T) {
		m := NewManager()
		fast := inRoundRecord(t)
		stale := inRoundRecord(t)
		now := time.Now()

		mustCreate(t, m, 1, 1, nil, now)
		mustCreate(t, m, 1, 2, nil, now)
		w := wire.NewWriter(wire.ClassInRoundUpdate)
		m.WriteTo(fast, w, transport.MaxPayload)
		m.Ack(fast, 2)

		// with only the fast client live, event 1 ages out
		m.Update(now.Add(RetentionWindow+time.Second), []*session.ClientRecord{fast})
		require.Equal(t, sequence.ID(2), m.oldestRetained())

		// the stale client reappears still expecting event 1
		out := m.Update(now.Add(RetentionWindow+2*time.Second), []*session.ClientRecord{fast, stale})
		require.Len(t, out, 1)
		require.Same(t, stale, out[0].Client)
		require.Equal(t, ReasonExpectingDiscardedEvent, out[0].Reason)
	})

	t.Run("mid-round sync deadline", func(t *testing.T) {
		m := NewManager()
		rec := inRoundRecord(t)
		now := time.Now()
		mustCreateUnique(t, m, 1, 1, nil, now)
		m.InitMidRoundSync(rec, now)

		require.Empty(t, m.Update(now.Add(time.Second), []*session.ClientRecord{rec}))
		out := m.Update(now.Add(MidRoundSyncTimeout+time.Second), []*session.ClientRecord{rec})
		require.Len(t, out, 1)
		require.Equal(t, ReasonMidRoundSyncTimeout, out[0].Reason)
	})
}

func TestMidRoundSyncReplaysUniqueEvents(t *testing.T) {
	reg := registry.New()
	ent := &fakeEntity{id: 9}
	reg.Register(ent)

	m := NewManager()
	now := time.Now()
	mustCreateUnique(t, m, 9, 1, []byte("spawn"), now)
	mustCreate(t, m, 9, 2, []byte("transient"), now)
	mustCreateUnique(t, m, 9, 4, []byte("arm"), now)
	mustCreateUnique(t, m, 9, 1, []byte("respawn"), now) // supersedes the spawn entry
	require.Equal(t, 2, m.UniqueCount())

	rec := inRoundRecord(t)
	recv, err := NewReceiver(reg)
	require.NoError(t, err)
	m.InitMidRoundSync(rec, now)
	require.True(t, rec.NeedsMidRoundSync)
	require.Equal(t, uint16(2), rec.UnreceivedEventCount)
	require.Equal(t, sequence.ID(5), rec.FirstNewEventID)

	applied := roundTrip(t, m, rec, recv)
	require.Equal(t, 2, applied, "both unique events replayed")
	require.False(t, rec.NeedsMidRoundSync)
	require.False(t, recv.Syncing())

	// follow-up packets come from the live stream
	mustCreate(t, m, 9, 3, nil, now)
	roundTrip(t, m, rec, recv)
	require.Equal(t, []byte{4, 1, 3}, ent.applied)
}

func TestWriteToRespectsBudget(t *testing.T) {
	m := NewManager()
	rec := inRoundRecord(t)
	now := time.Now()
	payload := make([]byte, 300)
	for i := 0; i < 10; i++ {
		mustCreate(t, m, registry.EntityID(i+1), 1, payload, now)
	}

	w := wire.NewWriter(wire.ClassInRoundUpdate)
	written := m.WriteTo(rec, w, transport.MaxPayload)
	require.Less(t, written, 10)
	require.Greater(t, written, 0)
	require.LessOrEqual(t, w.Len(), transport.MaxPayload)
	require.Equal(t, sequence.ID(written), rec.LastSentEventID)
}

func TestOutbox(t *testing.T) {
	o := NewOutbox()
	now := time.Now()

	a := mustIntent(t, o, 1, 1, []byte("move"), now)
	b := mustIntent(t, o, 1, 1, []byte("move"), now)
	require.Same(t, a, b)
	mustIntent(t, o, 1, 2, []byte("use"), now)
	require.Equal(t, 2, o.PendingCount())

	w := wire.NewWriter(wire.ClassInRoundUpdate)
	require.Equal(t, 2, o.WriteTo(w, transport.MaxPayload))

	o.Ack(1)
	require.Equal(t, 1, o.PendingCount())
	o.Ack(2)
	require.Equal(t, 0, o.PendingCount())

	// stale ack is a no-op
	mustIntent(t, o, 1, 3, nil, now)
	o.Ack(1)
	require.Equal(t, 1, o.PendingCount())
}

func TestBufferOverflowDropsOldestHalf(t *testing.T) {
	var b Buffer
	for i := 0; i < BufferedClientEventCap+1; i++ {
		b.Push(Event{ID: sequence.ID(i + 1), Kind: 1})
	}
	require.Equal(t, BufferedClientEventCap/2+1, b.Len())

	var first Event
	got := 0
	b.Drain(func(e Event) {
		if got == 0 {
			first = e
		}
		got++
	})
	require.Equal(t, sequence.ID(BufferedClientEventCap/2+1), first.ID)
	require.Equal(t, 0, b.Len())
}

func TestMidRoundSyncAfterStreamWraps(t *testing.T) {
	reg := registry.New()
	ent := &fakeEntity{id: 6}
	reg.Register(ent)

	m := NewManager()
	now := time.Now()
	// a long round pushes the stream ID into the upper half of its range
	for i := 0; i < 40000; i++ {
		m.counter.Next()
	}
	mustCreateUnique(t, m, 6, 1, []byte("spawn"), now)
	mustCreate(t, m, 6, 2, nil, now)

	rec := inRoundRecord(t)
	recv, err := NewReceiver(reg)
	require.NoError(t, err)
	m.InitMidRoundSync(rec, now)

	require.Equal(t, 1, roundTrip(t, m, rec, recv), "unique event replayed")
	require.False(t, rec.NeedsMidRoundSync)

	require.Equal(t, 1, roundTrip(t, m, rec, recv), "live stream resumes past the replay")
	require.Equal(t, sequence.ID(40002), recv.LastApplied())
	require.Equal(t, []byte{1, 2}, ent.applied)
}

func TestOutboxAckAfterStreamWraps(t *testing.T) {
	o := NewOutbox()
	now := time.Now()
	for i := 0; i < 40000; i++ {
		o.counter.Next()
	}
	mustIntent(t, o, 1, 1, []byte("move"), now)

	w := wire.NewWriter(wire.ClassInRoundUpdate)
	require.Equal(t, 1, o.WriteTo(w, transport.MaxPayload))
	o.Ack(40001)
	require.Equal(t, 0, o.PendingCount())
}

func TestOversizedPayloadRejected(t *testing.T) {
	now := time.Now()
	payload := make([]byte, MaxEventPayload+1)

	m := NewManager()
	_, err := m.Create(1, 1, payload, now)
	require.ErrorIs(t, err, ErrPayloadTooLarge)
	_, err = m.CreateUnique(1, 1, payload, now)
	require.ErrorIs(t, err, ErrPayloadTooLarge)
	require.Equal(t, 0, m.PendingCount())

	o := NewOutbox()
	_, err = o.Create(1, 1, payload, now)
	require.ErrorIs(t, err, ErrPayloadTooLarge)
	require.Equal(t, 0, o.PendingCount())
}

func TestDuplicateScanWindowBounded(t *testing.T) {
	m := NewManager()
	now := time.Now()

	first := mustCreate(t, m, 1, 1, []byte{0xaa}, now)
	for i := 0; i < dupScanWindow; i++ {
		mustCreate(t, m, registry.EntityID(i+2), 1, nil, now)
	}

	// the first event fell out of the scan window, so the same change is
	// queued again even though nothing has been sent yet
	again := mustCreate(t, m, 1, 1, []byte{0xaa}, now)
	require.NotSame(t, first, again)
	require.Equal(t, dupScanWindow+2, m.PendingCount())
}

func TestPositionsSkipUnknownEntities(t *testing.T) {
	reg := registry.New()
	ent := &fakeEntity{id: 5}
	reg.Register(ent)

	w := wire.NewWriter(wire.ClassInRoundUpdate)
	n := WritePositions(w, []PositionUpdate{
		{Entity: 5, Payload: []byte{1, 2, 3, 4}},
		{Entity: 42, Payload: []byte{9, 9}},
		{Entity: 5, Payload: []byte{5, 6, 7, 8}},
	}, transport.MaxPayload)
	require.Equal(t, 3, n)

	r, _ := wire.NewReader(w.Bytes())
	require.Equal(t, wire.ObjEntityPositions, r.ReadObjectKind())
	require.NoError(t, ReadPositions(r, reg))
	require.Equal(t, [][]byte{{1, 2, 3, 4}, {5, 6, 7, 8}}, ent.positions)
}
