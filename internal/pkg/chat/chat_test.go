package chat

import (
	"fmt"
	"strings"
	"testing"

	"fathom/internal/pkg/sequence"
	"fathom/internal/pkg/wire"

	"github.com/stretchr/testify/require"
)

func packOne(t *testing.T, sender *Channel) *wire.Reader {
	t.Helper()
	w := wire.NewWriter(wire.ClassInRoundUpdate)
	sender.WriteTo(w, 1000)
	w.WriteEnd()
	r, _ := wire.NewReader(w.Bytes())
	return r
}

func TestSendReceiveRoundTrip(t *testing.T) {
	sender := NewChannel(DefaultCatalog())
	receiver := NewChannel(DefaultCatalog())

	sender.Send(Envelope{Type: TypeRadio, SenderName: "amelia", Text: "reactor is stable"})
	r := packOne(t, sender)
	require.Equal(t, wire.ObjChat, r.ReadObjectKind())
	env, applied, err := receiver.Read(r)
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, "reactor is stable", env.Text)
	require.Equal(t, TypeRadio, env.Type)
	require.Equal(t, sequence.ID(1), receiver.LastApplied())
}

func TestDuplicateDropped(t *testing.T) {
	sender := NewChannel(DefaultCatalog())
	receiver := NewChannel(DefaultCatalog())
	sender.Send(Envelope{SenderName: "amelia", Text: "hello"})

	for i := 0; i < 2; i++ {
		r := packOne(t, sender)
		r.ReadObjectKind()
		_, applied, err := receiver.Read(r)
		require.NoError(t, err)
		require.Equal(t, i == 0, applied, "attempt %d", i)
	}
}

func TestAckEvictsQueue(t *testing.T) {
	sender := NewChannel(DefaultCatalog())
	first := sender.Send(Envelope{Text: "one"})
	second := sender.Send(Envelope{Text: "two"})
	require.Equal(t, 2, sender.Pending())

	sender.Ack(first)
	require.Equal(t, 1, sender.Pending())
	sender.Ack(second)
	require.Equal(t, 0, sender.Pending())
}

func TestFlushCapPerPacket(t *testing.T) {
	sender := NewChannel(DefaultCatalog())
	for i := 0; i < MaxPerPacket+5; i++ {
		sender.Send(Envelope{Text: fmt.Sprintf("message %d", i)})
	}
	w := wire.NewWriter(wire.ClassInRoundUpdate)
	written := sender.WriteTo(w, 100000)
	require.Equal(t, MaxPerPacket, written)
	// undelivered messages stay queued for the next packet
	require.Equal(t, MaxPerPacket+5, sender.Pending())
}

func TestOrderMessageRoundTrip(t *testing.T) {
	sender := NewChannel(DefaultCatalog())
	receiver := NewChannel(DefaultCatalog())
	sender.Send(Envelope{
		Type:         TypeOrder,
		SenderName:   "captain",
		OrderIndex:   3, // operate-reactor
		OptionIndex:  1, // shutdown
		TargetEntity: 42,
	})
	r := packOne(t, sender)
	r.ReadObjectKind()
	env, applied, err := receiver.Read(r)
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, uint16(3), env.OrderIndex)
	require.Equal(t, uint16(1), env.OptionIndex)
	require.Empty(t, env.Text)
}

func TestOrderIndexOutOfRangeIsProtocolError(t *testing.T) {
	catalog := DefaultCatalog()
	receiver := NewChannel(catalog)

	w := wire.NewWriter(wire.ClassInRoundUpdate)
	w.WriteObjectKind(wire.ObjChat)
	w.WriteUint16(1)
	w.WriteByte(byte(TypeOrder))
	w.WriteString("captain")
	w.WriteUint16(0)
	w.WriteUint16(uint16(len(catalog))) // out of range
	w.WriteUint16(0)
	w.WriteUint16(0)

	r, _ := wire.NewReader(w.Bytes())
	r.ReadObjectKind()
	_, applied, err := receiver.Read(r)
	require.ErrorIs(t, err, ErrBadOrderIndex)
	require.False(t, applied)
	// a rejected envelope must not advance the applied cursor
	require.Equal(t, sequence.ID(0), receiver.LastApplied())
}

func TestOptionIndexBoundsChecked(t *testing.T) {
	catalog := DefaultCatalog()
	require.NoError(t, catalog.Validate(3, 0))
	require.ErrorIs(t, catalog.Validate(3, 9), ErrBadOrderIndex)
	// orders without options accept any option index of zero
	require.NoError(t, catalog.Validate(0, 0))
}

func TestSendTruncatesOverlongText(t *testing.T) {
	sender := NewChannel(DefaultCatalog())
	receiver := NewChannel(DefaultCatalog())
	sender.Send(Envelope{SenderName: "amelia", Text: strings.Repeat("x", 3000)})

	r := packOne(t, sender)
	r.ReadObjectKind()
	env, applied, err := receiver.Read(r)
	require.NoError(t, err)
	require.True(t, applied)
	require.Len(t, env.Text, MaxTextLength)
}

func TestOverlongIncomingTextIsProtocolError(t *testing.T) {
	receiver := NewChannel(DefaultCatalog())

	w := wire.NewWriter(wire.ClassInRoundUpdate)
	w.WriteObjectKind(wire.ObjChat)
	w.WriteUint16(1)
	w.WriteByte(byte(TypeDefault))
	w.WriteString("amelia")
	w.WriteUint16(0)
	w.WriteString(strings.Repeat("x", MaxTextLength+1))

	r, _ := wire.NewReader(w.Bytes())
	r.ReadObjectKind()
	_, applied, err := receiver.Read(r)
	require.ErrorIs(t, err, ErrTextTooLong)
	require.False(t, applied)
	require.Equal(t, sequence.ID(0), receiver.LastApplied())
}

func TestEnvelopeOverBudgetStaysQueued(t *testing.T) {
	sender := NewChannel(DefaultCatalog())
	sender.Send(Envelope{SenderName: "amelia", Text: "does not fit yet"})

	w := wire.NewWriter(wire.ClassInRoundUpdate)
	require.Equal(t, 0, sender.WriteTo(w, 10))
	require.Equal(t, 1, sender.Pending())

	w = wire.NewWriter(wire.ClassInRoundUpdate)
	require.Equal(t, 1, sender.WriteTo(w, 1000))
}

func TestStreamSurvivesIDWrap(t *testing.T) {
	sender := NewChannel(DefaultCatalog())
	receiver := NewChannel(DefaultCatalog())
	// a long session pushes the chat ID into the upper half of its range
	for i := 0; i < 40000; i++ {
		sender.counter.Next()
	}
	id := sender.Send(Envelope{SenderName: "amelia", Text: "still here"})
	require.Equal(t, sequence.ID(40001), id)

	r := packOne(t, sender)
	r.ReadObjectKind()
	env, applied, err := receiver.Read(r)
	require.NoError(t, err)
	require.True(t, applied, "a fresh peer must apply high stream IDs")
	require.Equal(t, "still here", env.Text)

	sender.Ack(id)
	require.Equal(t, 0, sender.Pending())
}
