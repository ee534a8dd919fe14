package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func pollWait(t *testing.T, c Conn, timeout time.Duration) []byte {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if payload, ok := c.Poll(); ok {
			return payload
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no payload before timeout")
	return nil
}

func TestPipeUnreliableDelivery(t *testing.T) {
	a, b := NewPipe()
	require.NoError(t, a.Send([]byte("hello"), false))
	require.Equal(t, []byte("hello"), pollWait(t, b, time.Second))
	_, ok := b.Poll()
	require.False(t, ok)
}

func TestPipeUnreliableLoss(t *testing.T) {
	a, b := NewPipe()
	a.SetFilter(func([]byte) bool { return false })
	require.NoError(t, a.Send([]byte("gone"), false))
	time.Sleep(50 * time.Millisecond)
	_, ok := b.Poll()
	require.False(t, ok)
}

func TestReliableSurvivesLoss(t *testing.T) {
	a, b := NewPipe()
	// drop the first three raw datagrams, then let everything through
	dropped := 0
	a.SetFilter(func(datagram []byte) bool {
		if rawType(datagram[0]) == rawRel && dropped < 3 {
			dropped++
			return false
		}
		return true
	})
	require.NoError(t, a.Send([]byte("must arrive"), true))
	require.Equal(t, []byte("must arrive"), pollWait(t, b, 3*time.Second))
}

func TestReliableDedupsResentDatagrams(t *testing.T) {
	a, b := NewPipe()
	// drop acks so the sender keeps resending the same seqnum
	acksDropped := 0
	b.SetFilter(func(datagram []byte) bool {
		if rawType(datagram[0]) == rawAck && acksDropped < 2 {
			acksDropped++
			return false
		}
		return true
	})
	require.NoError(t, a.Send([]byte("once"), true))
	require.Equal(t, []byte("once"), pollWait(t, b, 3*time.Second))
	// wait out at least two resend intervals and confirm no duplicate
	time.Sleep(3 * resendInterval)
	_, ok := b.Poll()
	require.False(t, ok)
}

func TestCloseCarriesReasonToPeer(t *testing.T) {
	a, b := NewPipe()
	require.NoError(t, a.Close("kicked by vote"))
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && b.Status() != StatusDisconnected {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, StatusDisconnected, b.Status())
	require.Equal(t, "kicked by vote", b.CloseReason())
	require.ErrorIs(t, a.Send([]byte("late"), false), ErrConnClosed)
}

func TestUDPRoundTrip(t *testing.T) {
	l, err := ListenUDP("127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	c, err := DialUDP(l.Addr())
	require.NoError(t, err)
	defer func() { _ = c.Close("test over") }()

	require.NoError(t, c.Send([]byte("ping"), false))

	var server Conn
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sc, ok := l.Accept(); ok {
			server = sc
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NotNil(t, server, "listener never surfaced the peer")

	require.Equal(t, []byte("ping"), pollWait(t, server, 2*time.Second))
	require.NoError(t, server.Send([]byte("pong"), true))
	require.Equal(t, []byte("pong"), pollWait(t, c, 2*time.Second))
}
