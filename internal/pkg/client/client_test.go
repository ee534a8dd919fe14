package client

import (
	"testing"
	"time"

	"fathom/internal/pkg/chat"
	"fathom/internal/pkg/filetransfer"
	"fathom/internal/pkg/respawn"
	"fathom/internal/pkg/server"
	"fathom/internal/pkg/session"
	"fathom/internal/pkg/transport"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type queueAcceptor struct {
	conns []transport.Conn
}

func (a *queueAcceptor) add(conn transport.Conn) {
	a.conns = append(a.conns, conn)
}

func (a *queueAcceptor) Accept() (transport.Conn, bool) {
	if len(a.conns) == 0 {
		return nil, false
	}
	conn := a.conns[0]
	a.conns = a.conns[1:]
	return conn, true
}

// rig runs one server and one client over an in-memory pipe. The client's
// pipe end stays accessible so tests can inject loss.
type rig struct {
	t   *testing.T
	srv *server.Server
	c   *Client
	end *transport.Pipe
	now time.Time
}

func newRig(t *testing.T, srvCfgs []server.Cfg, clientCfgs ...Cfg) *rig {
	t.Helper()
	acc := &queueAcceptor{}
	srv, err := server.NewServer(append([]server.Cfg{server.WithAcceptor(acc)}, srvCfgs...)...)
	require.NoError(t, err)

	serverEnd, clientEnd := transport.NewPipe()
	acc.add(serverEnd)
	c, err := NewClient(append([]Cfg{WithConn(clientEnd), WithName("alice")}, clientCfgs...)...)
	require.NoError(t, err)

	return &rig{t: t, srv: srv, c: c, end: clientEnd, now: time.Unix(1000, 0)}
}

func (r *rig) run(ticks int) {
	for i := 0; i < ticks; i++ {
		r.now = r.now.Add(50 * time.Millisecond)
		r.srv.Update(r.now)
		_ = r.c.Update(r.now)
	}
}

func (r *rig) connect() {
	r.t.Helper()
	r.run(20)
	require.Equal(r.t, session.StateLobbySynced, r.c.State())
}

func TestSendBeforeConnectedRejected(t *testing.T) {
	r := newRig(t, nil)
	require.ErrorIs(t, r.c.SendChat("too early"), ErrNotConnected)
	require.ErrorIs(t, r.c.CastVote(1, "yes"), ErrNotConnected)
}

func TestGracefulCloseLeavesServer(t *testing.T) {
	r := newRig(t, nil)
	r.connect()
	require.Equal(t, 1, r.srv.ClientCount())

	r.c.Close()
	require.Equal(t, session.StateDisconnected, r.c.State())
	r.run(5)
	require.Equal(t, 0, r.srv.ClientCount())
}

func TestServerShutdownReportsReason(t *testing.T) {
	var gotReason string
	r := newRig(t, nil, WithOnDisconnect(func(reason string) { gotReason = reason }))
	r.connect()

	r.srv.Shutdown("server going down for maintenance")
	r.run(5)

	require.Equal(t, session.StateDisconnected, r.c.State())
	require.Equal(t, "server going down for maintenance", r.c.DisconnectReason())
	require.Equal(t, "server going down for maintenance", gotReason)
}

func TestChatSurvivesDatagramLoss(t *testing.T) {
	var relayed []chat.Envelope
	r := newRig(t, []server.Cfg{
		server.WithOnChat(func(_ *session.ClientRecord, env chat.Envelope) {
			relayed = append(relayed, env)
		}),
	})
	r.connect()

	// drop every second outgoing raw datagram from here on
	n := 0
	drop := func([]byte) bool {
		n++
		return n%2 == 0
	}
	r.end.SetFilter(drop)

	require.NoError(t, r.c.SendChat("can you hear me"))
	r.run(40)

	require.Len(t, relayed, 1, "lossy link must not drop or duplicate chat")
	require.Equal(t, "can you hear me", relayed[0].Text)
}

func TestOrderIndexValidatedLocally(t *testing.T) {
	r := newRig(t, nil)
	r.connect()

	err := r.c.SendOrder(9999, 0, 0)
	require.Error(t, err)
	require.ErrorIs(t, errors.Cause(err), chat.ErrBadOrderIndex)

	require.NoError(t, r.c.SendOrder(3, 1, 0))
}

func TestOrderReachesServerResolved(t *testing.T) {
	var relayed []chat.Envelope
	r := newRig(t, []server.Cfg{
		server.WithOnChat(func(_ *session.ClientRecord, env chat.Envelope) {
			relayed = append(relayed, env)
		}),
	})
	r.connect()

	require.NoError(t, r.c.SendOrder(3, 1, 0))
	r.run(10)

	require.Len(t, relayed, 1)
	require.Equal(t, chat.TypeOrder, relayed[0].Type)
	require.Equal(t, uint16(3), relayed[0].OrderIndex)
	require.Equal(t, uint16(1), relayed[0].OptionIndex)
	require.Equal(t, "alice", relayed[0].SenderName)
}

func TestFileDownload(t *testing.T) {
	content := make([]byte, 5*filetransfer.ChunkSize+77)
	for i := range content {
		content[i] = byte(i * 31)
	}
	provider := func(fileType filetransfer.FileType, name string) ([]byte, error) {
		if fileType != filetransfer.TypeSubmarine || name != "azimuth" {
			return nil, errors.New("no such file")
		}
		return content, nil
	}

	var finished *filetransfer.InTransfer
	r := newRig(t,
		[]server.Cfg{server.WithFileProvider(provider)},
		WithOnFileFinished(func(tr *filetransfer.InTransfer) { finished = tr }),
	)
	r.connect()

	hash := filetransfer.ContentHash(content)
	require.NoError(t, r.c.RequestFile(filetransfer.TypeSubmarine, "azimuth", hash))
	r.run(30)

	require.NotNil(t, finished, "download never completed")
	require.Equal(t, filetransfer.StatusCompleted, finished.Status)
	require.Equal(t, content, finished.Bytes())
}

func TestRespawnStatusPropagates(t *testing.T) {
	r := newRig(t, nil)
	r.connect()

	r.srv.StartRound()
	r.run(5)
	require.Equal(t, session.StateInRound, r.c.State())

	state, _ := r.c.RespawnStatus()
	require.Equal(t, respawn.StateWaiting, state)

	r.srv.Respawn().SetCountdownStarted(true)
	r.run(5)
	_, remaining := r.c.RespawnStatus()
	require.Greater(t, remaining, time.Duration(0))
}

func TestEventIntentRetransmittedUntilAcked(t *testing.T) {
	r := newRig(t, nil)
	r.connect()
	r.srv.StartRound()
	r.run(5)

	// sever the client's outgoing direction entirely
	r.end.SetFilter(func([]byte) bool { return false })
	require.NoError(t, r.c.CreateEvent(5, 2, []byte{0x01}, r.now))
	r.run(5)
	require.Equal(t, 1, r.c.PendingEvents(), "intent must stay queued while unacked")

	r.end.SetFilter(nil)
	r.run(10)
	require.Equal(t, 0, r.c.PendingEvents(), "server ack must clear the outbox")
}
