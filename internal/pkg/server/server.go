package server

import (
	"time"

	"fathom/internal/pkg/auth"
	"fathom/internal/pkg/chat"
	"fathom/internal/pkg/event"
	"fathom/internal/pkg/filetransfer"
	"fathom/internal/pkg/lobby"
	"fathom/internal/pkg/registry"
	"fathom/internal/pkg/respawn"
	"fathom/internal/pkg/session"
	"fathom/internal/pkg/task"
	"fathom/internal/pkg/transport"
	"fathom/internal/pkg/voting"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// maxProtocolErrors is how many malformed packets one peer may produce
// before the connection is treated as hostile and terminated.
const maxProtocolErrors = 10

// defaultPingInterval spaces the RTT pings embedded in update packets.
const defaultPingInterval = 2 * time.Second

// Acceptor yields newly connected transport links, non-blocking.
type Acceptor interface {
	Accept() (transport.Conn, bool)
}

// peer is the per-connection state, present from accept to teardown. The
// record stays nil until the handshake admits the connection.
type peer struct {
	conn transport.Conn
	rec  *session.ClientRecord

	chat   *chat.Channel
	buffer event.Buffer

	permissionsDirty bool
	protocolErrors   int
	lastPing         time.Time
}

// Server drives every connected client from a single fixed-rate update
// loop.
type Server struct {
	acceptors []Acceptor
	store     session.Store
	auth      *auth.Server
	events    *event.Manager
	votes     *voting.Manager
	lobby     *lobby.Tracker
	respawn   *respawn.Coordinator
	files     *filetransfer.Sender
	reg       *registry.Registry
	catalog   chat.Catalog
	sched     *task.Scheduler

	peers      map[transport.Conn]*peer
	bannedIDs  map[uuid.UUID]struct{}
	banned     map[string]struct{}
	roundGoing bool

	pingInterval time.Duration
	pingCounter  uint32
	lastUpdate   time.Time

	onClientEvent func(*session.ClientRecord, event.Event)
	onChat        func(*session.ClientRecord, chat.Envelope)
	positions     func() []event.PositionUpdate
	consoleExec   func(name string, args []string) (string, error)
}

// Cfg configures a Server.
type Cfg func(*Server) error

// WithAcceptor adds a source of incoming connections. UDP and websocket
// acceptors can serve the same session side by side.
func WithAcceptor(a Acceptor) Cfg {
	return func(s *Server) error {
		s.acceptors = append(s.acceptors, a)
		return nil
	}
}

// WithSessionStore sets the client record store.
func WithSessionStore(store session.Store) Cfg {
	return func(s *Server) error {
		s.store = store
		return nil
	}
}

// WithAuth sets the handshake server.
func WithAuth(a *auth.Server) Cfg {
	return func(s *Server) error {
		s.auth = a
		return nil
	}
}

// WithLobby sets the authoritative lobby tracker.
func WithLobby(t *lobby.Tracker) Cfg {
	return func(s *Server) error {
		s.lobby = t
		return nil
	}
}

// WithVoting sets the vote manager.
func WithVoting(v *voting.Manager) Cfg {
	return func(s *Server) error {
		s.votes = v
		return nil
	}
}

// WithRespawn sets the respawn coordinator.
func WithRespawn(r *respawn.Coordinator) Cfg {
	return func(s *Server) error {
		s.respawn = r
		return nil
	}
}

// WithFileProvider sets the lookup answering file transfer requests.
func WithFileProvider(p filetransfer.Provider) Cfg {
	return func(s *Server) error {
		sender, err := filetransfer.NewSender(filetransfer.WithProvider(p))
		if err != nil {
			return errors.Wrap(err, "new file sender failed")
		}
		s.files = sender
		return nil
	}
}

// WithRegistry sets the entity registry the event stream resolves against.
func WithRegistry(reg *registry.Registry) Cfg {
	return func(s *Server) error {
		s.reg = reg
		return nil
	}
}

// WithCatalog sets the shared order catalog.
func WithCatalog(c chat.Catalog) Cfg {
	return func(s *Server) error {
		s.catalog = c
		return nil
	}
}

// WithOnClientEvent sets the simulation hook applied to each validated
// client intent, on the update tick.
func WithOnClientEvent(fn func(*session.ClientRecord, event.Event)) Cfg {
	return func(s *Server) error {
		s.onClientEvent = fn
		return nil
	}
}

// WithOnChat sets an observer for every chat message the server relays.
func WithOnChat(fn func(*session.ClientRecord, chat.Envelope)) Cfg {
	return func(s *Server) error {
		s.onChat = fn
		return nil
	}
}

// WithPositionSource sets the provider of the per-tick unreliable
// positional updates.
func WithPositionSource(fn func() []event.PositionUpdate) Cfg {
	return func(s *Server) error {
		s.positions = fn
		return nil
	}
}

// WithConsoleExec sets the executor behind run-console-command requests.
func WithConsoleExec(fn func(name string, args []string) (string, error)) Cfg {
	return func(s *Server) error {
		s.consoleExec = fn
		return nil
	}
}

// WithPingInterval overrides the RTT ping spacing.
func WithPingInterval(d time.Duration) Cfg {
	return func(s *Server) error {
		if d <= 0 {
			return errors.Errorf("ping interval %v must be positive", d)
		}
		s.pingInterval = d
		return nil
	}
}

// NewServer creates a Server with the given configuration. Collaborators
// not supplied get working defaults.
func NewServer(cfgs ...Cfg) (*Server, error) {
	s := &Server{
		peers:        make(map[transport.Conn]*peer),
		bannedIDs:    make(map[uuid.UUID]struct{}),
		banned:       make(map[string]struct{}),
		events:       event.NewManager(),
		sched:        task.NewScheduler(),
		pingInterval: defaultPingInterval,
	}
	for _, cfg := range cfgs {
		if err := cfg(s); err != nil {
			return nil, errors.Wrap(err, "apply Server cfg failed")
		}
	}
	if s.store == nil {
		s.store = session.NewMemoryStore()
	}
	if s.auth == nil {
		a, err := auth.NewServer()
		if err != nil {
			return nil, errors.Wrap(err, "new auth server failed")
		}
		s.auth = a
	}
	if s.lobby == nil {
		s.lobby = lobby.NewTracker("", "")
	}
	if s.votes == nil {
		v, err := voting.NewManager()
		if err != nil {
			return nil, errors.Wrap(err, "new vote manager failed")
		}
		s.votes = v
	}
	if s.files == nil {
		sender, err := filetransfer.NewSender()
		if err != nil {
			return nil, errors.Wrap(err, "new file sender failed")
		}
		s.files = sender
	}
	if s.reg == nil {
		s.reg = registry.New()
	}
	if s.catalog == nil {
		s.catalog = chat.DefaultCatalog()
	}
	if s.respawn == nil {
		s.respawn = respawn.New(2*time.Minute, time.Minute)
	}
	return s, nil
}

// Events exposes the event stream so the simulation can create events.
func (s *Server) Events() *event.Manager { return s.events }

// Lobby exposes the authoritative lobby tracker.
func (s *Server) Lobby() *lobby.Tracker { return s.lobby }

// Votes exposes the vote manager.
func (s *Server) Votes() *voting.Manager { return s.votes }

// Respawn exposes the respawn coordinator.
func (s *Server) Respawn() *respawn.Coordinator { return s.respawn }

// Registry exposes the entity registry.
func (s *Server) Registry() *registry.Registry { return s.reg }

// Scheduler exposes the wait primitive for scripted content.
func (s *Server) Scheduler() *task.Scheduler { return s.sched }

// RoundRunning reports whether a round is in progress.
func (s *Server) RoundRunning() bool { return s.roundGoing }

// ClientCount returns the number of admitted, connected clients.
func (s *Server) ClientCount() int {
	n := 0
	for _, p := range s.peers {
		if p.rec != nil {
			n++
		}
	}
	return n
}

func (s *Server) admitted() []*session.ClientRecord {
	out := make([]*session.ClientRecord, 0, len(s.peers))
	for _, p := range s.peers {
		if p.rec != nil {
			out = append(out, p.rec)
		}
	}
	return out
}

func (s *Server) peerFor(rec *session.ClientRecord) *peer {
	for _, p := range s.peers {
		if p.rec == rec {
			return p
		}
	}
	return nil
}

// Shutdown closes every connection with the given reason.
func (s *Server) Shutdown(reason string) {
	for conn, p := range s.peers {
		s.sendDisconnect(conn, reason)
		if err := conn.Close(reason); err != nil {
			logger.WithError(err).Debug("close connection failed")
		}
		s.forgetPeer(p, false)
	}
}
