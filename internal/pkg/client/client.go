package client

import (
	"time"

	"fathom/internal/pkg/auth"
	"fathom/internal/pkg/chat"
	"fathom/internal/pkg/event"
	"fathom/internal/pkg/filetransfer"
	"fathom/internal/pkg/lobby"
	"fathom/internal/pkg/permission"
	"fathom/internal/pkg/registry"
	"fathom/internal/pkg/respawn"
	"fathom/internal/pkg/session"
	"fathom/internal/pkg/task"
	"fathom/internal/pkg/transport"
	"fathom/internal/pkg/voting"
	"fathom/internal/pkg/wire"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// Client drives one session from the joining side. It is ticked by the
// caller's update loop; all state is owned by that loop.
type Client struct {
	conn     transport.Conn
	identity uuid.UUID
	name     string
	version  string
	content  string
	password string

	state session.ConnectionState
	auth  *auth.Client

	chat    *chat.Channel
	lobby   *lobby.Mirror
	recv    *event.Receiver
	outbox  *event.Outbox
	files   *filetransfer.Receiver
	perms   *permission.Set
	reg     *registry.Registry
	catalog chat.Catalog
	sched   *task.Scheduler

	respawnState     respawn.State
	respawnRemaining time.Duration

	voteTallies  map[voting.Topic][]voting.TallyEntry
	voteEligible int

	lobbyResync bool
	pongPending bool
	pongToken   uint32

	disconnectReason string

	onChat         func(chat.Envelope)
	onDisconnect   func(reason string)
	onFileFinished func(*filetransfer.InTransfer)
	onFileFailed   func(*filetransfer.InTransfer)
}

// Cfg configures a Client.
type Cfg func(*Client) error

// WithConn sets the transport link to the server.
func WithConn(conn transport.Conn) Cfg {
	return func(c *Client) error {
		c.conn = conn
		return nil
	}
}

// WithIdentity sets the stable identity used to resume a dropped session.
func WithIdentity(id uuid.UUID) Cfg {
	return func(c *Client) error {
		c.identity = id
		return nil
	}
}

// WithName sets the display name sent during the handshake.
func WithName(name string) Cfg {
	return func(c *Client) error {
		c.name = name
		return nil
	}
}

// WithVersion sets the client version the server checks at admission.
func WithVersion(version string) Cfg {
	return func(c *Client) error {
		c.version = version
		return nil
	}
}

// WithContentHash sets the content package hash checked at admission.
func WithContentHash(hash string) Cfg {
	return func(c *Client) error {
		c.content = hash
		return nil
	}
}

// WithPassword sets the password used if the server demands a proof.
func WithPassword(password string) Cfg {
	return func(c *Client) error {
		c.password = password
		return nil
	}
}

// WithRegistry sets the entity registry incoming events resolve against.
func WithRegistry(reg *registry.Registry) Cfg {
	return func(c *Client) error {
		c.reg = reg
		return nil
	}
}

// WithCatalog sets the shared order catalog.
func WithCatalog(cat chat.Catalog) Cfg {
	return func(c *Client) error {
		c.catalog = cat
		return nil
	}
}

// WithOnChat sets the hook receiving every applied chat envelope.
func WithOnChat(fn func(chat.Envelope)) Cfg {
	return func(c *Client) error {
		c.onChat = fn
		return nil
	}
}

// WithOnDisconnect sets the hook receiving the fatal disconnect reason.
func WithOnDisconnect(fn func(reason string)) Cfg {
	return func(c *Client) error {
		c.onDisconnect = fn
		return nil
	}
}

// WithOnFileFinished sets the completed file transfer hook.
func WithOnFileFinished(fn func(*filetransfer.InTransfer)) Cfg {
	return func(c *Client) error {
		c.onFileFinished = fn
		return nil
	}
}

// WithOnFileFailed sets the failed file transfer hook.
func WithOnFileFailed(fn func(*filetransfer.InTransfer)) Cfg {
	return func(c *Client) error {
		c.onFileFailed = fn
		return nil
	}
}

// NewClient creates a Client with the given configuration.
func NewClient(cfgs ...Cfg) (*Client, error) {
	c := &Client{
		identity: uuid.New(),
		name:     "player",
		state:    session.StateConnecting,
		perms:    permission.NewSet(permission.None),
		lobby:    &lobby.Mirror{},
		outbox:   event.NewOutbox(),
		sched:    task.NewScheduler(),
	}
	for _, cfg := range cfgs {
		if err := cfg(c); err != nil {
			return nil, errors.Wrap(err, "apply Client cfg failed")
		}
	}
	if c.conn == nil {
		return nil, errors.New("client requires a connection")
	}
	if c.reg == nil {
		c.reg = registry.New()
	}
	if c.catalog == nil {
		c.catalog = chat.DefaultCatalog()
	}
	c.chat = chat.NewChannel(c.catalog)
	recv, err := event.NewReceiver(c.reg)
	if err != nil {
		return nil, errors.Wrap(err, "new event receiver failed")
	}
	c.recv = recv
	files, err := filetransfer.NewReceiver(c.conn,
		filetransfer.WithOnFinished(func(t *filetransfer.InTransfer) {
			if c.onFileFinished != nil {
				c.onFileFinished(t)
			}
		}),
		filetransfer.WithOnFailed(func(t *filetransfer.InTransfer) {
			if c.onFileFailed != nil {
				c.onFileFailed(t)
			}
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "new file receiver failed")
	}
	c.files = files
	c.auth = auth.NewClient(c.conn, c.identity, c.name, c.version, c.content, c.password)
	return c, nil
}

// State returns the connection lifecycle stage.
func (c *Client) State() session.ConnectionState { return c.state }

// Identity returns the stable identity, reusable across redials.
func (c *Client) Identity() uuid.UUID { return c.identity }

// DisconnectReason returns the user-facing reason once the session died.
func (c *Client) DisconnectReason() string { return c.disconnectReason }

// Lobby returns the mirrored lobby state.
func (c *Client) Lobby() lobby.State { return c.lobby.State() }

// Permissions returns the capability set the server last pushed.
func (c *Client) Permissions() *permission.Set { return c.perms }

// Registry returns the entity registry.
func (c *Client) Registry() *registry.Registry { return c.reg }

// Scheduler returns the wait primitive for scripted content.
func (c *Client) Scheduler() *task.Scheduler { return c.sched }

// RespawnStatus returns the last broadcast respawn stage and countdown.
func (c *Client) RespawnStatus() (respawn.State, time.Duration) {
	return c.respawnState, c.respawnRemaining
}

// VoteTally returns the last broadcast tally for a topic, count-descending.
func (c *Client) VoteTally(topic voting.Topic) []voting.TallyEntry {
	return c.voteTallies[topic]
}

// EligibleVoters returns the voter count the last tally broadcast carried.
func (c *Client) EligibleVoters() int { return c.voteEligible }

// Update advances the client by one tick. Returns ErrDisconnected once the
// session has died; DisconnectReason carries the explanation.
func (c *Client) Update(now time.Time) error {
	if c.state == session.StateDisconnected {
		return ErrDisconnected
	}
	if c.conn.Status() == transport.StatusDisconnected {
		reason := c.conn.CloseReason()
		if reason == "" {
			reason = "connection lost"
		}
		c.fatal(reason)
		return ErrDisconnected
	}

	if !c.auth.Done() {
		if c.state == session.StateConnecting {
			c.state = session.StateAwaitingAuth
		}
		if err := c.auth.Update(now); err != nil {
			if reason, failed := c.auth.Failure(); failed {
				c.fatal(reason)
				return ErrDisconnected
			}
			c.fatal(err.Error())
			return ErrDisconnected
		}
	}

	for {
		payload, ok := c.conn.Poll()
		if !ok {
			break
		}
		if err := c.handlePacket(payload, now); err != nil {
			logger.WithError(err).Warn("bad packet from server")
		}
		if c.state == session.StateDisconnected {
			return ErrDisconnected
		}
	}

	if reason, failed := c.auth.Failure(); failed {
		c.fatal(reason)
		return ErrDisconnected
	}
	if c.auth.Done() && c.state == session.StateAwaitingAuth {
		c.state = session.StateAuthenticated
	}
	// the auth OK and the first lobby snapshot can land in the same tick,
	// in which case the snapshot was applied while still awaiting auth
	if c.state == session.StateAuthenticated && c.lobby.Version() != 0 && !c.lobbyResync {
		c.state = session.StateLobbySynced
		logger.Info("lobby synced")
	}

	c.files.Update(now)
	c.sched.Update(now)
	if c.state >= session.StateAuthenticated {
		c.flush()
	}
	return nil
}

// Close leaves the server gracefully.
func (c *Client) Close() {
	if c.state == session.StateDisconnected {
		return
	}
	w := wire.NewWriter(wire.ClassDisconnect)
	w.WriteString("left the server")
	w.WriteEnd()
	if err := c.conn.Send(w.Bytes(), true); err != nil {
		logger.WithError(err).Debug("send goodbye failed")
	}
	c.fatal("left the server")
}

func (c *Client) fatal(reason string) {
	if c.state == session.StateDisconnected {
		return
	}
	logger.WithField("reason", reason).Info("session ended")
	c.state = session.StateDisconnected
	c.disconnectReason = reason
	c.files.DropAll()
	if err := c.conn.Close(reason); err != nil {
		logger.WithError(err).Debug("close connection failed")
	}
	if c.onDisconnect != nil {
		c.onDisconnect(reason)
	}
}
