package client

import (
	"time"

	"fathom/internal/pkg/event"
	"fathom/internal/pkg/log"
	"fathom/internal/pkg/permission"
	"fathom/internal/pkg/respawn"
	"fathom/internal/pkg/session"
	"fathom/internal/pkg/transport"
	"fathom/internal/pkg/voting"
	"fathom/internal/pkg/wire"

	"github.com/pkg/errors"
)

const packetBudget = transport.MaxPayload - 1

func (c *Client) handlePacket(payload []byte, now time.Time) error {
	r, class := wire.NewReader(payload)
	if r.Err() != nil {
		return errors.Wrap(r.Err(), "read packet class failed")
	}
	logger.WithFields(log.PacketFields(class, len(payload))).Trace("packet received")
	switch class {
	case wire.ClassAuth:
		return c.auth.HandlePacket(r)

	case wire.ClassLobbyUpdate:
		c.roundEnded()
		return c.handleUpdate(r)

	case wire.ClassInRoundUpdate:
		c.roundStarted()
		return c.handleUpdate(r)

	case wire.ClassFileTransfer:
		return c.files.HandlePacket(r, now)

	case wire.ClassDisconnect:
		reason := r.ReadString()
		if reason == "" {
			reason = "disconnected by server"
		}
		c.fatal(reason)
		return nil

	default:
		return errors.Errorf("unknown packet class %d", class)
	}
}

// roundStarted reacts to the server's packets switching to the in-round
// class: fresh event streams, then into the round.
func (c *Client) roundStarted() {
	if c.state != session.StateLobbySynced {
		return
	}
	c.recv.Reset()
	c.outbox.Reset()
	c.state = session.StateInRound
	logger.Info("round started")
}

// roundEnded reacts to the packets switching back to the lobby class.
func (c *Client) roundEnded() {
	if c.state != session.StateInRound {
		return
	}
	c.recv.Reset()
	c.outbox.Reset()
	c.respawnState = respawn.StateIdle
	c.respawnRemaining = 0
	c.state = session.StateLobbySynced
	logger.Info("round ended")
}

func (c *Client) handleUpdate(r *wire.Reader) error {
	for {
		kind := r.ReadObjectKind()
		if r.Err() != nil {
			return errors.Wrap(r.Err(), "packet missing end tag")
		}
		switch kind {
		case wire.ObjEnd:
			return nil

		case wire.ObjSyncHeader:
			h, err := wire.ReadSyncHeader(r)
			if err != nil {
				return errors.Wrap(err, "read sync header failed")
			}
			c.chat.Ack(h.ChatAck)
			c.outbox.Ack(h.EventAck)

		case wire.ObjChat:
			env, apply, err := c.chat.Read(r)
			if err != nil {
				return errors.Wrap(err, "read chat failed")
			}
			if apply && c.onChat != nil {
				c.onChat(env)
			}

		case wire.ObjLobbyState:
			applied, needResync, err := c.lobby.Apply(r)
			if err != nil {
				return errors.Wrap(err, "apply lobby state failed")
			}
			if needResync {
				c.lobbyResync = true
			}
			if applied {
				c.lobbyResync = false
				if c.state == session.StateAuthenticated {
					c.state = session.StateLobbySynced
					logger.Info("lobby synced")
				}
			}

		case wire.ObjPermissions:
			caps := permission.Capability(r.ReadUint32())
			n := int(r.ReadUint16())
			commands := make([]string, 0, n)
			for i := 0; i < n; i++ {
				commands = append(commands, r.ReadString())
			}
			if r.Err() != nil {
				return errors.Wrap(r.Err(), "read permissions failed")
			}
			// always a full replace, never a delta
			c.perms.Replace(caps, commands)

		case wire.ObjEntityEventsInitial:
			if err := c.recv.ReadInitial(r); err != nil {
				return err
			}

		case wire.ObjEntityEvents:
			if _, err := c.recv.Read(r); err != nil {
				return err
			}

		case wire.ObjEntityPositions:
			if err := event.ReadPositions(r, c.reg); err != nil {
				return errors.Wrap(err, "read positions failed")
			}

		case wire.ObjVote:
			if err := c.readVoteTallies(r); err != nil {
				return err
			}

		case wire.ObjRespawn:
			state := respawn.State(r.ReadByte())
			remaining := r.ReadFloat32()
			if r.Err() != nil {
				return errors.Wrap(r.Err(), "read respawn status failed")
			}
			c.respawnState = state
			c.respawnRemaining = time.Duration(float64(remaining) * float64(time.Second))

		case wire.ObjPing:
			token := r.ReadUint32()
			if r.Err() != nil {
				return errors.Wrap(r.Err(), "read ping failed")
			}
			c.pongPending = true
			c.pongToken = token

		default:
			return errors.Errorf("unknown object kind %d", kind)
		}
	}
}

// readVoteTallies applies a tally broadcast as a full replace of the local
// tally mirror, the same discipline as permissions.
func (c *Client) readVoteTallies(r *wire.Reader) error {
	if sub := r.ReadByte(); sub != wire.VoteTally {
		return errors.Errorf("unexpected vote sub-kind %d", sub)
	}
	eligible := int(r.ReadByte())
	topics := int(r.ReadByte())
	tallies := make(map[voting.Topic][]voting.TallyEntry, topics)
	for i := 0; i < topics; i++ {
		topic := voting.Topic(r.ReadByte())
		n := int(r.ReadByte())
		entries := make([]voting.TallyEntry, 0, n)
		for j := 0; j < n; j++ {
			choice := r.ReadString()
			count := int(r.ReadByte())
			entries = append(entries, voting.TallyEntry{Choice: choice, Count: count})
		}
		tallies[topic] = entries
	}
	if r.Err() != nil {
		return errors.Wrap(r.Err(), "read vote tallies failed")
	}
	c.voteEligible = eligible
	c.voteTallies = tallies
	return nil
}

// flush sends this tick's packet: sync header, queued chat, queued entity
// event intents and a pong if one is owed.
func (c *Client) flush() {
	class := wire.ClassLobbyUpdate
	if c.state == session.StateInRound {
		class = wire.ClassInRoundUpdate
	}
	w := wire.NewWriter(class)
	lobbyAck := c.lobby.Version()
	if c.lobbyResync {
		// acking version zero makes the server send the full snapshot
		lobbyAck = 0
	}
	wire.SyncHeader{
		ChatAck:  c.chat.LastApplied(),
		EventAck: c.recv.LastApplied(),
		LobbyAck: lobbyAck,
	}.Write(w)
	c.chat.WriteTo(w, packetBudget/2)
	if c.state == session.StateInRound {
		c.outbox.WriteTo(w, packetBudget-8)
	}
	if c.pongPending {
		c.pongPending = false
		w.WriteObjectKind(wire.ObjPong)
		w.WriteUint32(c.pongToken)
	}
	w.WriteEnd()
	if err := c.conn.Send(w.Bytes(), false); err != nil {
		logger.WithError(err).Debug("flush failed")
	}
}
