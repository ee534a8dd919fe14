package client

import (
	"time"

	"fathom/internal/pkg/chat"
	"fathom/internal/pkg/filetransfer"
	"fathom/internal/pkg/registry"
	"fathom/internal/pkg/sequence"
	"fathom/internal/pkg/session"
	"fathom/internal/pkg/voting"
	"fathom/internal/pkg/wire"

	"github.com/pkg/errors"
)

// SendChat queues a text message; it is retransmitted until the server
// acks it.
func (c *Client) SendChat(text string) error {
	if c.state < session.StateAuthenticated || c.state == session.StateDisconnected {
		return ErrNotConnected
	}
	if len(text) > chat.MaxTextLength {
		return errors.Wrapf(chat.ErrTextTooLong, "%d of %d bytes", len(text), chat.MaxTextLength)
	}
	c.chat.Send(chat.Envelope{Type: chat.TypeDefault, SenderName: c.name, Text: text})
	return nil
}

// SendOrder queues an order message resolved through the shared catalog.
func (c *Client) SendOrder(orderIndex, optionIndex uint16, target registry.EntityID) error {
	if c.state < session.StateAuthenticated || c.state == session.StateDisconnected {
		return ErrNotConnected
	}
	if err := c.catalog.Validate(orderIndex, optionIndex); err != nil {
		return errors.Wrap(err, "validate order failed")
	}
	c.chat.Send(chat.Envelope{
		Type:         chat.TypeOrder,
		SenderName:   c.name,
		OrderIndex:   orderIndex,
		OptionIndex:  optionIndex,
		TargetEntity: target,
	})
	return nil
}

// CreateEvent queues an entity event intent; it is retransmitted until the
// server's sync header acks it.
func (c *Client) CreateEvent(target registry.EntityID, kind byte, payload []byte, now time.Time) error {
	if c.state != session.StateInRound {
		return ErrNotConnected
	}
	if _, err := c.outbox.Create(target, kind, payload, now); err != nil {
		return errors.Wrap(err, "queue event intent failed")
	}
	return nil
}

// CastVote replaces this client's choice on a topic.
func (c *Client) CastVote(topic voting.Topic, choice string) error {
	return c.sendVote(wire.VoteCast, topic, choice)
}

// RetractVote withdraws this client's choice on a topic.
func (c *Client) RetractVote(topic voting.Topic) error {
	return c.sendVote(wire.VoteRetract, topic, "")
}

func (c *Client) sendVote(sub byte, topic voting.Topic, choice string) error {
	if c.state < session.StateAuthenticated || c.state == session.StateDisconnected {
		return ErrNotConnected
	}
	class := wire.ClassLobbyUpdate
	if c.state == session.StateInRound {
		class = wire.ClassInRoundUpdate
	}
	w := wire.NewWriter(class)
	wire.SyncHeader{
		ChatAck:  c.chat.LastApplied(),
		EventAck: c.recv.LastApplied(),
		LobbyAck: c.lobby.Version(),
	}.Write(w)
	w.WriteObjectKind(wire.ObjVote)
	w.WriteByte(sub)
	w.WriteByte(byte(topic))
	if sub == wire.VoteCast {
		w.WriteString(choice)
	}
	w.WriteEnd()
	return errors.Wrap(c.conn.Send(w.Bytes(), true), "send vote failed")
}

// RequestFile asks the server for a file; the expected hash comes from the
// announced file list.
func (c *Client) RequestFile(fileType filetransfer.FileType, name, hash string) error {
	if c.state < session.StateAuthenticated || c.state == session.StateDisconnected {
		return ErrNotConnected
	}
	return c.files.Request(fileType, name, hash)
}

// Files exposes the transfer receiver for progress inspection.
func (c *Client) Files() *filetransfer.Receiver { return c.files }

// KickPlayer requests a kick; the server enforces the capability.
func (c *Client) KickPlayer(name, reason string) error {
	return c.sendCommand(func(w *wire.Writer) {
		w.WriteByte(wire.CmdKick)
		w.WriteString(name)
		w.WriteString(reason)
	})
}

// BanPlayer requests a ban.
func (c *Client) BanPlayer(name, reason string) error {
	return c.sendCommand(func(w *wire.Writer) {
		w.WriteByte(wire.CmdBan)
		w.WriteString(name)
		w.WriteString(reason)
	})
}

// UnbanPlayer requests an unban.
func (c *Client) UnbanPlayer(name string) error {
	return c.sendCommand(func(w *wire.Writer) {
		w.WriteByte(wire.CmdUnban)
		w.WriteString(name)
	})
}

// SelectSubmarine requests a submarine change.
func (c *Client) SelectSubmarine(name string) error {
	return c.sendCommand(func(w *wire.Writer) {
		w.WriteByte(wire.CmdSelectSubmarine)
		w.WriteString(name)
	})
}

// SelectMode requests a game mode change.
func (c *Client) SelectMode(name string) error {
	return c.sendCommand(func(w *wire.Writer) {
		w.WriteByte(wire.CmdSelectMode)
		w.WriteString(name)
	})
}

// EndRound requests the round be ended.
func (c *Client) EndRound() error {
	return c.sendCommand(func(w *wire.Writer) {
		w.WriteByte(wire.CmdEndRound)
	})
}

// SetServerMessage requests a server message change.
func (c *Client) SetServerMessage(text string) error {
	return c.sendCommand(func(w *wire.Writer) {
		w.WriteByte(wire.CmdSetServerMessage)
		w.WriteString(text)
	})
}

// RunConsoleCommand requests execution of a named console command.
func (c *Client) RunConsoleCommand(name string, args ...string) error {
	return c.sendCommand(func(w *wire.Writer) {
		w.WriteByte(wire.CmdConsole)
		w.WriteString(name)
		w.WriteByte(byte(len(args)))
		for _, arg := range args {
			w.WriteString(arg)
		}
	})
}

func (c *Client) sendCommand(write func(*wire.Writer)) error {
	if c.state < session.StateAuthenticated || c.state == session.StateDisconnected {
		return ErrNotConnected
	}
	w := wire.NewWriter(wire.ClassServerCommand)
	write(w)
	w.WriteEnd()
	return errors.Wrap(c.conn.Send(w.Bytes(), true), "send command failed")
}

// LastAppliedEvent returns the newest applied server event ID.
func (c *Client) LastAppliedEvent() sequence.ID { return c.recv.LastApplied() }

// PendingEvents returns how many intents await the server's ack.
func (c *Client) PendingEvents() int { return c.outbox.PendingCount() }
