package server

import (
	"time"

	"fathom/internal/pkg/auth"
	"fathom/internal/pkg/chat"
	"fathom/internal/pkg/event"
	"fathom/internal/pkg/log"
	"fathom/internal/pkg/sequence"
	"fathom/internal/pkg/session"
	"fathom/internal/pkg/voting"
	"fathom/internal/pkg/wire"

	"github.com/pkg/errors"
)

func (s *Server) handlePacket(p *peer, payload []byte, now time.Time) error {
	r, class := wire.NewReader(payload)
	if r.Err() != nil {
		return errors.Wrap(r.Err(), "read packet class failed")
	}
	logger.WithFields(log.PacketFields(class, len(payload))).Trace("packet received")
	switch class {
	case wire.ClassAuth:
		return s.handleAuth(p, r)
	case wire.ClassLobbyUpdate, wire.ClassInRoundUpdate:
		if p.rec == nil {
			return errors.New("update packet before admission")
		}
		return s.handleUpdate(p, r, now)
	case wire.ClassServerCommand:
		if p.rec == nil {
			return errors.New("command packet before admission")
		}
		return s.handleCommand(p, r)
	case wire.ClassFileTransfer:
		if p.rec == nil {
			return errors.New("file transfer packet before admission")
		}
		return s.files.HandlePacket(p.conn, r)
	case wire.ClassDisconnect:
		reason := r.ReadString()
		if reason == "" {
			reason = "left the server"
		}
		s.disconnect(p, reason, false)
		return nil
	default:
		return errors.Errorf("unknown packet class %d", class)
	}
}

func (s *Server) handleAuth(p *peer, r *wire.Reader) error {
	admission, err := s.auth.HandlePacket(p.conn, r)
	if err != nil {
		var rejection *auth.Rejection
		if errors.As(err, &rejection) {
			// the failure message is already on the wire
			s.disconnect(p, rejection.Reason, false)
			return nil
		}
		return errors.Wrap(err, "handle auth packet failed")
	}
	if admission == nil {
		return nil
	}
	if s.isBanned(admission) {
		s.disconnect(p, "you are banned from this server", false)
		return nil
	}
	s.admit(p, admission)
	return nil
}

func (s *Server) isBanned(a *auth.Admission) bool {
	if _, ok := s.bannedIDs[a.Identity]; ok {
		return true
	}
	_, ok := s.banned[lower(a.Name)]
	return ok
}

func (s *Server) admit(p *peer, a *auth.Admission) {
	rec, err := s.store.Get(a.Identity)
	switch {
	case err == nil:
		// same identity as a dropped client: resume the record so the
		// event and chat stream positions survive the reconnect
		if old := s.peerFor(rec); old != nil && old != p {
			s.disconnect(old, "logged in from another connection", true)
		}
		logger.WithField("client", a.Name).Info("client resumed")
		rec.Conn = p.conn
		rec.Name = a.Name
		rec.State = session.StateAuthenticated
	case errors.Is(err, session.ErrSessionNotFound):
		rec = session.NewClientRecord(a.Identity, a.Name, p.conn)
		if err := s.store.New(rec); err != nil {
			logger.WithError(err).Error("store record failed")
			s.disconnect(p, "internal server error", false)
			return
		}
		logger.WithField("client", a.Name).Info("client admitted")
	default:
		logger.WithError(err).Error("get record failed")
		s.disconnect(p, "internal server error", false)
		return
	}
	if rec == nil {
		s.disconnect(p, "internal server error", false)
		return
	}
	p.rec = rec
	p.permissionsDirty = true
	s.broadcastServerChat(rec.Name + " has joined the server")
	s.refreshRoster()
}

func (s *Server) handleUpdate(p *peer, r *wire.Reader, now time.Time) error {
	rec := p.rec
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
			p.chat.Ack(h.ChatAck)
			s.events.Ack(rec, h.EventAck)
			if sequence.Advances(h.LobbyAck, rec.LastLobbyVersion) {
				rec.LastLobbyVersion = h.LobbyAck
			} else if h.LobbyAck == 0 {
				// explicit resync request: next flush sends the snapshot
				rec.LastLobbyVersion = 0
			}
			s.maybeAdvance(p, now)

		case wire.ObjChat:
			env, apply, err := p.chat.Read(r)
			if err != nil {
				return errors.Wrap(err, "read chat failed")
			}
			if apply {
				s.relayChat(rec, env)
			}

		case wire.ObjEntityEvents:
			batch, err := event.ReadBatch(r)
			if err != nil {
				return errors.Wrap(err, "read client events failed")
			}
			for _, e := range batch {
				if !sequence.Advances(e.ID, rec.LastClientEventID) {
					continue
				}
				rec.LastClientEventID = e.ID
				p.buffer.Push(e)
			}

		case wire.ObjVote:
			if err := s.handleVote(p, r); err != nil {
				return err
			}

		case wire.ObjPong:
			token := r.ReadUint32()
			if r.Err() != nil {
				return errors.Wrap(r.Err(), "read pong failed")
			}
			rec.ObservePong(token, now)

		default:
			return errors.Errorf("unknown object kind %d", kind)
		}
	}
}

// maybeAdvance moves a freshly admitted client forward once it holds the
// current lobby version: to lobby-synced, and straight into the round with
// a mid-round event sync if one is running.
func (s *Server) maybeAdvance(p *peer, now time.Time) {
	rec := p.rec
	if rec.State != session.StateAuthenticated || rec.LastLobbyVersion != s.lobby.Version() {
		return
	}
	rec.Advance(session.StateLobbySynced)
	logger.WithField("client", rec.Name).Info("client lobby-synced")
	if s.roundGoing && rec.Advance(session.StateInRound) {
		s.events.InitMidRoundSync(rec, now)
		logger.WithField("client", rec.Name).Info("client joined mid-round")
	}
}

// relayChat stamps the envelope with the server-side sender identity and
// queues it for every admitted client. The applied result is what gets
// broadcast, never the client's own view of it.
func (s *Server) relayChat(from *session.ClientRecord, env chat.Envelope) {
	env.SenderName = from.Name
	env.SenderEntity = from.Character
	if s.onChat != nil {
		s.onChat(from, env)
	}
	for _, p := range s.peers {
		if p.rec == nil {
			continue
		}
		p.chat.Send(env)
	}
}

func (s *Server) handleVote(p *peer, r *wire.Reader) error {
	sub := r.ReadByte()
	topic := voting.Topic(r.ReadByte())
	switch sub {
	case wire.VoteCast:
		choice := r.ReadString()
		if r.Err() != nil {
			return errors.Wrap(r.Err(), "read vote cast failed")
		}
		if err := s.votes.Cast(p.rec.Identity, topic, choice); err != nil {
			return errors.Wrap(err, "cast vote failed")
		}
		return nil
	case wire.VoteRetract:
		if r.Err() != nil {
			return errors.Wrap(r.Err(), "read vote retract failed")
		}
		s.votes.Retract(p.rec.Identity, topic)
		return nil
	default:
		return errors.Errorf("unknown vote sub-kind %d", sub)
	}
}
