package server

import (
	"time"

	"fathom/internal/pkg/chat"
	"fathom/internal/pkg/event"
	"fathom/internal/pkg/log"
	"fathom/internal/pkg/session"
	"fathom/internal/pkg/transport"
	"fathom/internal/pkg/voting"
	"fathom/internal/pkg/wire"
)

// flush budget carve-up: chat stops at chatBudget so events always get a
// share, and the packet tail is reserved for respawn status and the ping.
const (
	packetBudget = transport.MaxPayload - 1 // end tag
	chatBudget   = packetBudget / 2
	tailReserve  = 16
)

// Update advances the whole server by one tick.
func (s *Server) Update(now time.Time) {
	dt := time.Duration(0)
	if !s.lastUpdate.IsZero() {
		dt = now.Sub(s.lastUpdate)
	}
	s.lastUpdate = now

	s.accept()
	s.poll(now)
	s.reapDisconnected()
	s.applyClientEvents()

	for _, desync := range s.events.Update(now, s.admitted()) {
		if p := s.peerFor(desync.Client); p != nil {
			logger.WithFields(log.StreamFields("entity-events", desync.Client.LastSentEventID, desync.Client.LastRecvEventID)).
				WithFields(map[string]interface{}{
					"client": desync.Client.Name,
					"reason": desync.Reason,
				}).Warn("client desynced")
			s.disconnect(p, desync.Reason, false)
		}
	}

	s.evaluateVotes()
	if s.roundGoing {
		s.respawn.Update(dt)
	}
	s.files.Update()
	s.sched.Update(now)
	s.flush(now)
}

func (s *Server) accept() {
	for _, a := range s.acceptors {
		for {
			conn, ok := a.Accept()
			if !ok {
				break
			}
			logger.WithField("remote", conn.RemoteAddr()).Info("connection accepted")
			s.peers[conn] = &peer{conn: conn, chat: chat.NewChannel(s.catalog)}
		}
	}
}

func (s *Server) poll(now time.Time) {
	for _, p := range s.peers {
		for {
			payload, ok := p.conn.Poll()
			if !ok {
				break
			}
			if err := s.handlePacket(p, payload, now); err != nil {
				p.protocolErrors++
				logger.WithError(err).WithFields(map[string]interface{}{
					"remote": p.conn.RemoteAddr(),
					"count":  p.protocolErrors,
				}).Warn("protocol error")
				if p.protocolErrors >= maxProtocolErrors {
					s.disconnect(p, "too many protocol errors", false)
					break
				}
			}
		}
	}
}

// reapDisconnected tears down peers whose transport died. Admitted records
// are kept so the client can resume with the same identity; they are purged
// at round end.
func (s *Server) reapDisconnected() {
	for conn, p := range s.peers {
		if conn.Status() != transport.StatusDisconnected {
			continue
		}
		reason := conn.CloseReason()
		if reason == "" {
			reason = "connection lost"
		}
		logger.WithFields(map[string]interface{}{
			"remote": conn.RemoteAddr(),
			"reason": reason,
		}).Info("connection lost")
		// keep the record while a round runs so the client can resume
		s.forgetPeer(p, s.roundGoing)
	}
}

// forgetPeer releases everything bound to the connection. keepRecord
// preserves the ClientRecord for a mid-round reconnect.
func (s *Server) forgetPeer(p *peer, keepRecord bool) {
	s.auth.Forget(p.conn)
	s.files.DropConn(p.conn)
	delete(s.peers, p.conn)
	if p.rec == nil {
		return
	}
	s.votes.RemoveVoter(p.rec.Identity)
	p.buffer.Clear()
	p.rec.State = session.StateDisconnected
	if !keepRecord {
		if err := s.store.Clear(p.rec.Identity); err != nil {
			logger.WithError(err).Debug("clear record failed")
		}
	}
	s.broadcastServerChat(p.rec.Name + " has left the server")
	s.refreshRoster()
}

// disconnect terminates an admitted or pending peer with a reason the
// remote user can act on.
func (s *Server) disconnect(p *peer, reason string, keepRecord bool) {
	s.sendDisconnect(p.conn, reason)
	if err := p.conn.Close(reason); err != nil {
		logger.WithError(err).Debug("close connection failed")
	}
	s.forgetPeer(p, keepRecord)
}

func (s *Server) sendDisconnect(conn transport.Conn, reason string) {
	w := wire.NewWriter(wire.ClassDisconnect)
	w.WriteString(reason)
	w.WriteEnd()
	if err := conn.Send(w.Bytes(), true); err != nil {
		logger.WithError(err).Debug("send disconnect failed")
	}
}

func (s *Server) applyClientEvents() {
	for _, p := range s.peers {
		if p.rec == nil || p.buffer.Len() == 0 {
			continue
		}
		rec := p.rec
		p.buffer.Drain(func(e event.Event) {
			if s.onClientEvent != nil {
				s.onClientEvent(rec, e)
			}
		})
	}
}

func (s *Server) evaluateVotes() {
	eligible := s.ClientCount()

	for _, target := range s.votes.Evaluate(voting.TopicKick, eligible) {
		logger.WithField("target", target).Info("kick vote passed")
		s.KickByName(target, "kicked by vote")
	}

	if s.roundGoing {
		if len(s.votes.Evaluate(voting.TopicEndRound, eligible)) > 0 {
			s.EndRound("ended by vote")
		}
		return
	}

	if leader, ok := s.votes.Leader(voting.TopicSubmarine); ok {
		s.lobby.SetSubmarine(leader)
	}
	if leader, ok := s.votes.Leader(voting.TopicMode); ok {
		s.lobby.SetMode(leader)
	}
	if len(s.votes.Evaluate(voting.TopicStartRound, eligible)) > 0 {
		s.StartRound()
	}
}

func (s *Server) flush(now time.Time) {
	for _, p := range s.peers {
		if p.rec == nil || p.conn.Status() != transport.StatusConnected {
			continue
		}
		rec := p.rec

		class := wire.ClassLobbyUpdate
		if rec.InRound() {
			class = wire.ClassInRoundUpdate
		}
		w := wire.NewWriter(class)
		wire.SyncHeader{
			ChatAck:  p.chat.LastApplied(),
			EventAck: rec.LastClientEventID,
		}.Write(w)

		if p.permissionsDirty {
			s.writePermissions(w, rec)
			p.permissionsDirty = false
		}
		if rec.LastLobbyVersion != s.lobby.Version() {
			s.lobby.WriteUpdate(w, rec.LastLobbyVersion)
		}
		p.chat.WriteTo(w, chatBudget)
		s.writeVoteTallies(w, packetBudget-tailReserve)
		if rec.InRound() {
			s.events.WriteTo(rec, w, packetBudget-tailReserve)
			if s.positions != nil {
				event.WritePositions(w, s.positions(), packetBudget-tailReserve)
			}
			s.writeRespawn(w)
		}
		if now.Sub(p.lastPing) >= s.pingInterval {
			p.lastPing = now
			s.pingCounter++
			rec.MarkPingSent(s.pingCounter, now)
			w.WriteObjectKind(wire.ObjPing)
			w.WriteUint32(s.pingCounter)
		}
		w.WriteEnd()

		if err := p.conn.Send(w.Bytes(), false); err != nil {
			logger.WithError(err).Debug("flush failed")
		}
	}
}

func (s *Server) writePermissions(w *wire.Writer, rec *session.ClientRecord) {
	w.WriteObjectKind(wire.ObjPermissions)
	w.WriteUint32(uint32(rec.Permissions.Capabilities()))
	commands := rec.Permissions.Commands()
	w.WriteUint16(uint16(len(commands)))
	for _, name := range commands {
		w.WriteString(name)
	}
}

// maxTallyEntries caps how many choices one topic's broadcast carries; the
// tally is count-descending so only fringe choices fall off.
const maxTallyEntries = 8

// writeVoteTallies appends the current tallies of every voted topic. The
// object goes out with every flush as a full replace, so a lost packet
// costs nothing and a cleared topic disappears on its own.
func (s *Server) writeVoteTallies(w *wire.Writer, budget int) {
	eligible := s.ClientCount()
	if eligible > 255 {
		eligible = 255
	}
	w.WriteObjectKind(wire.ObjVote)
	w.WriteByte(wire.VoteTally)
	w.WriteByte(byte(eligible))
	countAt := w.Len()
	w.WriteByte(0)
	topics := 0
	for _, topic := range s.votes.Topics() {
		tally := s.votes.Tally(topic)
		if len(tally) > maxTallyEntries {
			tally = tally[:maxTallyEntries]
		}
		size := 2
		for _, entry := range tally {
			size += 2 + len(entry.Choice) + 1
		}
		if w.Len()+size > budget {
			break
		}
		w.WriteByte(byte(topic))
		w.WriteByte(byte(len(tally)))
		for _, entry := range tally {
			w.WriteString(entry.Choice)
			count := entry.Count
			if count > 255 {
				count = 255
			}
			w.WriteByte(byte(count))
		}
		topics++
	}
	w.Bytes()[countAt] = byte(topics)
}

func (s *Server) writeRespawn(w *wire.Writer) {
	w.WriteObjectKind(wire.ObjRespawn)
	w.WriteByte(byte(s.respawn.State()))
	w.WriteFloat32(float32(s.respawn.DispatchRemaining().Seconds()))
}

func (s *Server) broadcastServerChat(text string) {
	for _, p := range s.peers {
		if p.rec == nil {
			continue
		}
		p.chat.Send(chat.Envelope{Type: chat.TypeServer, SenderName: "server", Text: text})
	}
}

func (s *Server) refreshRoster() {
	var names []string
	for _, rec := range s.store.All() {
		if rec.State != session.StateDisconnected {
			names = append(names, rec.Name)
		}
	}
	s.lobby.SetRoster(names)
}
