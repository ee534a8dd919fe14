package server

import (
	"fathom/internal/pkg/session"
	"fathom/internal/pkg/voting"
)

// StartRound transitions every lobby-synced client into the round and arms
// the respawn cycle. The event stream starts fresh; the simulation is
// expected to seed it with unique spawn events right after.
func (s *Server) StartRound() {
	if s.roundGoing {
		return
	}
	s.roundGoing = true
	s.events.Reset()
	for _, p := range s.peers {
		if p.rec == nil {
			continue
		}
		if p.rec.Advance(session.StateInRound) {
			p.rec.LastRecvEventID = 0
			p.rec.LastSentEventID = 0
			p.rec.LastClientEventID = 0
		}
	}
	s.respawn.Arm()
	s.votes.ResetTopic(voting.TopicStartRound)
	logger.Info("round started")
	s.broadcastServerChat("the round has started")
}

// EndRound returns every in-round client to the lobby and tears down the
// round's event state. Records of clients that dropped mid-round are purged
// here: there is nothing left to resume.
func (s *Server) EndRound(reason string) {
	if !s.roundGoing {
		return
	}
	s.roundGoing = false
	s.respawn.Disarm()
	s.events.Reset()
	s.votes.ResetTopic(voting.TopicEndRound)

	for _, p := range s.peers {
		if p.rec == nil {
			continue
		}
		p.rec.Advance(session.StateLobbySynced)
		p.rec.NeedsMidRoundSync = false
		p.buffer.Clear()
	}
	for _, rec := range s.store.All() {
		if rec.State == session.StateDisconnected {
			if err := s.store.Clear(rec.Identity); err != nil {
				logger.WithError(err).Debug("clear stale record failed")
			}
		}
	}
	s.refreshRoster()

	logger.WithField("reason", reason).Info("round ended")
	s.broadcastServerChat("the round has ended: " + reason)
}
