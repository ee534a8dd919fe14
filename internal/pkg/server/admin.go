package server

import (
	"strings"

	"fathom/internal/pkg/chat"
	"fathom/internal/pkg/permission"
	"fathom/internal/pkg/session"
	"fathom/internal/pkg/wire"

	"github.com/pkg/errors"
)

func lower(s string) string { return strings.ToLower(s) }

// handleCommand validates and executes one administrative request. The
// capability check happens here, at the network boundary: whatever the
// client UI showed, an unauthorized request is rejected.
func (s *Server) handleCommand(p *peer, r *wire.Reader) error {
	kind := r.ReadByte()
	if r.Err() != nil {
		return errors.Wrap(r.Err(), "read command kind failed")
	}

	required, verb := commandCapability(kind)
	if required == permission.None {
		return errors.Errorf("unknown command kind %d", kind)
	}
	if !p.rec.Permissions.Has(required) {
		s.denyCommand(p, verb)
		return nil
	}

	switch kind {
	case wire.CmdKick:
		name := r.ReadString()
		reason := r.ReadString()
		if r.Err() != nil {
			return errors.Wrap(r.Err(), "read kick args failed")
		}
		if reason == "" {
			reason = "kicked by " + p.rec.Name
		}
		if !s.KickByName(name, reason) {
			s.notify(p, "no connected client named "+name)
		}

	case wire.CmdBan:
		name := r.ReadString()
		reason := r.ReadString()
		if r.Err() != nil {
			return errors.Wrap(r.Err(), "read ban args failed")
		}
		if reason == "" {
			reason = "banned by " + p.rec.Name
		}
		s.Ban(name, reason)

	case wire.CmdUnban:
		name := r.ReadString()
		if r.Err() != nil {
			return errors.Wrap(r.Err(), "read unban args failed")
		}
		s.Unban(name)

	case wire.CmdSelectSubmarine:
		name := r.ReadString()
		if r.Err() != nil {
			return errors.Wrap(r.Err(), "read submarine name failed")
		}
		s.lobby.SetSubmarine(name)

	case wire.CmdSelectMode:
		name := r.ReadString()
		if r.Err() != nil {
			return errors.Wrap(r.Err(), "read mode name failed")
		}
		s.lobby.SetMode(name)

	case wire.CmdEndRound:
		s.EndRound("ended by " + p.rec.Name)

	case wire.CmdSetServerMessage:
		text := r.ReadString()
		if r.Err() != nil {
			return errors.Wrap(r.Err(), "read server message failed")
		}
		s.lobby.SetServerMessage(text)

	case wire.CmdConsole:
		name := r.ReadString()
		argc := int(r.ReadByte())
		args := make([]string, 0, argc)
		for i := 0; i < argc; i++ {
			args = append(args, r.ReadString())
		}
		if r.Err() != nil {
			return errors.Wrap(r.Err(), "read console command failed")
		}
		// console commands need the capability and an explicit allow-list
		// entry for the specific command name
		if !p.rec.Permissions.HasCommand(name) {
			s.denyCommand(p, "run the console command "+name)
			return nil
		}
		s.runConsole(p, name, args)
	}
	return nil
}

func commandCapability(kind byte) (permission.Capability, string) {
	switch kind {
	case wire.CmdKick:
		return permission.Kick, "kick players"
	case wire.CmdBan:
		return permission.Ban, "ban players"
	case wire.CmdUnban:
		return permission.Unban, "unban players"
	case wire.CmdSelectSubmarine:
		return permission.SelectSubmarine, "select the submarine"
	case wire.CmdSelectMode:
		return permission.SelectMode, "select the game mode"
	case wire.CmdEndRound:
		return permission.EndRound, "end the round"
	case wire.CmdSetServerMessage:
		return permission.ManageSettings, "change server settings"
	case wire.CmdConsole:
		return permission.ConsoleCommands, "run console commands"
	}
	return permission.None, ""
}

func (s *Server) denyCommand(p *peer, verb string) {
	logger.WithFields(map[string]interface{}{
		"client": p.rec.Name,
		"action": verb,
	}).Warn("unauthorized command rejected")
	s.notify(p, "you do not have permission to "+verb)
}

func (s *Server) notify(p *peer, text string) {
	p.chat.Send(chat.Envelope{Type: chat.TypeServer, SenderName: "server", Text: text})
}

func (s *Server) runConsole(p *peer, name string, args []string) {
	if s.consoleExec == nil {
		s.notify(p, "console commands are not available on this server")
		return
	}
	out, err := s.consoleExec(name, args)
	if err != nil {
		s.notify(p, "command failed: "+err.Error())
		return
	}
	if out != "" {
		s.notify(p, out)
	}
}

// KickByName disconnects the named client. Its record is dropped, so a
// rejoin starts a fresh session.
func (s *Server) KickByName(name, reason string) bool {
	rec, ok := s.store.ByName(name)
	if !ok {
		return false
	}
	p := s.peerFor(rec)
	if p == nil {
		return false
	}
	logger.WithFields(map[string]interface{}{
		"client": name,
		"reason": reason,
	}).Info("client kicked")
	s.disconnect(p, reason, false)
	return true
}

// Ban bars the named client from future admission and kicks it if present.
func (s *Server) Ban(name, reason string) {
	s.banned[lower(name)] = struct{}{}
	if rec, ok := s.store.ByName(name); ok {
		s.bannedIDs[rec.Identity] = struct{}{}
	}
	s.KickByName(name, reason)
}

// Unban lifts a ban by name.
func (s *Server) Unban(name string) {
	delete(s.banned, lower(name))
}

// SetPermissions replaces a client's capability set and pushes the full
// replacement to it on the next flush.
func (s *Server) SetPermissions(rec *session.ClientRecord, caps permission.Capability, commands []string) {
	rec.Permissions.Replace(caps, commands)
	if p := s.peerFor(rec); p != nil {
		p.permissionsDirty = true
	}
	logger.WithFields(map[string]interface{}{
		"client":       rec.Name,
		"capabilities": caps.String(),
	}).Info("permissions replaced")
}
