// Package permission enforces the server-side capability boundary. Every
// administrative request is checked here before it mutates shared state;
// client-side UI gating is only a hint.
package permission

import "strings"

// Capability is a bitmask of administrative actions a client may request.
type Capability uint32

const (
	None            Capability = 0
	Kick            Capability = 1 << iota
	Ban
	Unban
	SelectSubmarine
	SelectMode
	EndRound
	ManageSettings
	ConsoleCommands
	All Capability = ^Capability(0)
)

func (c Capability) String() string {
	if c == None {
		return "none"
	}
	if c == All {
		return "all"
	}
	names := []struct {
		bit  Capability
		name string
	}{
		{Kick, "kick"},
		{Ban, "ban"},
		{Unban, "unban"},
		{SelectSubmarine, "select-submarine"},
		{SelectMode, "select-mode"},
		{EndRound, "end-round"},
		{ManageSettings, "manage-settings"},
		{ConsoleCommands, "console-commands"},
	}
	var parts []string
	for _, n := range names {
		if c&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, ",")
}

// Set is one client's capability bitmask plus the explicit allow-list of
// console command names. Mutated only by the server; pushed to the client
// as a full replace, never a delta.
type Set struct {
	caps     Capability
	commands map[string]struct{}
}

// NewSet creates a Set with the given capabilities and allowed commands.
func NewSet(caps Capability, commands ...string) *Set {
	s := &Set{}
	s.Replace(caps, commands)
	return s
}

// Has reports whether every bit of cap is granted.
func (s *Set) Has(cap Capability) bool {
	if s == nil {
		return false
	}
	return s.caps&cap == cap
}

// HasCommand reports whether the named console command may be run: the
// client needs the generic console-commands capability and case-insensitive
// membership in the allow-list.
func (s *Set) HasCommand(name string) bool {
	if !s.Has(ConsoleCommands) {
		return false
	}
	_, ok := s.commands[strings.ToLower(name)]
	return ok
}

// Replace overwrites the whole set. Grants and revocations always arrive
// as full replacements to avoid drift between peers.
func (s *Set) Replace(caps Capability, commands []string) {
	s.caps = caps
	s.commands = make(map[string]struct{}, len(commands))
	for _, name := range commands {
		s.commands[strings.ToLower(name)] = struct{}{}
	}
}

// Capabilities returns the current bitmask.
func (s *Set) Capabilities() Capability {
	if s == nil {
		return None
	}
	return s.caps
}

// Commands returns the allow-list in no particular order.
func (s *Set) Commands() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.commands))
	for name := range s.commands {
		out = append(out, name)
	}
	return out
}
