// Package lobby replicates the shared pre-round configuration: selected
// submarine, game mode, roster and server message. Every change bumps a
// wraparound version; clients apply only versions newer than what they
// hold and can detect when they need a full snapshot.
package lobby

import (
	"fathom/internal/pkg/sequence"
	"fathom/internal/pkg/wire"

	"github.com/pkg/errors"
)

// Field flags for delta updates.
const (
	fieldSubmarine byte = 1 << iota
	fieldMode
	fieldMessage
	fieldRoster
)

// State is the replicated lobby content.
type State struct {
	Version       sequence.ID
	Submarine     string
	Mode          string
	ServerMessage string
	Roster        []string
}

// Tracker is the server-authoritative lobby state. Setters bump the
// version and remember which fields changed so routine updates can go out
// as deltas.
type Tracker struct {
	state      State
	counter    sequence.Counter
	lastChange byte
}

// NewTracker creates a Tracker with defaults applied.
func NewTracker(submarine, mode string) *Tracker {
	t := &Tracker{}
	t.state.Submarine = submarine
	t.state.Mode = mode
	t.state.Version = t.counter.Next()
	t.lastChange = fieldSubmarine | fieldMode
	return t
}

// State returns a copy of the current state.
func (t *Tracker) State() State {
	s := t.state
	s.Roster = append([]string(nil), t.state.Roster...)
	return s
}

// Version returns the current lobby version.
func (t *Tracker) Version() sequence.ID { return t.state.Version }

func (t *Tracker) bump(field byte) {
	t.state.Version = t.counter.Next()
	t.lastChange = field
}

// SetSubmarine selects the submarine.
func (t *Tracker) SetSubmarine(name string) {
	if t.state.Submarine == name {
		return
	}
	t.state.Submarine = name
	t.bump(fieldSubmarine)
}

// SetMode selects the game mode.
func (t *Tracker) SetMode(name string) {
	if t.state.Mode == name {
		return
	}
	t.state.Mode = name
	t.bump(fieldMode)
}

// SetServerMessage updates the message of the day.
func (t *Tracker) SetServerMessage(message string) {
	if t.state.ServerMessage == message {
		return
	}
	t.state.ServerMessage = message
	t.bump(fieldMessage)
}

// SetRoster replaces the connected player roster.
func (t *Tracker) SetRoster(names []string) {
	t.state.Roster = append([]string(nil), names...)
	t.bump(fieldRoster)
}

// WriteUpdate appends an ObjLobbyState object bringing a client from
// ackedVersion to the current version. Clients that have never synced, or
// that are more than one version behind, get the full snapshot; a client
// exactly one version behind gets a delta of the last change.
func (t *Tracker) WriteUpdate(w *wire.Writer, ackedVersion sequence.ID) {
	full := ackedVersion == 0 || uint16(t.state.Version)-uint16(ackedVersion) > 1
	w.WriteObjectKind(wire.ObjLobbyState)
	w.WriteUint16(uint16(t.state.Version))
	w.WriteBool(full)
	fields := t.lastChange
	if full {
		fields = fieldSubmarine | fieldMode | fieldMessage | fieldRoster
	}
	w.WriteByte(fields)
	if fields&fieldSubmarine != 0 {
		w.WriteString(t.state.Submarine)
	}
	if fields&fieldMode != 0 {
		w.WriteString(t.state.Mode)
	}
	if fields&fieldMessage != 0 {
		w.WriteString(t.state.ServerMessage)
	}
	if fields&fieldRoster != 0 {
		w.WriteUint16(uint16(len(t.state.Roster)))
		for _, name := range t.state.Roster {
			w.WriteString(name)
		}
	}
}

// Mirror is the client-side copy of the lobby state.
type Mirror struct {
	state State
}

// State returns the mirrored lobby content.
func (m *Mirror) State() State { return m.state }

// Version returns the last applied lobby version, for the sync header.
func (m *Mirror) Version() sequence.ID { return m.state.Version }

// Apply decodes an ObjLobbyState object (tag already consumed). Versions
// not newer than the mirror's are ignored. needResync reports that a delta
// arrived with a version gap, meaning the mirror must be rebuilt from a
// full snapshot before it can trust its content again.
func (m *Mirror) Apply(r *wire.Reader) (applied, needResync bool, err error) {
	version := sequence.ID(r.ReadUint16())
	full := r.ReadBool()
	fields := r.ReadByte()

	var submarine, mode, message string
	var roster []string
	if fields&fieldSubmarine != 0 {
		submarine = r.ReadString()
	}
	if fields&fieldMode != 0 {
		mode = r.ReadString()
	}
	if fields&fieldMessage != 0 {
		message = r.ReadString()
	}
	if fields&fieldRoster != 0 {
		n := int(r.ReadUint16())
		roster = make([]string, 0, n)
		for i := 0; i < n && r.Err() == nil; i++ {
			roster = append(roster, r.ReadString())
		}
	}
	if r.Err() != nil {
		return false, false, errors.Wrap(r.Err(), "read lobby state failed")
	}

	if !sequence.Advances(version, m.state.Version) {
		return false, false, nil
	}
	if !full && uint16(version)-uint16(m.state.Version) > 1 {
		// missed at least one delta, state would drift
		return false, true, nil
	}
	if m.state.Version == 0 && !full {
		// never bootstrapped, deltas are meaningless
		return false, true, nil
	}

	m.state.Version = version
	if fields&fieldSubmarine != 0 {
		m.state.Submarine = submarine
	}
	if fields&fieldMode != 0 {
		m.state.Mode = mode
	}
	if fields&fieldMessage != 0 {
		m.state.ServerMessage = message
	}
	if fields&fieldRoster != 0 {
		m.state.Roster = roster
	}
	return true, false, nil
}
