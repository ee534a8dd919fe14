package lobby

import (
	"testing"

	"fathom/internal/pkg/sequence"
	"fathom/internal/pkg/wire"

	"github.com/stretchr/testify/require"
)

func apply(t *testing.T, tracker *Tracker, mirror *Mirror, acked sequence.ID) (bool, bool) {
	t.Helper()
	w := wire.NewWriter(wire.ClassLobbyUpdate)
	tracker.WriteUpdate(w, acked)
	r, _ := wire.NewReader(w.Bytes())
	require.Equal(t, wire.ObjLobbyState, r.ReadObjectKind())
	applied, needResync, err := mirror.Apply(r)
	require.NoError(t, err)
	return applied, needResync
}

func TestBootstrapFullSnapshot(t *testing.T) {
	tracker := NewTracker("typhon", "campaign")
	tracker.SetRoster([]string{"amelia", "jonas"})
	mirror := &Mirror{}

	applied, needResync := apply(t, tracker, mirror, mirror.Version())
	require.True(t, applied)
	require.False(t, needResync)
	require.Equal(t, "typhon", mirror.State().Submarine)
	require.Equal(t, "campaign", mirror.State().Mode)
	require.Equal(t, []string{"amelia", "jonas"}, mirror.State().Roster)
	require.Equal(t, tracker.Version(), mirror.Version())
}

func TestDeltaAppliesSingleField(t *testing.T) {
	tracker := NewTracker("typhon", "campaign")
	mirror := &Mirror{}
	apply(t, tracker, mirror, 0)

	tracker.SetSubmarine("dugong")
	applied, needResync := apply(t, tracker, mirror, mirror.Version())
	require.True(t, applied)
	require.False(t, needResync)
	require.Equal(t, "dugong", mirror.State().Submarine)
	require.Equal(t, "campaign", mirror.State().Mode, "unchanged field must survive a delta")
}

func TestStaleVersionIgnored(t *testing.T) {
	tracker := NewTracker("typhon", "campaign")
	mirror := &Mirror{}
	apply(t, tracker, mirror, 0)

	// replay the same version
	applied, _ := apply(t, tracker, mirror, 0)
	require.False(t, applied)
}

func TestDeltaGapForcesResync(t *testing.T) {
	tracker := NewTracker("typhon", "campaign")
	mirror := &Mirror{}
	apply(t, tracker, mirror, 0)
	synced := mirror.Version()

	tracker.SetSubmarine("dugong")
	tracker.SetMode("mission") // mirror misses this one

	// hand-build a delta claiming only the last change
	w := wire.NewWriter(wire.ClassLobbyUpdate)
	w.WriteObjectKind(wire.ObjLobbyState)
	w.WriteUint16(uint16(tracker.Version()))
	w.WriteBool(false)
	w.WriteByte(fieldMode)
	w.WriteString("mission")
	r, _ := wire.NewReader(w.Bytes())
	r.ReadObjectKind()
	applied, needResync, err := mirror.Apply(r)
	require.NoError(t, err)
	require.False(t, applied)
	require.True(t, needResync)
	require.Equal(t, synced, mirror.Version(), "a rejected delta must not advance the version")

	// the tracker notices the stale ack and sends a full snapshot
	applied, needResync = apply(t, tracker, mirror, synced)
	require.True(t, applied)
	require.False(t, needResync)
	require.Equal(t, "mission", mirror.State().Mode)
	require.Equal(t, "dugong", mirror.State().Submarine)
}

func TestNoOpSettersDoNotBumpVersion(t *testing.T) {
	tracker := NewTracker("typhon", "campaign")
	v := tracker.Version()
	tracker.SetSubmarine("typhon")
	tracker.SetMode("campaign")
	tracker.SetServerMessage("")
	require.Equal(t, v, tracker.Version())
}
