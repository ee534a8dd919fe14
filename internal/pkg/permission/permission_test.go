package permission

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHas(t *testing.T) {
	s := NewSet(Kick | Ban)
	require.True(t, s.Has(Kick))
	require.True(t, s.Has(Ban))
	require.False(t, s.Has(EndRound))
	require.False(t, s.Has(Kick|EndRound), "partial grants must not pass")
}

func TestHasCommandNeedsBothGates(t *testing.T) {
	withoutCap := NewSet(Kick, "setclientcharacter")
	require.False(t, withoutCap.HasCommand("setclientcharacter"))

	withCap := NewSet(ConsoleCommands, "SetClientCharacter")
	require.True(t, withCap.HasCommand("setclientcharacter"))
	require.True(t, withCap.HasCommand("SETCLIENTCHARACTER"))
	require.False(t, withCap.HasCommand("banip"))
}

func TestReplaceIsFullOverwrite(t *testing.T) {
	s := NewSet(ConsoleCommands|Kick, "banip", "kick")
	s.Replace(ConsoleCommands, []string{"freecam"})
	require.False(t, s.Has(Kick))
	require.True(t, s.HasCommand("freecam"))
	require.False(t, s.HasCommand("banip"), "old allow-list entries must not survive a replace")
}

func TestNilSetDeniesEverything(t *testing.T) {
	var s *Set
	require.False(t, s.Has(Kick))
	require.Equal(t, None, s.Capabilities())
}
