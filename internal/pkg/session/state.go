package session

// ConnectionState is the per-peer lifecycle stage. Transitions are driven
// only by the auth handshake and the session coordinator and never skip a
// state.
type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StateAwaitingAuth
	StateAwaitingPassword
	StateAuthenticated
	StateLobbySynced
	StateInRound
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingAuth:
		return "awaiting-auth"
	case StateAwaitingPassword:
		return "awaiting-password"
	case StateAuthenticated:
		return "authenticated"
	case StateLobbySynced:
		return "lobby-synced"
	case StateInRound:
		return "in-round"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// CanAdvanceTo reports whether moving to next is a legal single step.
// Disconnection is reachable from every state.
func (s ConnectionState) CanAdvanceTo(next ConnectionState) bool {
	if next == StateDisconnected {
		return true
	}
	switch s {
	case StateConnecting:
		return next == StateAwaitingAuth
	case StateAwaitingAuth:
		return next == StateAwaitingPassword || next == StateAuthenticated
	case StateAwaitingPassword:
		return next == StateAuthenticated
	case StateAuthenticated:
		return next == StateLobbySynced
	case StateLobbySynced:
		return next == StateInRound
	case StateInRound:
		return next == StateLobbySynced
	}
	return false
}
