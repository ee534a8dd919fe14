package wire

// Administrative command kinds inside ClassServerCommand packets. The
// server maps each kind to a required capability before acting.
const (
	CmdKick byte = iota + 1
	CmdBan
	CmdUnban
	CmdSelectSubmarine
	CmdSelectMode
	CmdEndRound
	CmdSetServerMessage
	CmdConsole
)

// Vote object sub-kinds inside ObjVote objects. Cast and retract travel
// client to server; tally travels server to client.
const (
	VoteCast byte = iota + 1
	VoteRetract
	VoteTally
)
