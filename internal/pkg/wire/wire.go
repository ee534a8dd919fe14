// Package wire implements the byte-level framing shared by both peers:
// a one-byte packet class, a stream of tagged sub-objects and an explicit
// end-of-message tag that lets the decoder detect truncation or an unknown
// object without misinterpreting the rest of the packet.
package wire

// PacketClass is the first byte of every datagram payload.
type PacketClass byte

const (
	ClassAuth PacketClass = iota + 1
	ClassLobbyUpdate
	ClassInRoundUpdate
	ClassFileTransfer
	ClassServerCommand
	ClassDisconnect
)

func (c PacketClass) String() string {
	switch c {
	case ClassAuth:
		return "auth"
	case ClassLobbyUpdate:
		return "lobby-update"
	case ClassInRoundUpdate:
		return "in-round-update"
	case ClassFileTransfer:
		return "file-transfer"
	case ClassServerCommand:
		return "server-command"
	case ClassDisconnect:
		return "disconnect"
	}
	return "unknown"
}

// ObjectKind tags each sub-object inside a packet.
type ObjectKind byte

const (
	ObjSyncHeader ObjectKind = iota + 1
	ObjChat
	ObjEntityEvents
	ObjEntityEventsInitial
	ObjEntityPositions
	ObjVote
	ObjLobbyState
	ObjPermissions
	ObjRespawn
	ObjPing
	ObjPong

	// ObjEnd terminates the object stream of a packet.
	ObjEnd ObjectKind = 0xff
)

func (k ObjectKind) String() string {
	switch k {
	case ObjSyncHeader:
		return "sync-header"
	case ObjChat:
		return "chat"
	case ObjEntityEvents:
		return "entity-events"
	case ObjEntityEventsInitial:
		return "entity-events-initial"
	case ObjEntityPositions:
		return "entity-positions"
	case ObjVote:
		return "vote"
	case ObjLobbyState:
		return "lobby-state"
	case ObjPermissions:
		return "permissions"
	case ObjRespawn:
		return "respawn"
	case ObjPing:
		return "ping"
	case ObjPong:
		return "pong"
	case ObjEnd:
		return "end"
	}
	return "unknown"
}
