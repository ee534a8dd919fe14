package wire

import (
	"fathom/internal/pkg/sequence"
)

// SyncHeader opens every lobby/in-round packet. Each side echoes the newest
// IDs it has applied so the peer can evict acknowledged chat messages and
// entity events, plus the lobby version it holds.
type SyncHeader struct {
	ChatAck  sequence.ID
	EventAck sequence.ID
	LobbyAck sequence.ID
}

// Write appends the header as an ObjSyncHeader object.
func (h SyncHeader) Write(w *Writer) {
	w.WriteObjectKind(ObjSyncHeader)
	w.WriteUint16(uint16(h.ChatAck))
	w.WriteUint16(uint16(h.EventAck))
	w.WriteUint16(uint16(h.LobbyAck))
}

// ReadSyncHeader decodes the header body (tag already consumed).
func ReadSyncHeader(r *Reader) (SyncHeader, error) {
	h := SyncHeader{
		ChatAck:  sequence.ID(r.ReadUint16()),
		EventAck: sequence.ID(r.ReadUint16()),
		LobbyAck: sequence.ID(r.ReadUint16()),
	}
	return h, r.Err()
}
