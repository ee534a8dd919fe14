// Package server implements the authoritative side of the session protocol.
//
// The server performs the following steps:
//	1. Accepts transport connections and runs the auth handshake on each one
//	   before any session state is shared.
//	2. On admission it creates a ClientRecord, or resumes the existing one
//	   when the identity matches a client that dropped mid-round.
//	3. It pushes the client's permissions and the full lobby snapshot; once
//	   the client acks the current lobby version it is lobby-synced, and if a
//	   round is already running it is scheduled for mid-round event sync.
//	4. Every tick it polls all connections, applies buffered client intents
//	   through the permission boundary, evaluates votes, advances the respawn
//	   cycle, and evicts acknowledged entity events.
//	5. Every tick it flushes one packet per client: sync header first, then
//	   permissions, lobby state, chat, entity events, positional state,
//	   respawn status and pings, in that priority order, within the payload
//	   budget.
//	6. Clients the event stream can no longer serve incrementally are
//	   disconnected with a diagnostic reason and expected to rejoin through a
//	   full resync.
//
// All state is owned by the update loop; nothing here is safe for
// concurrent use from other goroutines.
package server
