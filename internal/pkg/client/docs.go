// Package client implements the joining side of the session protocol.
//
// The client performs the following steps:
//	1. Connect to the server over the transport and run the auth handshake,
//	   re-sending the request every second until answered and giving up with
//	   a user-facing reason after the overall timeout.
//	2. Receive the permissions push and the full lobby snapshot; applying a
//	   lobby version makes the client lobby-synced.
//	3. When the server's packets switch to the in-round class, reset the
//	   event streams and enter the round, replaying mid-round unique events
//	   first if the server sends an initial-events object.
//	4. Every tick, poll the connection, apply incoming chat/events/lobby
//	   state, and flush one packet with the sync header, queued chat and
//	   queued entity-event intents.
//	5. When the server's packets switch back to the lobby class the round is
//	   over and the client returns to the lobby-sync loop.
//
// On an unexpected disconnect the caller redials and builds a new Client
// with the same identity; the server resumes the existing session instead
// of creating a duplicate. Every fatal disconnect surfaces a human-readable
// reason through DisconnectReason.
package client
