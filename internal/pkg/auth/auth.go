// Package auth implements the admission handshake: a nonce challenge with
// a salted password hash response, plus the version/content/name checks
// performed before any session state is shared with the peer.
package auth

import (
	"crypto/sha256"

	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// Auth sub-message kinds inside wire.ClassAuth packets.
const (
	msgRequestAuth byte = iota + 1
	msgAuthResponse
	msgRequestInit
	msgAuthOK
	msgAuthFailure
)

// Timing bounds for the client side of the handshake.
const (
	// RetryInterval is how often an unanswered handshake message is
	// re-sent to survive datagram loss.
	RetryInterval = 1 // seconds
	// Timeout bounds the whole handshake before a user-facing failure.
	Timeout = 20 // seconds
)

// PasswordHash is the stored form of the server password.
func PasswordHash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return sum[:]
}

// SaltedHash is what the client transmits: the stored hash salted with the
// server-issued nonce, so the cleartext never crosses the wire and replays
// of old proofs fail against a fresh nonce.
func SaltedHash(passwordHash, nonce []byte) []byte {
	h := sha256.New()
	h.Write(passwordHash)
	h.Write(nonce)
	return h.Sum(nil)
}
