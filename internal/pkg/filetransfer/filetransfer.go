// Package filetransfer moves submarine and save files between peers in
// transport-sized chunks over independent sequence channels. Chunks are
// addressed by offset so arrival order does not matter; a transfer is
// complete when every byte is present and the content hash matches.
package filetransfer

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// FileType tells the receiver how to stage and hand off the content.
type FileType byte

const (
	TypeSubmarine FileType = iota + 1
	TypeSave
	TypeMod
)

func (t FileType) String() string {
	switch t {
	case TypeSubmarine:
		return "submarine"
	case TypeSave:
		return "save"
	case TypeMod:
		return "mod"
	}
	return "unknown"
}

// Status is the lifecycle of one transfer handle.
type Status int

const (
	StatusInitiating Status = iota
	StatusTransferring
	StatusCompleted
	StatusCancelled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusInitiating:
		return "initiating"
	case StatusTransferring:
		return "transferring"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

const (
	// ChannelCount is the number of independent transfer lanes per
	// connection.
	ChannelCount = 4

	// ChunkSize keeps chunk messages inside one transport payload after
	// framing overhead.
	ChunkSize = 1024

	// StallTimeout fails a transfer that has made no progress.
	StallTimeout = 10 * time.Second

	// chunksPerTick paces the sender so transfers share the packet
	// budget with the live protocol.
	chunksPerTick = 8
)

// File transfer sub-message kinds inside wire.ClassFileTransfer packets.
const (
	msgRequest byte = iota + 1
	msgStart
	msgChunk
	msgCancel
)

// ContentHash is the out-of-band integrity hash: hex sha256.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
