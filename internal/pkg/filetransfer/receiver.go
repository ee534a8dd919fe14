package filetransfer

import (
	"time"

	"fathom/internal/pkg/transport"
	"fathom/internal/pkg/wire"

	"github.com/pkg/errors"
)

// InTransfer is the receiver-side handle of one running transfer.
type InTransfer struct {
	Channel      byte
	Type         FileType
	Name         string
	TotalSize    int
	ExpectedHash string
	Status       Status

	buf          []byte
	gotChunks    map[uint32]struct{}
	received     int
	lastProgress time.Time
	started      time.Time
}

// ReceivedBytes returns how many distinct bytes have arrived.
func (t *InTransfer) ReceivedBytes() int { return t.received }

// Progress returns the completed fraction in [0, 1].
func (t *InTransfer) Progress() float64 {
	if t.TotalSize == 0 {
		return 1
	}
	return float64(t.received) / float64(t.TotalSize)
}

// BytesPerSecond returns the observed transfer rate.
func (t *InTransfer) BytesPerSecond(now time.Time) float64 {
	elapsed := now.Sub(t.started).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(t.received) / elapsed
}

// Bytes returns the reconstructed content of a completed transfer.
func (t *InTransfer) Bytes() []byte { return t.buf }

// Receiver reconstructs incoming files, one per sequence channel. The
// caller re-requests failed transfers it still needs; the receiver never
// retries on its own.
type Receiver struct {
	conn transport.Conn

	active  [ChannelCount]*InTransfer
	pending map[string]string // name -> expected hash for requested files

	onFinished func(*InTransfer)
	onFailed   func(*InTransfer)
	onChunk    func(*InTransfer)
}

// ReceiverCfg configures a Receiver.
type ReceiverCfg func(*Receiver) error

// WithOnFinished sets the completion callback.
func WithOnFinished(fn func(*InTransfer)) ReceiverCfg {
	return func(r *Receiver) error {
		r.onFinished = fn
		return nil
	}
}

// WithOnFailed sets the failure callback.
func WithOnFailed(fn func(*InTransfer)) ReceiverCfg {
	return func(r *Receiver) error {
		r.onFailed = fn
		return nil
	}
}

// WithOnChunk sets the per-chunk progress callback.
func WithOnChunk(fn func(*InTransfer)) ReceiverCfg {
	return func(r *Receiver) error {
		r.onChunk = fn
		return nil
	}
}

// NewReceiver creates a Receiver bound to one connection.
func NewReceiver(conn transport.Conn, cfgs ...ReceiverCfg) (*Receiver, error) {
	r := &Receiver{conn: conn, pending: make(map[string]string)}
	for _, cfg := range cfgs {
		if err := cfg(r); err != nil {
			return nil, errors.Wrap(err, "apply receiver cfg failed")
		}
	}
	return r, nil
}

// Request asks the peer for a file. The hash comes from the announced
// file list and is pinned now so a tampered start message cannot relax it.
func (r *Receiver) Request(fileType FileType, name, hash string) error {
	r.pending[name] = hash
	w := wire.NewWriter(wire.ClassFileTransfer)
	w.WriteByte(msgRequest)
	w.WriteByte(byte(fileType))
	w.WriteString(name)
	w.WriteEnd()
	return errors.Wrap(r.conn.Send(w.Bytes(), true), "send file request failed")
}

// Cancel aborts the transfer on a channel and tells the peer.
func (r *Receiver) Cancel(channel byte) {
	if int(channel) >= ChannelCount || r.active[channel] == nil {
		return
	}
	t := r.active[channel]
	t.Status = StatusCancelled
	r.active[channel] = nil

	w := wire.NewWriter(wire.ClassFileTransfer)
	w.WriteByte(msgCancel)
	w.WriteByte(channel)
	w.WriteEnd()
	if err := r.conn.Send(w.Bytes(), true); err != nil {
		logger.WithError(err).Debug("send transfer cancel failed")
	}
}

// Active returns the transfer running on a channel, if any.
func (r *Receiver) Active(channel byte) (*InTransfer, bool) {
	if int(channel) >= ChannelCount || r.active[channel] == nil {
		return nil, false
	}
	return r.active[channel], true
}

// HandlePacket processes one ClassFileTransfer payload arriving at the
// receiver: starts, chunks and cancels.
func (r *Receiver) HandlePacket(reader *wire.Reader, now time.Time) error {
	switch kind := reader.ReadByte(); kind {
	case msgStart:
		channel := reader.ReadByte()
		fileType := FileType(reader.ReadByte())
		name := reader.ReadString()
		total := int(reader.ReadUint32())
		hash := reader.ReadString()
		if reader.Err() != nil {
			return errors.Wrap(reader.Err(), "read transfer start failed")
		}
		if int(channel) >= ChannelCount {
			return errors.Errorf("sequence channel %d out of range", channel)
		}
		// one transfer per channel: tear down whatever occupies it
		if existing := r.active[channel]; existing != nil {
			existing.Status = StatusCancelled
			r.fail(existing)
		}
		if expected, ok := r.pending[name]; ok && expected != "" {
			hash = expected
		}
		delete(r.pending, name)
		r.active[channel] = &InTransfer{
			Channel:      channel,
			Type:         fileType,
			Name:         name,
			TotalSize:    total,
			ExpectedHash: hash,
			Status:       StatusTransferring,
			buf:          make([]byte, total),
			gotChunks:    make(map[uint32]struct{}),
			lastProgress: now,
			started:      now,
		}
		return nil

	case msgChunk:
		channel := reader.ReadByte()
		offset := reader.ReadUint32()
		data := reader.ReadBytes()
		if reader.Err() != nil {
			return errors.Wrap(reader.Err(), "read chunk failed")
		}
		if int(channel) >= ChannelCount || r.active[channel] == nil {
			// chunk for a torn-down transfer, harmless
			return nil
		}
		t := r.active[channel]
		if int(offset)+len(data) > t.TotalSize {
			t.Status = StatusFailed
			r.active[channel] = nil
			r.fail(t)
			return errors.Errorf("chunk past end of file: offset %d size %d total %d", offset, len(data), t.TotalSize)
		}
		if _, dup := t.gotChunks[offset]; !dup {
			copy(t.buf[offset:], data)
			t.gotChunks[offset] = struct{}{}
			t.received += len(data)
			t.lastProgress = now
			if r.onChunk != nil {
				r.onChunk(t)
			}
		}
		if t.received >= t.TotalSize {
			r.finish(t)
		}
		return nil

	case msgCancel:
		channel := reader.ReadByte()
		if reader.Err() != nil {
			return errors.Wrap(reader.Err(), "read cancel failed")
		}
		if int(channel) < ChannelCount && r.active[channel] != nil {
			t := r.active[channel]
			t.Status = StatusCancelled
			r.active[channel] = nil
			r.fail(t)
		}
		return nil

	default:
		return errors.Errorf("unknown file transfer message kind %d", kind)
	}
}

func (r *Receiver) finish(t *InTransfer) {
	r.active[t.Channel] = nil
	if t.ExpectedHash != "" && ContentHash(t.buf) != t.ExpectedHash {
		t.Status = StatusFailed
		logger.WithField("file", t.Name).Warn("file transfer hash mismatch")
		r.fail(t)
		return
	}
	t.Status = StatusCompleted
	logger.WithFields(map[string]interface{}{
		"file": t.Name,
		"size": t.TotalSize,
	}).Info("file transfer completed")
	if r.onFinished != nil {
		r.onFinished(t)
	}
}

func (r *Receiver) fail(t *InTransfer) {
	if r.onFailed != nil {
		r.onFailed(t)
	}
}

// Update fails transfers that have stalled.
func (r *Receiver) Update(now time.Time) {
	for channel, t := range r.active {
		if t == nil {
			continue
		}
		if now.Sub(t.lastProgress) > StallTimeout {
			t.Status = StatusFailed
			r.active[channel] = nil
			logger.WithField("file", t.Name).Warn("file transfer stalled")
			r.fail(t)
		}
	}
}

// DropAll cancels every running transfer, used on disconnect.
func (r *Receiver) DropAll() {
	for channel, t := range r.active {
		if t == nil {
			continue
		}
		t.Status = StatusCancelled
		r.active[channel] = nil
		r.fail(t)
	}
}
