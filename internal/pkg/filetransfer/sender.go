package filetransfer

import (
	"fathom/internal/pkg/transport"
	"fathom/internal/pkg/wire"

	"github.com/pkg/errors"
)

// ErrNoFreeChannel is returned when every sequence channel on the
// connection is occupied.
var ErrNoFreeChannel = errors.New("no free sequence channel")

// Provider resolves a requested file to its content. Returning an error
// rejects the request.
type Provider func(fileType FileType, name string) ([]byte, error)

// OutTransfer is the sender-side handle of one running transfer.
type OutTransfer struct {
	Conn    transport.Conn
	Channel byte
	Type    FileType
	Name    string
	Data    []byte
	Status  Status

	offset int
}

// SentBytes returns how much of the file has been handed to the transport.
func (t *OutTransfer) SentBytes() int { return t.offset }

// Sender serves files to peers, one file per (connection, channel).
type Sender struct {
	provider Provider
	active   map[transport.Conn]*[ChannelCount]*OutTransfer
}

// SenderCfg configures a Sender.
type SenderCfg func(*Sender) error

// WithProvider sets the file lookup used to answer peer requests.
func WithProvider(p Provider) SenderCfg {
	return func(s *Sender) error {
		s.provider = p
		return nil
	}
}

// NewSender creates a Sender with the given configuration.
func NewSender(cfgs ...SenderCfg) (*Sender, error) {
	s := &Sender{active: make(map[transport.Conn]*[ChannelCount]*OutTransfer)}
	for _, cfg := range cfgs {
		if err := cfg(s); err != nil {
			return nil, errors.Wrap(err, "apply sender cfg failed")
		}
	}
	return s, nil
}

// Start begins serving data on the first free channel of conn.
func (s *Sender) Start(conn transport.Conn, fileType FileType, name string, data []byte) (byte, error) {
	lanes := s.active[conn]
	if lanes == nil {
		lanes = new([ChannelCount]*OutTransfer)
		s.active[conn] = lanes
	}
	channel := byte(ChannelCount)
	for i, lane := range lanes {
		if lane == nil || lane.Status != StatusTransferring {
			channel = byte(i)
			break
		}
	}
	if channel == ChannelCount {
		return 0, errors.Wrapf(ErrNoFreeChannel, "peer %s", conn.RemoteAddr())
	}
	t := &OutTransfer{
		Conn:    conn,
		Channel: channel,
		Type:    fileType,
		Name:    name,
		Data:    data,
		Status:  StatusTransferring,
	}
	lanes[channel] = t

	w := wire.NewWriter(wire.ClassFileTransfer)
	w.WriteByte(msgStart)
	w.WriteByte(channel)
	w.WriteByte(byte(fileType))
	w.WriteString(name)
	w.WriteUint32(uint32(len(data)))
	w.WriteString(ContentHash(data))
	w.WriteEnd()
	if err := conn.Send(w.Bytes(), true); err != nil {
		lanes[channel] = nil
		return 0, errors.Wrap(err, "send transfer start failed")
	}
	logger.WithFields(map[string]interface{}{
		"file":    name,
		"size":    len(data),
		"channel": channel,
	}).Info("file transfer started")
	return channel, nil
}

// Cancel aborts an outgoing transfer and tells the peer.
func (s *Sender) Cancel(conn transport.Conn, channel byte) {
	lanes := s.active[conn]
	if lanes == nil || int(channel) >= ChannelCount || lanes[channel] == nil {
		return
	}
	lanes[channel].Status = StatusCancelled
	lanes[channel] = nil

	w := wire.NewWriter(wire.ClassFileTransfer)
	w.WriteByte(msgCancel)
	w.WriteByte(channel)
	w.WriteEnd()
	if err := conn.Send(w.Bytes(), true); err != nil {
		logger.WithError(err).Debug("send transfer cancel failed")
	}
}

// HandlePacket processes one ClassFileTransfer payload arriving at the
// sender: file requests and cancels.
func (s *Sender) HandlePacket(conn transport.Conn, r *wire.Reader) error {
	switch kind := r.ReadByte(); kind {
	case msgRequest:
		fileType := FileType(r.ReadByte())
		name := r.ReadString()
		if r.Err() != nil {
			return errors.Wrap(r.Err(), "read file request failed")
		}
		if s.provider == nil {
			return errors.New("no file provider configured")
		}
		data, err := s.provider(fileType, name)
		if err != nil {
			return errors.Wrapf(err, "resolve %s %q failed", fileType, name)
		}
		_, err = s.Start(conn, fileType, name, data)
		return err

	case msgCancel:
		channel := r.ReadByte()
		if r.Err() != nil {
			return errors.Wrap(r.Err(), "read cancel failed")
		}
		lanes := s.active[conn]
		if lanes != nil && int(channel) < ChannelCount && lanes[channel] != nil {
			lanes[channel].Status = StatusCancelled
			lanes[channel] = nil
		}
		return nil

	default:
		return errors.Errorf("unknown file transfer message kind %d", kind)
	}
}

// Update pushes the next slice of chunks for every running transfer.
func (s *Sender) Update() {
	for conn, lanes := range s.active {
		if conn.Status() == transport.StatusDisconnected {
			delete(s.active, conn)
			continue
		}
		for _, t := range lanes {
			if t == nil || t.Status != StatusTransferring {
				continue
			}
			s.pump(t)
		}
	}
}

func (s *Sender) pump(t *OutTransfer) {
	for i := 0; i < chunksPerTick && t.offset < len(t.Data); i++ {
		end := t.offset + ChunkSize
		if end > len(t.Data) {
			end = len(t.Data)
		}
		w := wire.NewWriter(wire.ClassFileTransfer)
		w.WriteByte(msgChunk)
		w.WriteByte(t.Channel)
		w.WriteUint32(uint32(t.offset))
		w.WriteBytes(t.Data[t.offset:end])
		w.WriteEnd()
		if err := t.Conn.Send(w.Bytes(), true); err != nil {
			logger.WithError(err).Warn("send chunk failed")
			t.Status = StatusFailed
			return
		}
		t.offset = end
	}
	if t.offset >= len(t.Data) {
		t.Status = StatusCompleted
	}
}

// DropConn cancels everything in flight for a disconnected peer.
func (s *Sender) DropConn(conn transport.Conn) {
	delete(s.active, conn)
}

// ActiveCount returns the number of running outgoing transfers.
func (s *Sender) ActiveCount() int {
	n := 0
	for _, lanes := range s.active {
		for _, t := range lanes {
			if t != nil && t.Status == StatusTransferring {
				n++
			}
		}
	}
	return n
}
