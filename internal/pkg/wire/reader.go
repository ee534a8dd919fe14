package wire

import (
	"math"

	"github.com/pkg/errors"
)

// ErrShortPacket indicates a read past the end of the payload.
var ErrShortPacket = errors.New("packet ended mid-object")

// Reader decodes a packet payload. Errors are sticky: after the first
// failed read every subsequent read returns the zero value, so decoders can
// check Err once after reading a whole object.
type Reader struct {
	buf []byte
	pos int
	err error
}

// NewReader wraps a received payload. The packet class byte is consumed
// immediately and available via Class.
func NewReader(payload []byte) (*Reader, PacketClass) {
	r := &Reader{buf: payload}
	return r, PacketClass(r.ReadByte())
}

// Err returns the first read error encountered, if any.
func (r *Reader) Err() error { return r.err }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) fail() {
	if r.err == nil {
		r.err = ErrShortPacket
	}
}

func (r *Reader) ReadByte() byte {
	if r.err != nil || r.pos >= len(r.buf) {
		r.fail()
		return 0
	}
	b := r.buf[r.pos]
	r.pos++
	return b
}

func (r *Reader) ReadBool() bool { return r.ReadByte() != 0 }

func (r *Reader) ReadUint16() uint16 {
	if r.err != nil || r.pos+2 > len(r.buf) {
		r.fail()
		return 0
	}
	v := be.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v
}

func (r *Reader) ReadUint32() uint32 {
	if r.err != nil || r.pos+4 > len(r.buf) {
		r.fail()
		return 0
	}
	v := be.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *Reader) ReadUint64() uint64 {
	if r.err != nil || r.pos+8 > len(r.buf) {
		r.fail()
		return 0
	}
	v := be.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v
}

func (r *Reader) ReadFloat32() float32 { return math.Float32frombits(r.ReadUint32()) }

func (r *Reader) ReadString() string {
	n := int(r.ReadUint16())
	if r.err != nil || r.pos+n > len(r.buf) {
		r.fail()
		return ""
	}
	s := string(r.buf[r.pos : r.pos+n])
	r.pos += n
	return s
}

// ReadBytes reads a uint16 length prefix followed by that many bytes.
// The returned slice aliases the payload buffer.
func (r *Reader) ReadBytes() []byte {
	n := int(r.ReadUint16())
	if r.err != nil || r.pos+n > len(r.buf) {
		r.fail()
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

// Skip advances past n bytes, typically the declared length of an object
// the decoder cannot or need not interpret.
func (r *Reader) Skip(n int) {
	if n < 0 || r.err != nil || r.pos+n > len(r.buf) {
		r.fail()
		return
	}
	r.pos += n
}

// ReadObjectKind reads the next sub-object tag.
func (r *Reader) ReadObjectKind() ObjectKind { return ObjectKind(r.ReadByte()) }
