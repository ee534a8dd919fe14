package wire

import (
	"encoding/binary"
	"math"
)

var be = binary.BigEndian

// Writer builds an outgoing packet payload. The zero value is ready to use.
type Writer struct {
	buf []byte
}

// NewWriter creates a Writer whose first byte is the packet class.
func NewWriter(class PacketClass) *Writer {
	w := &Writer{buf: make([]byte, 0, 256)}
	w.WriteByte(byte(class))
	return w
}

func (w *Writer) WriteByte(b byte) { w.buf = append(w.buf, b) }

func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
}

func (w *Writer) WriteUint16(v uint16) { w.buf = be.AppendUint16(w.buf, v) }
func (w *Writer) WriteUint32(v uint32) { w.buf = be.AppendUint32(w.buf, v) }
func (w *Writer) WriteUint64(v uint64) { w.buf = be.AppendUint64(w.buf, v) }

func (w *Writer) WriteFloat32(v float32) { w.WriteUint32(math.Float32bits(v)) }

// WriteString writes a uint16 length prefix followed by the raw bytes.
// Strings longer than 65535 bytes are truncated.
func (w *Writer) WriteString(s string) {
	if len(s) > math.MaxUint16 {
		s = s[:math.MaxUint16]
	}
	w.WriteUint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteBytes writes a uint16 length prefix followed by the raw bytes.
func (w *Writer) WriteBytes(b []byte) {
	if len(b) > math.MaxUint16 {
		b = b[:math.MaxUint16]
	}
	w.WriteUint16(uint16(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteRaw appends bytes without a length prefix.
func (w *Writer) WriteRaw(b []byte) { w.buf = append(w.buf, b...) }

// WriteObjectKind tags the start of a sub-object.
func (w *Writer) WriteObjectKind(k ObjectKind) { w.WriteByte(byte(k)) }

// WriteEnd terminates the object stream.
func (w *Writer) WriteEnd() { w.WriteByte(byte(ObjEnd)) }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// Bytes returns the accumulated payload.
func (w *Writer) Bytes() []byte { return w.buf }
