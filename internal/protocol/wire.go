package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// ErrMalformed reports a payload that is the wrong size or otherwise
// cannot be decoded. The session layer turns this into a kick.
var ErrMalformed = fmt.Errorf("protocol: malformed packet")

// Reader parses a client payload sequentially, big-endian. It never
// panics: every read past the end of the buffer sets a sticky error that
// Err returns.
type Reader struct {
	buf []byte
	pos int
	err error
}

// NewReader wraps buf, which excludes the two leading command-id bytes.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Err returns the first decode error encountered, if any.
func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.buf) {
		r.err = ErrMalformed
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) U16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *Reader) S32() int32 {
	return int32(r.U32())
}

func (r *Reader) F32() float32 {
	return math.Float32frombits(r.U32())
}

// Bytes reads n raw bytes.
func (r *Reader) Bytes(n int) []byte {
	return r.take(n)
}

// String8 reads an 8-bit length prefix followed by that many UTF-8 bytes.
func (r *Reader) String8() string {
	n := int(r.U8())
	b := r.take(n)
	if b == nil {
		return ""
	}
	return string(b)
}

// Remaining reads whatever bytes are left in the buffer, used for
// variable-length trailing payloads like chat text.
func (r *Reader) Remaining() []byte {
	if r.err != nil {
		return nil
	}
	b := r.buf[r.pos:]
	r.pos = len(r.buf)
	return b
}

// AtEnd reports whether the whole payload has been consumed with no
// leftover trailing bytes, used to reject over-long fixed-size packets.
func (r *Reader) AtEnd() bool {
	return r.err == nil && r.pos == len(r.buf)
}

// Writer builds a server packet body, big-endian, growing as needed.
type Writer struct {
	buf bytes.Buffer
}

func NewWriter(cmd ServerPacket) *Writer {
	w := &Writer{}
	w.U16(uint16(cmd))
	return w
}

func (w *Writer) U8(v uint8) *Writer {
	w.buf.WriteByte(v)
	return w
}

func (w *Writer) U16(v uint16) *Writer {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
	return w
}

func (w *Writer) U32(v uint32) *Writer {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
	return w
}

func (w *Writer) S32(v int32) *Writer {
	return w.U32(uint32(v))
}

func (w *Writer) Bytes(b []byte) *Writer {
	w.buf.Write(b)
	return w
}

func (w *Writer) String8(s string) *Writer {
	w.U8(uint8(len(s)))
	w.buf.WriteString(s)
	return w
}

// Build returns the finished packet bytes, ready to push to a connection.
func (w *Writer) Build() []byte {
	return w.buf.Bytes()
}
