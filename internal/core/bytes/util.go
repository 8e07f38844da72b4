package bytes

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// MaxFieldLength is the largest string or blob that fits behind a 2 byte length prefix.
const MaxFieldLength = math.MaxUint16

var ErrFieldTooLong = errors.New("field exceeds 65535 bytes")

// Writer appends little endian encoded values to a byte slice. The zero value
// is ready to use.
type Writer struct {
	buf []byte
}

func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

// Bytes returns everything written so far.
func (w *Writer) Bytes() []byte { return w.buf }
func (w *Writer) Len() int      { return len(w.buf) }

func (w *Writer) WriteUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteInt16(v int16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(v))
}

func (w *Writer) WriteUint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) WriteInt32(v int32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
}

func (w *Writer) WriteUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) WriteFloat64(v float64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(v))
}

// WriteBytes writes b behind a 2 byte length prefix.
func (w *Writer) WriteBytes(b []byte) error {
	if len(b) > MaxFieldLength {
		return fmt.Errorf("%w: %d bytes", ErrFieldTooLong, len(b))
	}
	w.WriteUint16(uint16(len(b)))
	w.buf = append(w.buf, b...)
	return nil
}

// WriteString writes the UTF-8 bytes of s behind a 2 byte length prefix.
func (w *Writer) WriteString(s string) error {
	if len(s) > MaxFieldLength {
		return fmt.Errorf("%w: %d bytes", ErrFieldTooLong, len(s))
	}
	w.WriteUint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
	return nil
}

// Reader consumes little endian encoded values from a byte slice. Every read
// past the end of the data returns io.ErrUnexpectedEOF and leaves the position
// where it was.
type Reader struct {
	data []byte
	pos  int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) Remaining() int { return len(r.data) - r.pos }
func (r *Reader) Position() int  { return r.pos }
func (r *Reader) EOF() bool      { return r.pos >= len(r.data) }

func (r *Reader) next(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, io.ErrUnexpectedEOF
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.next(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) ReadFloat64() (float64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// ReadBytes reads a length-prefixed blob. The result is a copy so it can
// outlive the buffer being decoded.
func (r *Reader) ReadBytes() ([]byte, error) {
	start := r.pos
	n, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	b, err := r.next(int(n))
	if err != nil {
		r.pos = start
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (r *Reader) ReadString() (string, error) {
	start := r.pos
	n, err := r.ReadUint16()
	if err != nil {
		return "", err
	}
	b, err := r.next(int(n))
	if err != nil {
		r.pos = start
		return "", err
	}
	return string(b), nil
}
