// Package binreader provides a seekable, endian-aware reader over an in-memory buffer.
package binreader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrUnexpectedEOF is returned when a read or seek would leave the buffer.
var ErrUnexpectedEOF = errors.New("unexpected end of data")

// Reader reads little- or big-endian scalars from a fixed byte slice.
// The byte order only affects the bytes within each scalar, never field order.
type Reader struct {
	data  []byte
	pos   int
	order binary.ByteOrder
}

// New creates a reader positioned at the start of data.
// A nil order defaults to little-endian (the PS2 layout).
func New(data []byte, order binary.ByteOrder) *Reader {
	if order == nil {
		order = binary.LittleEndian
	}
	return &Reader{data: data, order: order}
}

// Order returns the byte order used for multi-byte reads.
func (r *Reader) Order() binary.ByteOrder {
	return r.order
}

// BigEndian reports whether the reader decodes big-endian scalars.
func (r *Reader) BigEndian() bool {
	return r.order == binary.BigEndian
}

// Pos returns the current absolute offset.
func (r *Reader) Pos() int {
	return r.pos
}

// Len returns the total buffer length.
func (r *Reader) Len() int {
	return len(r.data)
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// Seek moves the cursor to an absolute offset in [0, Len].
func (r *Reader) Seek(pos int) error {
	if pos < 0 || pos > len(r.data) {
		return fmt.Errorf("%w: seek to 0x%X (length 0x%X)", ErrUnexpectedEOF, pos, len(r.data))
	}
	r.pos = pos
	return nil
}

// Skip moves the cursor by delta bytes relative to the current offset.
func (r *Reader) Skip(delta int) error {
	return r.Seek(r.pos + delta)
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || n > len(r.data)-r.pos {
		return nil, fmt.Errorf("%w: reading %d bytes at 0x%X", ErrUnexpectedEOF, n, r.pos)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// U8 reads one byte.
func (r *Reader) U8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U16 reads an unsigned 16-bit integer.
func (r *Reader) U16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return r.order.Uint16(b), nil
}

// U32 reads an unsigned 32-bit integer.
func (r *Reader) U32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return r.order.Uint32(b), nil
}

// F32 reads an IEEE-754 single precision float.
func (r *Reader) F32() (float32, error) {
	v, err := r.U32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// Vec2 reads two consecutive floats.
func (r *Reader) Vec2() ([2]float32, error) {
	var v [2]float32
	return v, r.floats(v[:])
}

// Vec3 reads three consecutive floats.
func (r *Reader) Vec3() ([3]float32, error) {
	var v [3]float32
	return v, r.floats(v[:])
}

// Vec4 reads four consecutive floats.
func (r *Reader) Vec4() ([4]float32, error) {
	var v [4]float32
	return v, r.floats(v[:])
}

func (r *Reader) floats(dst []float32) error {
	b, err := r.take(4 * len(dst))
	if err != nil {
		return err
	}
	for i := range dst {
		dst[i] = math.Float32frombits(r.order.Uint32(b[i*4:]))
	}
	return nil
}

// Bytes reads n raw bytes. The returned slice aliases the underlying buffer.
func (r *Reader) Bytes(n int) ([]byte, error) {
	return r.take(n)
}

// Nibble reads the current byte and returns its high or low four bits.
// The cursor advances one byte; paired nibble reads rewind with Skip(-1).
func (r *Reader) Nibble(high bool) (uint8, error) {
	b, err := r.U8()
	if err != nil {
		return 0, err
	}
	if high {
		return (b >> 4) & 0xF, nil
	}
	return b & 0xF, nil
}

// Sub returns a reader over the next n bytes and advances past them.
// The sub-reader shares the byte order and starts at offset zero.
func (r *Reader) Sub(n int) (*Reader, error) {
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	return New(b, r.order), nil
}
