// Package cursor implements bounds-checked little-endian reads over an
// immutable byte buffer.
package cursor

import (
	"encoding/binary"

	"github.com/droidscope/apkparser/apkerr"
)

// Reader is a read cursor over a byte slice. The slice is never modified.
type Reader struct {
	data []byte
	pos  int
}

func New(data []byte) *Reader {
	return &Reader{data: data}
}

// NewAt returns a reader positioned at off. The position is not validated
// until the first read.
func NewAt(data []byte, off int) *Reader {
	return &Reader{data: data, pos: off}
}

func (r *Reader) Pos() int       { return r.pos }
func (r *Reader) Len() int       { return len(r.data) }
func (r *Reader) Data() []byte   { return r.data }
func (r *Reader) Remaining() int { return len(r.data) - r.pos }

func (r *Reader) Seek(off int) {
	r.pos = off
}

// Skip advances the cursor by n bytes, failing if that passes the end.
func (r *Reader) Skip(n int) error {
	if err := r.need(n); err != nil {
		return err
	}
	r.pos += n
	return nil
}

func (r *Reader) need(n int) error {
	if n < 0 || r.pos < 0 || r.pos > len(r.data) || len(r.data)-r.pos < n {
		return apkerr.Errorf("", int64(r.pos), "%w: need %d bytes, buffer is %d", apkerr.ErrOutOfBounds, n, len(r.data))
	}
	return nil
}

func (r *Reader) U8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) U16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) U32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

// Bytes returns the next n bytes as a sub-slice of the buffer.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.data[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return b, nil
}

// U16At and U32At read at an absolute offset without moving the cursor.
func (r *Reader) U16At(off int) (uint16, error) {
	return NewAt(r.data, off).U16()
}

func (r *Reader) U32At(off int) (uint32, error) {
	return NewAt(r.data, off).U32()
}

// Uleb128 reads an unsigned LEB128 value.
func (r *Reader) Uleb128() (uint32, error) {
	v, n, err := Uleb128(r.data, r.pos)
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

// Sleb128 reads a signed LEB128 value.
func (r *Reader) Sleb128() (int32, error) {
	v, n, err := Sleb128(r.data, r.pos)
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

// Uleb128p1 reads an unsigned LEB128 value minus one, so 0 decodes to -1.
func (r *Reader) Uleb128p1() (int64, error) {
	v, n, err := Uleb128p1(r.data, r.pos)
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}
