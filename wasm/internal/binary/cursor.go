// Package binary implements the growable byte cursor underlying the
// streaming parser, including strict LEB128 integer decoding.
package binary

import (
	"encoding/binary"
	"math"

	werr "github.com/wippyai/wasm-stream/errors"
)

// Cursor is an append-only byte buffer with a read position. Bytes arrive
// through Push in arbitrary-sized chunks; reads past the currently buffered
// end fail with ErrUnexpectedEOF without consuming anything, which lets a
// caller save the position, retry a whole parse step, and resume once more
// bytes have been pushed.
type Cursor struct {
	buf []byte
	pos int
}

// NewCursor creates a cursor over an initial (possibly empty) buffer.
func NewCursor(data []byte) *Cursor {
	return &Cursor{buf: data}
}

// Push appends more bytes to the buffer. The read position is unchanged.
func (c *Cursor) Push(data []byte) {
	c.buf = append(c.buf, data...)
}

// Pos returns the current read position.
func (c *Cursor) Pos() int {
	return c.pos
}

// Seek rewinds (or advances) the read position to an absolute offset
// previously obtained from Pos.
func (c *Cursor) Seek(pos int) {
	c.pos = pos
}

// Len returns the total number of buffered bytes, read or not.
func (c *Cursor) Len() int {
	return len(c.buf)
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	return len(c.buf) - c.pos
}

// AtEOF reports whether every buffered byte has been read.
func (c *Cursor) AtEOF() bool {
	return c.pos == len(c.buf)
}

// Rest returns the unread suffix of the buffer. The view stays valid until
// the next Push.
func (c *Cursor) Rest() []byte {
	return c.buf[c.pos:]
}

// ReadByte returns the next byte and advances the position.
func (c *Cursor) ReadByte() (byte, error) {
	if c.pos == len(c.buf) {
		return 0, werr.ErrUnexpectedEOF
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

// PeekByte returns the next byte without advancing.
func (c *Cursor) PeekByte() (byte, error) {
	if c.pos == len(c.buf) {
		return 0, werr.ErrUnexpectedEOF
	}
	return c.buf[c.pos], nil
}

// ReadBytes returns a view of the next n bytes and advances past them.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if n < 0 || len(c.buf)-c.pos < n {
		return nil, werr.ErrUnexpectedEOF
	}
	out := c.buf[c.pos : c.pos+n]
	c.pos += n
	return out, nil
}

// Skip advances the position by n bytes.
func (c *Cursor) Skip(n int) error {
	if len(c.buf)-c.pos < n {
		return werr.ErrUnexpectedEOF
	}
	c.pos += n
	return nil
}

// ReadUint32LE reads a fixed-width little-endian uint32.
func (c *Cursor) ReadUint32LE() (uint32, error) {
	b, err := c.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadFloat32 reads a little-endian float32
func (c *Cursor) ReadFloat32() (float32, error) {
	b, err := c.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

// ReadFloat64 reads a little-endian float64
func (c *Cursor) ReadFloat64() (float64, error) {
	b, err := c.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// readUnsigned decodes an unsigned LEB128 of the given bit width. The final
// permissible byte must not set the continuation bit (Leb128TooLarge) and
// must not carry data bits beyond the width (Leb128TooLong).
func (c *Cursor) readUnsigned(width uint) (uint64, error) {
	start := c.pos
	maxBytes := int((width + 6) / 7)

	var result uint64
	var shift uint
	for i := 0; ; i++ {
		b, err := c.ReadByte()
		if err != nil {
			c.pos = start
			return 0, err
		}
		if i == maxBytes-1 {
			if b&0x80 != 0 {
				c.pos = start
				return 0, werr.ErrLeb128Large
			}
			// Data bits beyond the width must be zero.
			extra := uint(maxBytes*7) - width
			if b>>(7-extra) != 0 {
				c.pos = start
				return 0, werr.ErrLeb128Long
			}
			return result | uint64(b)<<shift, nil
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

// readSigned decodes a signed LEB128 of the given bit width. On the final
// permissible byte the leftover bits must all equal the sign bit; shorter
// encodings sign-extend from bit 6 of the final byte.
func (c *Cursor) readSigned(width uint) (int64, error) {
	start := c.pos
	maxBytes := int((width + 6) / 7)

	var result int64
	var shift uint
	for i := 0; ; i++ {
		b, err := c.ReadByte()
		if err != nil {
			c.pos = start
			return 0, err
		}
		if i == maxBytes-1 {
			if b&0x80 != 0 {
				c.pos = start
				return 0, werr.ErrLeb128Large
			}
			// The bits from the sign bit upward must be a pure sign
			// extension: all zeros or all ones.
			used := width - uint(i)*7 // value bits contributed by this byte
			mask := byte(1)<<(7-used+1) - 1
			pad := (b >> (used - 1)) & mask
			if pad != 0 && pad != mask {
				c.pos = start
				return 0, werr.ErrLeb128Long
			}
			result |= int64(b&0x7f) << shift
			if width < 64 && result&(1<<(width-1)) != 0 {
				result |= ^int64(0) << width
			}
			return result, nil
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			// Sign-extend from bit 6 of the final byte.
			if shift < 64 && b&0x40 != 0 {
				result |= ^int64(0) << shift
			}
			return result, nil
		}
	}
}

// ReadUint32 reads an unsigned 32-bit LEB128 value.
func (c *Cursor) ReadUint32() (uint32, error) {
	v, err := c.readUnsigned(32)
	return uint32(v), err
}

// ReadUint64 reads an unsigned 64-bit LEB128 value.
func (c *Cursor) ReadUint64() (uint64, error) {
	return c.readUnsigned(64)
}

// ReadInt32 reads a signed 32-bit LEB128 value.
func (c *Cursor) ReadInt32() (int32, error) {
	v, err := c.readSigned(32)
	return int32(v), err
}

// ReadInt33 reads a signed 33-bit LEB128 value, the block type encoding.
func (c *Cursor) ReadInt33() (int64, error) {
	return c.readSigned(33)
}

// ReadInt64 reads a signed 64-bit LEB128 value.
func (c *Cursor) ReadInt64() (int64, error) {
	return c.readSigned(64)
}
