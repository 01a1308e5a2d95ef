// Package cursor implements a bounded, zero-copy byte-read primitive: an
// immutable byte slice plus an explicit read position, with every
// operation checked against the end of the slice before it touches
// memory. The fat-header decoder (NewFatFile) reads through it; the
// trie, fixups and signature-blob decoders use their own readers.
package cursor

import (
	"encoding/binary"

	"github.com/binaryinspect/machofmt/pkg/machoerr"
)

// maxLebBytes bounds how many continuation bytes a ULEB128/SLEB128 read
// will consume before giving up; a 64-bit value never needs more than 10.
const maxLebBytes = 10

// Cursor is a bounds-checked read position over an immutable byte slice.
// It never copies the underlying bytes; Bytes and Sub return views into
// the same backing array.
type Cursor struct {
	data []byte
	pos  int
}

// New wraps data in a Cursor positioned at offset 0.
func New(data []byte) *Cursor {
	return &Cursor{data: data}
}

// Pos returns the current read position.
func (c *Cursor) Pos() int { return c.pos }

// Len returns the total length of the underlying slice.
func (c *Cursor) Len() int { return len(c.data) }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.data) - c.pos }

// Seek moves the read position to an absolute offset. It fails if offset
// lies outside [0, len(data)].
func (c *Cursor) Seek(offset int) error {
	if offset < 0 || offset > len(c.data) {
		return machoerr.New("cursor", machoerr.OutOfBounds, int64(offset), "seek target outside buffer")
	}
	c.pos = offset
	return nil
}

func (c *Cursor) checkAvailable(n int) error {
	if n < 0 || c.pos+n > len(c.data) {
		return machoerr.New("cursor", machoerr.OutOfBounds, int64(c.pos),
			"read past end of buffer")
	}
	return nil
}

// ReadFixedBytes returns the next n bytes as a zero-copy sub-slice and
// advances the position past them.
func (c *Cursor) ReadFixedBytes(n int) ([]byte, error) {
	if err := c.checkAvailable(n); err != nil {
		return nil, err
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// Sub returns a zero-copy Cursor over data[offset : offset+length],
// positioned at its own offset 0. It does not affect c's position.
func (c *Cursor) Sub(offset, length int) (*Cursor, error) {
	if offset < 0 || length < 0 || offset+length > len(c.data) {
		return nil, machoerr.New("cursor", machoerr.OutOfBounds, int64(offset),
			"sub-cursor range outside buffer")
	}
	return &Cursor{data: c.data[offset : offset+length]}, nil
}

func (c *Cursor) readUint(n int, order binary.ByteOrder) (uint64, error) {
	b, err := c.ReadFixedBytes(n)
	if err != nil {
		return 0, err
	}
	switch n {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(order.Uint16(b)), nil
	case 4:
		return uint64(order.Uint32(b)), nil
	case 8:
		return order.Uint64(b), nil
	}
	panic("cursor: unsupported width")
}

// ReadU8 reads one byte.
func (c *Cursor) ReadU8() (uint8, error) {
	v, err := c.readUint(1, binary.LittleEndian)
	return uint8(v), err
}

// ReadU16 reads a 2-byte unsigned integer in the given byte order.
func (c *Cursor) ReadU16(order binary.ByteOrder) (uint16, error) {
	v, err := c.readUint(2, order)
	return uint16(v), err
}

// ReadU32 reads a 4-byte unsigned integer in the given byte order.
func (c *Cursor) ReadU32(order binary.ByteOrder) (uint32, error) {
	v, err := c.readUint(4, order)
	return uint32(v), err
}

// ReadU64 reads an 8-byte unsigned integer in the given byte order.
func (c *Cursor) ReadU64(order binary.ByteOrder) (uint64, error) {
	return c.readUint(8, order)
}

// ReadUleb128 decodes an unsigned LEB128 value starting at the current
// position, advancing past it. It fails after maxLebBytes continuation
// bytes or if the buffer ends mid-value.
func (c *Cursor) ReadUleb128() (uint64, error) {
	var result uint64
	var shift uint
	for i := 0; ; i++ {
		if i >= maxLebBytes {
			return 0, machoerr.New("cursor", machoerr.MalformedRecord, int64(c.pos),
				"ULEB128 value exceeds maximum encoded length")
		}
		b, err := c.ReadU8()
		if err != nil {
			return 0, machoerr.New("cursor", machoerr.OutOfBounds, int64(c.pos),
				"truncated ULEB128 value")
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

// ReadSleb128 decodes a signed LEB128 value starting at the current
// position, advancing past it. Same bounds as ReadUleb128.
func (c *Cursor) ReadSleb128() (int64, error) {
	var result int64
	var shift uint
	var b byte
	var err error
	for i := 0; ; i++ {
		if i >= maxLebBytes {
			return 0, machoerr.New("cursor", machoerr.MalformedRecord, int64(c.pos),
				"SLEB128 value exceeds maximum encoded length")
		}
		b, err = c.ReadU8()
		if err != nil {
			return 0, machoerr.New("cursor", machoerr.OutOfBounds, int64(c.pos),
				"truncated SLEB128 value")
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, nil
}

// ReadCStringAt reads a NUL-terminated string starting at offset, without
// moving the cursor's own position. It fails if no NUL byte appears
// within the next maxLen bytes.
func (c *Cursor) ReadCStringAt(offset, maxLen int) (string, error) {
	if offset < 0 || offset > len(c.data) {
		return "", machoerr.New("cursor", machoerr.OutOfBounds, int64(offset), "cstring offset outside buffer")
	}
	end := offset + maxLen
	if end > len(c.data) {
		end = len(c.data)
	}
	for i := offset; i < end; i++ {
		if c.data[i] == 0 {
			return string(c.data[offset:i]), nil
		}
	}
	return "", machoerr.New("cursor", machoerr.MalformedRecord, int64(offset),
		"no NUL terminator within max_len")
}
