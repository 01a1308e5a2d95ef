package cursor

import (
	"encoding/binary"
	"testing"

	"github.com/binaryinspect/machofmt/pkg/machoerr"
)

func TestReadFixedWidth(t *testing.T) {
	c := New([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08})

	u8, err := c.ReadU8()
	if err != nil || u8 != 0x01 {
		t.Fatalf("ReadU8 = %#x, %v", u8, err)
	}
	u16, err := c.ReadU16(binary.LittleEndian)
	if err != nil || u16 != 0x0302 {
		t.Fatalf("ReadU16 = %#x, %v", u16, err)
	}
	u32, err := c.ReadU32(binary.BigEndian)
	if err != nil || u32 != 0x04050607 {
		t.Fatalf("ReadU32 = %#x, %v", u32, err)
	}
}

func TestReadPastEndReturnsOutOfBounds(t *testing.T) {
	c := New([]byte{0x01, 0x02})
	if _, err := c.ReadU32(binary.LittleEndian); err == nil {
		t.Fatal("expected out of bounds error, got nil")
	} else if kind, ok := machoerr.KindOf(err); !ok || kind != machoerr.OutOfBounds {
		t.Fatalf("got %v, want OutOfBounds", err)
	}
}

func TestSeekBounds(t *testing.T) {
	c := New([]byte{1, 2, 3})
	if err := c.Seek(3); err != nil {
		t.Fatalf("seek to end should succeed: %v", err)
	}
	if err := c.Seek(4); err == nil {
		t.Fatal("seek past end should fail")
	}
	if err := c.Seek(-1); err == nil {
		t.Fatal("seek before start should fail")
	}
}

func TestSubIsZeroCopy(t *testing.T) {
	data := []byte{0, 1, 2, 3, 4, 5}
	c := New(data)
	sub, err := c.Sub(2, 3)
	if err != nil {
		t.Fatalf("Sub: %v", err)
	}
	if sub.Len() != 3 {
		t.Fatalf("sub len = %d, want 3", sub.Len())
	}
	b, err := sub.ReadFixedBytes(3)
	if err != nil {
		t.Fatal(err)
	}
	if &b[0] != &data[2] {
		t.Fatal("Sub copied data instead of sharing the backing array")
	}
}

func TestUleb128RoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 300, 1 << 20, 1<<64 - 1}
	for _, want := range cases {
		enc := encodeUleb128(want)
		c := New(enc)
		got, err := c.ReadUleb128()
		if err != nil {
			t.Fatalf("ReadUleb128(%d): %v", want, err)
		}
		if got != want {
			t.Errorf("ReadUleb128 = %d, want %d", got, want)
		}
	}
}

func TestUleb128Truncated(t *testing.T) {
	c := New([]byte{0x80, 0x80, 0x80}) // all continuation bits set, no terminator
	if _, err := c.ReadUleb128(); err == nil {
		t.Fatal("expected error on truncated ULEB128")
	}
}

func TestSleb128RoundTrip(t *testing.T) {
	cases := []int64{0, 1, -1, 63, -64, 64, -65, 1000000, -1000000}
	for _, want := range cases {
		enc := encodeSleb128(want)
		c := New(enc)
		got, err := c.ReadSleb128()
		if err != nil {
			t.Fatalf("ReadSleb128(%d): %v", want, err)
		}
		if got != want {
			t.Errorf("ReadSleb128 = %d, want %d", got, want)
		}
	}
}

func TestReadCStringAt(t *testing.T) {
	c := New([]byte("hello\x00world\x00"))
	s, err := c.ReadCStringAt(0, 16)
	if err != nil || s != "hello" {
		t.Fatalf("ReadCStringAt = %q, %v", s, err)
	}
	s, err = c.ReadCStringAt(6, 16)
	if err != nil || s != "world" {
		t.Fatalf("ReadCStringAt = %q, %v", s, err)
	}
}

func TestReadCStringAtNoTerminator(t *testing.T) {
	c := New([]byte("noterm"))
	if _, err := c.ReadCStringAt(0, 4); err == nil {
		t.Fatal("expected error when NUL not found within max_len")
	}
}

func encodeUleb128(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func encodeSleb128(v int64) []byte {
	var out []byte
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			more = false
		} else {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}
