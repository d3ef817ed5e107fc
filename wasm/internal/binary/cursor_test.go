package binary

import (
	"bytes"
	"errors"
	"math"
	"testing"

	werr "github.com/wippyai/wasm-stream/errors"
)

func TestCursorReadByte(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	c := NewCursor(data)

	for i, want := range data {
		if c.Pos() != i {
			t.Errorf("position before read %d: got %d, want %d", i, c.Pos(), i)
		}
		b, err := c.ReadByte()
		if err != nil {
			t.Fatalf("ReadByte %d: %v", i, err)
		}
		if b != want {
			t.Errorf("ReadByte %d: got 0x%02x, want 0x%02x", i, b, want)
		}
	}

	if !c.AtEOF() {
		t.Error("expected AtEOF after reading everything")
	}
	_, err := c.ReadByte()
	if !errors.Is(err, werr.ErrUnexpectedEOF) {
		t.Errorf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestCursorPushAfterRead(t *testing.T) {
	c := NewCursor([]byte{0xAA})

	if _, err := c.ReadByte(); err != nil {
		t.Fatalf("ReadByte: %v", err)
	}
	if _, err := c.ReadByte(); !errors.Is(err, werr.ErrUnexpectedEOF) {
		t.Fatalf("expected EOF, got %v", err)
	}

	c.Push([]byte{0xBB, 0xCC})

	b, err := c.ReadByte()
	if err != nil {
		t.Fatalf("ReadByte after push: %v", err)
	}
	if b != 0xBB {
		t.Errorf("got 0x%02x, want 0xBB", b)
	}
	if got := c.Rest(); !bytes.Equal(got, []byte{0xCC}) {
		t.Errorf("Rest: got %v, want [cc]", got)
	}
}

func TestCursorReadBytes(t *testing.T) {
	c := NewCursor([]byte{0x01, 0x02, 0x03, 0x04, 0x05})

	got, err := c.ReadBytes(3)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(got, []byte{0x01, 0x02, 0x03}) {
		t.Errorf("ReadBytes: got %v, want [1 2 3]", got)
	}
	if c.Pos() != 3 {
		t.Errorf("position: got %d, want 3", c.Pos())
	}

	// A short read must not consume.
	_, err = c.ReadBytes(10)
	if !errors.Is(err, werr.ErrUnexpectedEOF) {
		t.Errorf("expected EOF, got %v", err)
	}
	if c.Pos() != 3 {
		t.Errorf("position after failed read: got %d, want 3", c.Pos())
	}
}

func TestCursorSeek(t *testing.T) {
	c := NewCursor([]byte{0x10, 0x20, 0x30})
	mark := c.Pos()
	if _, err := c.ReadBytes(2); err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	c.Seek(mark)
	b, err := c.ReadByte()
	if err != nil {
		t.Fatalf("ReadByte: %v", err)
	}
	if b != 0x10 {
		t.Errorf("got 0x%02x, want 0x10", b)
	}
}

func TestReadUint32(t *testing.T) {
	tests := []struct {
		encoded []byte
		want    uint32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x01}, 1},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0xff, 0x01}, 255},
		{[]byte{0xe5, 0x8e, 0x26}, 624485},
		{[]byte{0x80, 0x80, 0x80, 0x80, 0x00}, 0}, // overlong but within width
		{[]byte{0xff, 0xff, 0xff, 0xff, 0x0f}, math.MaxUint32},
	}

	for _, tt := range tests {
		c := NewCursor(tt.encoded)
		got, err := c.ReadUint32()
		if err != nil {
			t.Errorf("ReadUint32(% x): %v", tt.encoded, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ReadUint32(% x): got %d, want %d", tt.encoded, got, tt.want)
		}
		if !c.AtEOF() {
			t.Errorf("ReadUint32(% x): %d bytes unread", tt.encoded, c.Remaining())
		}
	}
}

func TestReadUint32Errors(t *testing.T) {
	tests := []struct {
		name    string
		encoded []byte
		want    error
	}{
		{"fifth byte continues", []byte{0x80, 0x80, 0x80, 0x80, 0x80}, werr.ErrLeb128Large},
		{"bits beyond width", []byte{0xff, 0xff, 0xff, 0xff, 0x1f}, werr.ErrLeb128Long},
		{"all data bits high", []byte{0xff, 0xff, 0xff, 0xff, 0x7f}, werr.ErrLeb128Long},
		{"truncated", []byte{0x80}, werr.ErrUnexpectedEOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCursor(tt.encoded)
			_, err := c.ReadUint32()
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
			if c.Pos() != 0 {
				t.Errorf("failed read consumed %d bytes", c.Pos())
			}
		})
	}
}

func TestReadUint64(t *testing.T) {
	tests := []struct {
		encoded []byte
		want    uint64
	}{
		{[]byte{0x00}, 0},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}, math.MaxUint64},
	}
	for _, tt := range tests {
		c := NewCursor(tt.encoded)
		got, err := c.ReadUint64()
		if err != nil {
			t.Errorf("ReadUint64(% x): %v", tt.encoded, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ReadUint64(% x): got %d, want %d", tt.encoded, got, tt.want)
		}
	}

	c := NewCursor([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x02})
	if _, err := c.ReadUint64(); !errors.Is(err, werr.ErrLeb128Long) {
		t.Errorf("expected Leb128TooLong, got %v", err)
	}
}

func TestReadInt32(t *testing.T) {
	tests := []struct {
		encoded []byte
		want    int32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x01}, 1},
		{[]byte{0x7f}, -1},
		{[]byte{0x3f}, 63},
		{[]byte{0x40}, -64},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0x80, 0x7f}, -128},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0x07}, math.MaxInt32},
		{[]byte{0x80, 0x80, 0x80, 0x80, 0x78}, math.MinInt32},
	}

	for _, tt := range tests {
		c := NewCursor(tt.encoded)
		got, err := c.ReadInt32()
		if err != nil {
			t.Errorf("ReadInt32(% x): %v", tt.encoded, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ReadInt32(% x): got %d, want %d", tt.encoded, got, tt.want)
		}
	}
}

func TestReadInt32Errors(t *testing.T) {
	tests := []struct {
		name    string
		encoded []byte
		want    error
	}{
		{"fifth byte continues", []byte{0x80, 0x80, 0x80, 0x80, 0xf8}, werr.ErrLeb128Large},
		{"mixed padding bits", []byte{0xff, 0xff, 0xff, 0xff, 0x17}, werr.ErrLeb128Long},
		{"positive with sign padding", []byte{0x80, 0x80, 0x80, 0x80, 0x70}, werr.ErrLeb128Long},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCursor(tt.encoded)
			_, err := c.ReadInt32()
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReadInt64(t *testing.T) {
	tests := []struct {
		encoded []byte
		want    int64
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, -1},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00}, math.MaxInt64},
		{[]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x7f}, math.MinInt64},
	}
	for _, tt := range tests {
		c := NewCursor(tt.encoded)
		got, err := c.ReadInt64()
		if err != nil {
			t.Errorf("ReadInt64(% x): %v", tt.encoded, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ReadInt64(% x): got %d, want %d", tt.encoded, got, tt.want)
		}
	}
}

func TestReadInt33(t *testing.T) {
	tests := []struct {
		encoded []byte
		want    int64
	}{
		{[]byte{0x40}, -64},  // the empty block type byte
		{[]byte{0x7f}, -1},   // i32 block type
		{[]byte{0x00}, 0},    // type index 0
		{[]byte{0x2a}, 42},   // type index 42
		{[]byte{0xff, 0xff, 0xff, 0xff, 0x0f}, (1 << 32) - 1},
		{[]byte{0x80, 0x80, 0x80, 0x80, 0x70}, -(1 << 32)},
	}
	for _, tt := range tests {
		c := NewCursor(tt.encoded)
		got, err := c.ReadInt33()
		if err != nil {
			t.Errorf("ReadInt33(% x): %v", tt.encoded, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ReadInt33(% x): got %d, want %d", tt.encoded, got, tt.want)
		}
	}
}

// encodeUleb and encodeSleb mirror the standard encoders so decoding can be
// checked against arbitrary values.
func encodeUleb(v uint64) []byte {
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

func encodeSleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func TestLeb128RoundTrip(t *testing.T) {
	uvals := []uint64{0, 1, 127, 128, 255, 624485, 1 << 20, math.MaxUint32, math.MaxUint64}
	for _, v := range uvals {
		enc := encodeUleb(v)
		c := NewCursor(enc)
		got, err := c.ReadUint64()
		if err != nil {
			t.Fatalf("ReadUint64(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %d: got %d", v, got)
		}
		if v <= math.MaxUint32 {
			c = NewCursor(enc)
			got32, err := c.ReadUint32()
			if err != nil {
				t.Fatalf("ReadUint32(%d): %v", v, err)
			}
			if uint64(got32) != v {
				t.Errorf("round trip32 %d: got %d", v, got32)
			}
		}
	}

	svals := []int64{0, 1, -1, 63, -64, 64, -65, 127, -128, math.MaxInt32, math.MinInt32, math.MaxInt64, math.MinInt64}
	for _, v := range svals {
		enc := encodeSleb(v)
		c := NewCursor(enc)
		got, err := c.ReadInt64()
		if err != nil {
			t.Fatalf("ReadInt64(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %d: got %d", v, got)
		}
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			c = NewCursor(enc)
			got32, err := c.ReadInt32()
			if err != nil {
				t.Fatalf("ReadInt32(%d): %v", v, err)
			}
			if int64(got32) != v {
				t.Errorf("round trip32 %d: got %d", v, got32)
			}
		}
	}
}

func TestReadUint32LE(t *testing.T) {
	c := NewCursor([]byte{0x00, 0x61, 0x73, 0x6D})
	v, err := c.ReadUint32LE()
	if err != nil {
		t.Fatalf("ReadUint32LE: %v", err)
	}
	if v != 0x6D736100 {
		t.Errorf("ReadUint32LE: got 0x%08x, want 0x6d736100", v)
	}

	c = NewCursor([]byte{0x01, 0x02})
	if _, err := c.ReadUint32LE(); !errors.Is(err, werr.ErrUnexpectedEOF) {
		t.Errorf("expected EOF, got %v", err)
	}
	if c.Pos() != 0 {
		t.Errorf("failed read consumed %d bytes", c.Pos())
	}
}

func TestReadFloats(t *testing.T) {
	c := NewCursor([]byte{0x00, 0x00, 0x80, 0x3f})
	f32, err := c.ReadFloat32()
	if err != nil {
		t.Fatalf("ReadFloat32: %v", err)
	}
	if f32 != 1.0 {
		t.Errorf("ReadFloat32: got %v, want 1.0", f32)
	}

	c = NewCursor([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xf0, 0x3f})
	f64, err := c.ReadFloat64()
	if err != nil {
		t.Fatalf("ReadFloat64: %v", err)
	}
	if f64 != 1.0 {
		t.Errorf("ReadFloat64: got %v, want 1.0", f64)
	}
}
