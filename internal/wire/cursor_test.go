package wire

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestPrimitiveRoundTrip(t *testing.T) {
	buf := make([]byte, 64)
	w := NewWriter(buf)

	u8, i8, b := uint8(0xFE), int8(-3), true
	u16, i16 := uint16(0xBEEF), int16(-1234)
	u32, i32 := uint32(0xDEADBEEF), int32(-70000)
	u64, i64 := uint64(0x0102030405060708), int64(-1)
	s := "hello"

	w.Uint8(&u8)
	w.Int8(&i8)
	w.Bool(&b)
	w.Uint16(&u16)
	w.Int16(&i16)
	w.Uint32(&u32)
	w.Int32(&i32)
	w.Uint64(&u64)
	w.Int64(&i64)
	w.String(&s)
	if w.Overflow() {
		t.Fatalf("unexpected overflow")
	}

	r := NewReader(w.Bytes())
	var (
		ru8  uint8
		ri8  int8
		rb   bool
		ru16 uint16
		ri16 int16
		ru32 uint32
		ri32 int32
		ru64 uint64
		ri64 int64
		rs   string
	)
	r.Uint8(&ru8)
	r.Int8(&ri8)
	r.Bool(&rb)
	r.Uint16(&ru16)
	r.Int16(&ri16)
	r.Uint32(&ru32)
	r.Int32(&ri32)
	r.Uint64(&ru64)
	r.Int64(&ri64)
	r.String(&rs)

	if r.Overflow() {
		t.Fatalf("unexpected overflow on read")
	}
	if ru8 != u8 || ri8 != i8 || rb != b || ru16 != u16 || ri16 != i16 ||
		ru32 != u32 || ri32 != i32 || ru64 != u64 || ri64 != i64 || rs != s {
		t.Fatalf("round-trip mismatch")
	}
	if r.Remaining() != 0 {
		t.Fatalf("expected fully consumed buffer, %d left", r.Remaining())
	}
}

func TestLittleEndianLayout(t *testing.T) {
	buf := make([]byte, 6)
	w := NewWriter(buf)
	v16 := uint16(0x0102)
	v32 := uint32(0x03040506)
	w.Uint16(&v16)
	w.Uint32(&v32)

	want := []byte{0x02, 0x01, 0x06, 0x05, 0x04, 0x03}
	if !bytes.Equal(buf, want) {
		t.Fatalf("got %x, want %x", buf, want)
	}
}

func TestWriteTruncation(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		start int
		n     int
	}{
		{"exact fit", 8, 0, 8},
		{"one over", 8, 0, 9},
		{"partial space", 8, 5, 10},
		{"larger than buffer", 8, 0, 1 << 20},
		{"already full", 8, 8, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backing := make([]byte, tt.size+4)
			for i := range backing {
				backing[i] = 0xAA
			}
			w := NewWriter(backing[:tt.size])
			w.Skip(tt.start)
			w.Raw(bytes.Repeat([]byte{0x11}, tt.n))

			if w.Index() > tt.size {
				t.Fatalf("index %d beyond size %d", w.Index(), tt.size)
			}
			wantOverflow := tt.start+tt.n > tt.size
			if w.Overflow() != wantOverflow {
				t.Fatalf("overflow = %v, want %v", w.Overflow(), wantOverflow)
			}
			for i := tt.size; i < len(backing); i++ {
				if backing[i] != 0xAA {
					t.Fatalf("byte %d past the buffer was overwritten", i)
				}
			}
		})
	}
}

func TestOverflowIsSticky(t *testing.T) {
	w := NewWriter(make([]byte, 3))
	v := uint32(7)
	w.Uint32(&v)
	if !w.Overflow() {
		t.Fatalf("expected overflow")
	}
	b := uint8(1)
	w.Uint8(&b)
	if !w.Overflow() || w.Index() != 3 {
		t.Fatalf("overflow cleared or index moved: overflow=%v index=%d", w.Overflow(), w.Index())
	}
}

func TestReadPastEndYieldsZero(t *testing.T) {
	r := NewReader([]byte{0x01})
	v := uint32(99)
	r.Uint32(&v)
	if v != 0 || !r.Overflow() {
		t.Fatalf("expected zero value with overflow, got %d overflow=%v", v, r.Overflow())
	}
}

func TestStringEdgeCases(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		buf := make([]byte, 8)
		w := NewWriter(buf)
		s := ""
		w.String(&s)
		if w.Index() != 2 {
			t.Fatalf("empty string should only write its length, index=%d", w.Index())
		}
		r := NewReader(w.Bytes())
		got := "junk"
		r.String(&got)
		if got != "" {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("255 chars", func(t *testing.T) {
		s := strings.Repeat("x", 255)
		buf := make([]byte, 300)
		w := NewWriter(buf)
		w.String(&s)
		r := NewReader(w.Bytes())
		var got string
		r.String(&got)
		if got != s {
			t.Fatalf("long string mismatch")
		}
	})

	t.Run("overflowed writer writes zero length", func(t *testing.T) {
		buf := make([]byte, 4)
		w := NewWriter(buf)
		w.Skip(5)
		s := "abc"
		w.String(&s)
		if w.Index() != 4 {
			t.Fatalf("index moved past buffer: %d", w.Index())
		}
	})

	t.Run("truncated payload reads empty", func(t *testing.T) {
		r := NewReader([]byte{0x05, 0x00, 'a', 'b'})
		got := "junk"
		r.String(&got)
		if got != "" || !r.Overflow() {
			t.Fatalf("got %q overflow=%v", got, r.Overflow())
		}
	})
}

func TestAppend(t *testing.T) {
	src := NewWriter(make([]byte, 16))
	v := uint32(0x11223344)
	src.Uint32(&v)

	dst := NewWriter(make([]byte, 16))
	head := uint8(9)
	dst.Uint8(&head)
	if err := dst.Append(src); err != nil {
		t.Fatalf("append: %v", err)
	}
	want := []byte{9, 0x44, 0x33, 0x22, 0x11}
	if !bytes.Equal(dst.Bytes(), want) {
		t.Fatalf("got %x, want %x", dst.Bytes(), want)
	}

	if err := dst.Append(NewReader(make([]byte, 2))); !errors.Is(err, ErrMode) {
		t.Fatalf("expected ErrMode, got %v", err)
	}
}

func TestAppendTail(t *testing.T) {
	src := NewReader([]byte{1, 2, 3, 4, 5})
	var skip uint16
	src.Uint16(&skip)

	dst := NewWriter(make([]byte, 8))
	if err := dst.AppendTail(src); err != nil {
		t.Fatalf("append tail: %v", err)
	}
	if !bytes.Equal(dst.Bytes(), []byte{3, 4, 5}) {
		t.Fatalf("got %x", dst.Bytes())
	}

	if err := dst.AppendTail(NewWriter(make([]byte, 2))); !errors.Is(err, ErrMode) {
		t.Fatalf("expected ErrMode, got %v", err)
	}
	if err := NewReader(make([]byte, 2)).AppendTail(src); !errors.Is(err, ErrMode) {
		t.Fatalf("expected ErrMode for loading destination, got %v", err)
	}
}
