// Package wire implements the bounded read/write cursor that every packet body
// is serialized through. All multi-byte values use little-endian byte order on
// the wire regardless of the host.
package wire

import (
	"encoding/binary"
	"errors"
)

// ErrMode is returned when an append operation is attempted on cursors whose
// saving/loading modes do not allow it.
var ErrMode = errors.New("wire: cursor mode mismatch")

// Cursor walks a borrowed, fixed-size byte buffer. A saving cursor copies
// caller values into the buffer, a loading cursor copies buffer bytes out.
// Every transfer is clipped to the space left; once a transfer is clipped the
// overflow flag is set and stays set.
type Cursor struct {
	buf      []byte
	index    int
	saving   bool
	overflow bool
}

// New creates a cursor over buf. The buffer length is the hard limit.
func New(buf []byte, saving bool) *Cursor {
	return &Cursor{buf: buf, saving: saving}
}

// NewWriter creates a saving cursor over buf.
func NewWriter(buf []byte) *Cursor {
	return New(buf, true)
}

// NewReader creates a loading cursor over buf.
func NewReader(buf []byte) *Cursor {
	return New(buf, false)
}

// Saving reports whether the cursor writes into its buffer.
func (c *Cursor) Saving() bool { return c.saving }

// Loading reports whether the cursor reads from its buffer.
func (c *Cursor) Loading() bool { return !c.saving }

// Overflow reports whether any transfer has been truncated.
func (c *Cursor) Overflow() bool { return c.overflow }

// Index returns the current read/write offset.
func (c *Cursor) Index() int { return c.index }

// Cap returns the size of the underlying buffer.
func (c *Cursor) Cap() int { return len(c.buf) }

// Remaining returns how many bytes can still be transferred.
func (c *Cursor) Remaining() int { return len(c.buf) - c.index }

// Bytes returns the already transferred prefix of the buffer.
func (c *Cursor) Bytes() []byte { return c.buf[:c.index] }

// reserve clips n to the free space, flags overflow when clipping happened and
// returns the window to transfer through.
func (c *Cursor) reserve(n int) []byte {
	if n < 0 {
		n = 0
	}
	if free := len(c.buf) - c.index; n > free {
		n = free
		c.overflow = true
	}
	win := c.buf[c.index : c.index+n]
	c.index += n
	return win
}

// Raw transfers len(p) bytes. Saving copies p into the buffer, loading fills p
// from the buffer. Bytes of p beyond a truncation are left untouched on load.
func (c *Cursor) Raw(p []byte) {
	win := c.reserve(len(p))
	if c.saving {
		copy(win, p)
	} else {
		copy(p, win)
	}
}

// Skip advances the cursor by n bytes without transferring data.
func (c *Cursor) Skip(n int) {
	c.reserve(n)
}

// Uint8 transfers a single byte.
func (c *Cursor) Uint8(v *uint8) {
	var b [1]byte
	if c.saving {
		b[0] = *v
		c.Raw(b[:])
		return
	}
	if c.fill(b[:]) {
		*v = b[0]
	} else {
		*v = 0
	}
}

// Int8 transfers a signed byte.
func (c *Cursor) Int8(v *int8) {
	u := uint8(*v)
	c.Uint8(&u)
	*v = int8(u)
}

// Bool transfers a bool encoded as one byte (0 or 1).
func (c *Cursor) Bool(v *bool) {
	var u uint8
	if *v {
		u = 1
	}
	c.Uint8(&u)
	*v = u != 0
}

// Uint16 transfers a little-endian uint16.
func (c *Cursor) Uint16(v *uint16) {
	var b [2]byte
	if c.saving {
		binary.LittleEndian.PutUint16(b[:], *v)
		c.Raw(b[:])
		return
	}
	if c.fill(b[:]) {
		*v = binary.LittleEndian.Uint16(b[:])
	} else {
		*v = 0
	}
}

// Int16 transfers a little-endian int16.
func (c *Cursor) Int16(v *int16) {
	u := uint16(*v)
	c.Uint16(&u)
	*v = int16(u)
}

// Uint32 transfers a little-endian uint32.
func (c *Cursor) Uint32(v *uint32) {
	var b [4]byte
	if c.saving {
		binary.LittleEndian.PutUint32(b[:], *v)
		c.Raw(b[:])
		return
	}
	if c.fill(b[:]) {
		*v = binary.LittleEndian.Uint32(b[:])
	} else {
		*v = 0
	}
}

// Int32 transfers a little-endian int32.
func (c *Cursor) Int32(v *int32) {
	u := uint32(*v)
	c.Uint32(&u)
	*v = int32(u)
}

// Uint64 transfers a little-endian uint64.
func (c *Cursor) Uint64(v *uint64) {
	var b [8]byte
	if c.saving {
		binary.LittleEndian.PutUint64(b[:], *v)
		c.Raw(b[:])
		return
	}
	if c.fill(b[:]) {
		*v = binary.LittleEndian.Uint64(b[:])
	} else {
		*v = 0
	}
}

// Int64 transfers a little-endian int64.
func (c *Cursor) Int64(v *int64) {
	u := uint64(*v)
	c.Uint64(&u)
	*v = int64(u)
}

// String transfers a string as a uint16 length followed by the raw bytes.
// Strings longer than 65535 bytes are cut at that length. An overflowed
// cursor writes a zero length and no payload; on load it yields "".
func (c *Cursor) String(s *string) {
	if c.saving {
		n := len(*s)
		if n > 0xFFFF {
			n = 0xFFFF
		}
		if c.overflow {
			n = 0
		}
		length := uint16(n)
		c.Uint16(&length)
		if length > 0 {
			c.Raw([]byte((*s)[:length]))
		}
		return
	}

	var length uint16
	c.Uint16(&length)
	if c.overflow || length == 0 {
		*s = ""
		return
	}
	data := make([]byte, length)
	c.Raw(data)
	if c.overflow {
		*s = ""
		return
	}
	*s = string(data)
}

// Append copies the written prefix of other into c. Both cursors must be
// saving.
func (c *Cursor) Append(other *Cursor) error {
	if !c.saving || !other.saving {
		return ErrMode
	}
	c.Raw(other.buf[:other.index])
	return nil
}

// AppendTail copies the unread suffix of other into c. c must be saving and
// other loading. Used to splice a relayed body into a new outbound packet
// without decoding it.
func (c *Cursor) AppendTail(other *Cursor) error {
	if !c.saving || other.saving {
		return ErrMode
	}
	c.Raw(other.buf[other.index:])
	return nil
}

// fill loads exactly len(p) bytes and reports whether all of them were there.
func (c *Cursor) fill(p []byte) bool {
	win := c.reserve(len(p))
	copy(p, win)
	return len(win) == len(p)
}

// CloneOnto returns a cursor over buf with the same mode, offset and overflow
// state as c. buf is expected to hold a copy of c's buffer.
func (c *Cursor) CloneOnto(buf []byte) *Cursor {
	clone := &Cursor{buf: buf, saving: c.saving, overflow: c.overflow, index: c.index}
	if clone.index > len(buf) {
		clone.index = len(buf)
		clone.overflow = true
	}
	return clone
}
