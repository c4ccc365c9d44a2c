package protocol

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/energizer-project/lockstep/internal/wire"
)

// Packet is one wire message. A saving packet is filled through its cursor
// and then sent, a loading packet is filled by Recv and then decoded through
// its cursor. Both directions keep a byte count so a transfer interrupted by
// a deadline resumes where it stopped on the next call.
type Packet struct {
	buf    [MaxPacketLen]byte
	cursor *wire.Cursor

	Header Header

	sender    uint32
	hasSender bool

	headerDone bool
	ready      bool
	err        error
	count      int
}

// NewPacket creates an empty saving packet. The body starts after the
// reserved header space.
func NewPacket() *Packet {
	p := &Packet{}
	p.cursor = wire.NewWriter(p.buf[:])
	p.cursor.Skip(HeaderSize)
	p.Header.Version = NetworkVersion
	return p
}

// NewIncoming creates a loading packet waiting for bytes from Recv.
func NewIncoming() *Packet {
	p := &Packet{}
	p.cursor = wire.NewReader(p.buf[:0])
	return p
}

// Cursor returns the body cursor.
func (p *Packet) Cursor() *wire.Cursor { return p.cursor }

// IsSaving reports whether the packet is being built for sending.
func (p *Packet) IsSaving() bool { return p.cursor.Saving() }

// IsReady reports whether the packet has been fully sent or received.
func (p *Packet) IsReady() bool { return p.ready }

// Err returns the failure cause, if any.
func (p *Packet) Err() error {
	if p.err != nil {
		return p.err
	}
	if p.cursor.Overflow() {
		return ErrOverflow
	}
	return nil
}

// HasFailed reports a transport, protocol or buffer failure. A failed packet
// means its connection has to be dropped.
func (p *Packet) HasFailed() bool {
	return p.err != nil || p.cursor.Overflow()
}

// Count returns the number of bytes transferred so far.
func (p *Packet) Count() int { return p.count }

// SetSender records the slot the packet arrived on.
func (p *Packet) SetSender(id uint32) {
	p.sender = id
	p.hasSender = true
}

// Sender returns the slot the packet arrived on. Only set for packets
// received by a server.
func (p *Packet) Sender() (uint32, bool) { return p.sender, p.hasSender }

// CheckVersion reports whether the packet is acceptable to this build.
// Saving packets always pass.
func (p *Packet) CheckVersion() bool {
	return p.cursor.Saving() || p.Header.Version <= NetworkVersion
}

// Payload returns the body bytes: written so far for a saving packet, the
// complete body for a received one.
func (p *Packet) Payload() []byte {
	if p.cursor.Saving() {
		return p.buf[HeaderSize:p.cursor.Index()]
	}
	if !p.ready {
		return nil
	}
	return p.buf[HeaderSize:p.Header.Size]
}

// Clone returns an unsent copy sharing no memory with p.
func (p *Packet) Clone() *Packet {
	c := &Packet{
		buf:        p.buf,
		Header:     p.Header,
		sender:     p.sender,
		hasSender:  p.hasSender,
		headerDone: p.headerDone,
		err:        p.err,
	}
	if p.cursor.Saving() {
		c.cursor = p.cursor.CloneOnto(c.buf[:])
	} else {
		c.cursor = p.cursor.CloneOnto(c.buf[:p.cursor.Cap()])
		c.ready = p.ready
		c.count = p.count
	}
	return c
}

// Rewind allows a fully sent packet to be sent again, to another peer.
func (p *Packet) Rewind() {
	if p.cursor.Saving() {
		p.count = 0
		p.ready = false
	}
}

func (p *Packet) encodeHeader() {
	p.Header.Size = uint16(p.cursor.Index())
	p.Header.Version = NetworkVersion
	w := wire.NewWriter(p.buf[:HeaderSize])
	w.Uint16(&p.Header.Size)
	w.Uint16(&p.Header.Version)
	w.Uint16(&p.Header.ID)
	p.headerDone = true
}

// Send writes the packet to conn. Each write is bounded by timeout. When a
// write runs into the deadline, Send either returns with the packet still in
// flight (complete=false) so a later call resumes it, or keeps retrying until
// CompleteTimeout (complete=true). A packet whose cursor overflowed never
// touches the socket.
func (p *Packet) Send(conn Conn, complete bool, timeout time.Duration) error {
	if !p.cursor.Saving() {
		// received bodies are relayed through Cursor.AppendTail
		return ErrDirection
	}
	if p.ready {
		return nil
	}
	if p.HasFailed() {
		if p.err == nil {
			p.err = ErrOverflow
		}
		return p.err
	}
	if !p.headerDone {
		p.encodeHeader()
	}

	total := int(p.Header.Size)
	giveUp := time.Now().Add(CompleteTimeout)
	for p.count < total {
		if err := conn.SetWriteDeadline(deadline(timeout)); err != nil {
			p.err = fmt.Errorf("%w: %v", ErrTransport, err)
			return p.err
		}
		n, err := conn.Write(p.buf[p.count:total])
		p.count += n
		if err != nil {
			if IsWouldBlock(err) {
				if !complete {
					return nil
				}
				if time.Now().After(giveUp) {
					p.err = ErrTimeout
					return p.err
				}
				continue
			}
			p.err = fmt.Errorf("%w: %v", ErrTransport, err)
			return p.err
		}
		if n == 0 {
			p.err = ErrClosed
			return p.err
		}
	}
	p.ready = true
	return nil
}

// Recv pulls bytes from conn into the packet. The header is read first and
// validated before any body byte is consumed; the body then arrives across as
// many calls as needed. Recv returns nil while the packet is still in flight.
func (p *Packet) Recv(conn Conn, timeout time.Duration) error {
	if p.ready {
		return nil
	}
	if p.err != nil {
		return p.err
	}
	if p.cursor.Saving() {
		p.err = ErrDirection
		return p.err
	}

	if !p.headerDone {
		done, err := p.pull(conn, HeaderSize, timeout)
		if err != nil || !done {
			return err
		}
		if err := p.parseHeader(); err != nil {
			return err
		}
	}

	done, err := p.pull(conn, int(p.Header.Size), timeout)
	if err != nil || !done {
		return err
	}

	p.cursor = wire.NewReader(p.buf[:p.Header.Size])
	p.cursor.Skip(HeaderSize)
	p.ready = true
	return nil
}

// pull performs at most one read towards target and reports whether target
// has been reached.
func (p *Packet) pull(conn Conn, target int, timeout time.Duration) (bool, error) {
	if p.count >= target {
		return true, nil
	}
	if err := conn.SetReadDeadline(deadline(timeout)); err != nil {
		p.err = fmt.Errorf("%w: %v", ErrTransport, err)
		return false, p.err
	}
	n, err := conn.Read(p.buf[p.count:target])
	p.count += n
	if err != nil {
		switch {
		case IsWouldBlock(err):
			return p.count >= target, nil
		case errors.Is(err, io.EOF):
			if p.count >= target {
				return true, nil
			}
			p.err = ErrClosed
		default:
			p.err = fmt.Errorf("%w: %v", ErrTransport, err)
		}
		return false, p.err
	}
	return p.count >= target, nil
}

func (p *Packet) parseHeader() error {
	r := wire.NewReader(p.buf[:HeaderSize])
	r.Uint16(&p.Header.Size)
	r.Uint16(&p.Header.Version)
	r.Uint16(&p.Header.ID)
	p.headerDone = true

	switch {
	case p.Header.Size < HeaderSize || int(p.Header.Size) > MaxPacketLen:
		p.err = fmt.Errorf("%w: %d", ErrSize, p.Header.Size)
	case !p.CheckVersion():
		p.err = fmt.Errorf("%w: %d > %d", ErrVersion, p.Header.Version, NetworkVersion)
	}
	return p.err
}
