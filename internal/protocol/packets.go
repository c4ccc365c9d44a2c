// Package protocol implements the self-delimiting wire packet exchanged
// between lockstep peers. Every packet starts with a 6-byte little-endian
// header (size, version, command id) followed by the command body, and is
// transferred with resumable, deadline-bounded partial I/O.
package protocol

import (
	"errors"
	"net"
	"os"
	"time"
)

const (
	// HeaderSize is the size of the fixed packet header.
	HeaderSize = 6

	// MaxPacketLen is the largest packet, header included.
	MaxPacketLen = 8192

	// NetworkVersion is the newest wire version this build speaks. Peers
	// announcing a higher version are rejected.
	NetworkVersion uint16 = 2

	// DefaultPort is the default server listen port.
	DefaultPort = 13353
)

// CompleteTimeout bounds a send that was asked to complete before returning.
var CompleteTimeout = 30 * time.Second

// Packet errors. Every one of them means the connection must be dropped.
var (
	ErrVersion   = errors.New("protocol: packet version newer than supported")
	ErrSize      = errors.New("protocol: invalid packet size")
	ErrOverflow  = errors.New("protocol: packet buffer overflow")
	ErrClosed    = errors.New("protocol: connection closed by peer")
	ErrTimeout   = errors.New("protocol: send did not complete in time")
	ErrTransport = errors.New("protocol: transport failure")
	ErrDirection = errors.New("protocol: packet used in the wrong direction")
)

// Conn is the socket surface a packet needs. net.Conn satisfies it.
type Conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Header is the fixed wire header.
type Header struct {
	Size    uint16
	Version uint16
	ID      uint16
}

// IsWouldBlock reports whether err only means no data could move before the
// deadline.
func IsWouldBlock(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}
