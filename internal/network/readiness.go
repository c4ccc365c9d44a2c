package network

import (
	"iter"
	"slices"
	"syscall"
	"time"
)

// ReadySet is the outcome of one Poll. Listen slots come first, then client
// slots, both in id order, which fixes the per-tick processing order.
type ReadySet struct {
	servers  []uint32
	readable []uint32
	writable []uint32
}

// Servers yields listen slots with a pending connection.
func (rs *ReadySet) Servers() iter.Seq[uint32] { return slices.Values(rs.servers) }

// Clients yields client slots with data or a hangup to read.
func (rs *ReadySet) Clients() iter.Seq[uint32] { return slices.Values(rs.readable) }

// Writable yields client slots with queued output that can take more bytes.
func (rs *ReadySet) Writable() iter.Seq[uint32] { return slices.Values(rs.writable) }

// Empty reports whether nothing became ready.
func (rs *ReadySet) Empty() bool {
	return len(rs.servers) == 0 && len(rs.readable) == 0 && len(rs.writable) == 0
}

type pollEntry struct {
	id     uint32
	fd     int
	server bool
	output bool
}

// pollEntries lists the active slots to wait on, listen sockets first.
func (r *Registry) pollEntries() []pollEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var servers, clients []pollEntry
	for _, s := range r.slots {
		switch {
		case s.state == Server && s.listener != nil:
			servers = append(servers, pollEntry{id: s.id, fd: sysfd(s.listener), server: true})
		case s.state != Inactive && s.conn != nil:
			clients = append(clients, pollEntry{id: s.id, fd: sysfd(s.conn), output: len(s.sendQueue) > 0})
		}
	}
	return append(servers, clients...)
}

// sysfd returns the descriptor behind a socket, or -1 when there is none
// (in-memory pipes in tests, for example).
func sysfd(v any) int {
	sc, ok := v.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	if err := raw.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return -1
	}
	return fd
}

// Poll waits up to timeout for any slot to become ready. Slots without a
// descriptor are always reported ready; their I/O is bounded by deadlines.
func (r *Registry) Poll(timeout time.Duration) (*ReadySet, error) {
	entries := r.pollEntries()
	rs := &ReadySet{}
	if len(entries) == 0 {
		time.Sleep(timeout)
		return rs, nil
	}
	return rs, waitReady(entries, timeout, rs)
}

func (rs *ReadySet) add(e pollEntry, readable, writable bool) {
	if readable {
		if e.server {
			rs.servers = append(rs.servers, e.id)
		} else {
			rs.readable = append(rs.readable, e.id)
		}
	}
	if writable && e.output {
		rs.writable = append(rs.writable, e.id)
	}
}
