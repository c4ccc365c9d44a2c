//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package network

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

func waitReady(entries []pollEntry, timeout time.Duration, rs *ReadySet) error {
	fds := make([]unix.PollFd, 0, len(entries))
	always := make([]bool, len(entries))
	for i, e := range entries {
		if e.fd < 0 {
			always[i] = true
			fds = append(fds, unix.PollFd{Fd: -1})
			continue
		}
		events := int16(unix.POLLIN)
		if e.output {
			events |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(e.fd), Events: events})
	}

	ms := int(timeout / time.Millisecond)
	for _, a := range always {
		if a {
			ms = 0
			break
		}
	}

	if _, err := unix.Poll(fds, ms); err != nil && !errors.Is(err, unix.EINTR) {
		return err
	}

	for i, e := range entries {
		if always[i] {
			rs.add(e, true, true)
			continue
		}
		ev := fds[i].Revents
		readable := ev&(unix.POLLIN|unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0
		writable := ev&unix.POLLOUT != 0
		rs.add(e, readable, writable)
	}
	return nil
}
