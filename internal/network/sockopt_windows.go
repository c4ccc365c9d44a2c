//go:build windows

package network

import (
	"net"
	"syscall"

	"golang.org/x/sys/windows"
)

// listenConfig returns a net.ListenConfig that sets SO_REUSEADDR before
// binding, plus IPV6_V6ONLY on IPv6 sockets.
func listenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			err := c.Control(func(fd uintptr) {
				h := windows.Handle(fd)
				opErr = windows.SetsockoptInt(h, windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
				if opErr == nil && network == "tcp6" {
					opErr = windows.SetsockoptInt(h, windows.IPPROTO_IPV6, windows.IPV6_V6ONLY, 1)
				}
			})
			if err != nil {
				return err
			}
			return opErr
		},
	}
}
