package network

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/rs/zerolog/log"
)

// DefaultListenAddrs binds the IPv4 and IPv6 wildcards separately.
var DefaultListenAddrs = []string{"0.0.0.0", "::"}

// Listen opens one TCP listen socket per local address that addrs resolve
// to. Addresses that fail to resolve or bind are logged and skipped; only
// when nothing could be bound does Listen return ErrNoListener.
func Listen(ctx context.Context, addrs []string, port int) ([]net.Listener, error) {
	if len(addrs) == 0 {
		addrs = DefaultListenAddrs
	}
	lc := listenConfig()

	var listeners []net.Listener
	seen := make(map[netip.Addr]bool)
	for _, host := range addrs {
		ips, err := resolve(ctx, host)
		if err != nil {
			log.Warn().Err(err).Str("host", host).Msg("failed to resolve listen address")
			continue
		}
		for _, ip := range ips {
			if seen[ip] {
				continue
			}
			seen[ip] = true

			network := "tcp6"
			if ip.Is4() {
				network = "tcp4"
			}
			addr := net.JoinHostPort(ip.String(), strconv.Itoa(port))
			ln, err := lc.Listen(ctx, network, addr)
			if err != nil {
				log.Error().Err(err).Str("addr", addr).Msg("failed to bind listen socket")
				continue
			}
			log.Info().Str("addr", ln.Addr().String()).Msg("listening")
			listeners = append(listeners, ln)
		}
	}

	if len(listeners) == 0 {
		return nil, fmt.Errorf("%w: %v port %d", ErrNoListener, addrs, port)
	}
	return listeners, nil
}

func resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{ip.Unmap()}, nil
	}
	ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	for i := range ips {
		ips[i] = ips[i].Unmap()
	}
	return ips, nil
}

// Dial opens the client connection to a server. host may omit the port, in
// which case port is used.
func Dial(ctx context.Context, host string, port int) (net.Conn, netip.Addr, error) {
	target := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		target = net.JoinHostPort(host, strconv.Itoa(port))
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, netip.Addr{}, fmt.Errorf("network: connect %s: %w", target, err)
	}
	return conn, RemoteAddr(conn), nil
}

// RemoteAddr returns the peer IP of conn, unmapped from IPv4-in-IPv6.
func RemoteAddr(conn net.Conn) netip.Addr {
	if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return tcp.AddrPort().Addr().Unmap()
	}
	if ap, err := netip.ParseAddrPort(conn.RemoteAddr().String()); err == nil {
		return ap.Addr().Unmap()
	}
	return netip.Addr{}
}

// ListenTCP binds a single TCP listener on addr with the same socket options
// as the game listeners.
func ListenTCP(ctx context.Context, addr string) (net.Listener, error) {
	lc := listenConfig()
	return lc.Listen(ctx, "tcp", addr)
}
