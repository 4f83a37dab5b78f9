//go:build linux

package socket

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// Listen creates a non-blocking IPv4 TCP listener bound to host:port.
// An empty host or "0.0.0.0" binds all interfaces. Port 0 picks an
// ephemeral port; the port actually bound is returned.
func Listen(host string, port, backlog int, cfg *Config) (fd, boundPort int, err error) {
	addr, err := resolve4(host)
	if err != nil {
		return -1, 0, err
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}

	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, 0, fmt.Errorf("socket: %w", err)
	}
	fail := func(op string, err error) (int, int, error) {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("socket: %s %s: %w", op, net.JoinHostPort(host, strconv.Itoa(port)), err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt SO_REUSEADDR", err)
	}
	sa := &unix.SockaddrInet4{Port: port, Addr: addr}
	if err := unix.Bind(fd, sa); err != nil {
		return fail("bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return fail("listen", err)
	}
	if cfg != nil {
		// Listener options are best-effort.
		_ = applyListenerOptions(fd, cfg)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		return fail("getsockname", err)
	}
	if in4, ok := bound.(*unix.SockaddrInet4); ok {
		boundPort = in4.Port
	}
	return fd, boundPort, nil
}

func resolve4(host string) ([4]byte, error) {
	var out [4]byte
	switch host {
	case "", "0.0.0.0", "*":
		return out, nil
	case "localhost":
		return [4]byte{127, 0, 0, 1}, nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		// Resolved once at startup, before the event loop runs.
		ipa, err := net.ResolveIPAddr("ip4", host)
		if err != nil {
			return out, fmt.Errorf("socket: resolve %q: %w", host, err)
		}
		ip = ipa.IP
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return out, fmt.Errorf("socket: %q is not an IPv4 address", host)
	}
	copy(out[:], ip4)
	return out, nil
}

// Accept accepts one pending connection. The returned descriptor is
// non-blocking and close-on-exec. When nothing is pending the error is
// unix.EAGAIN.
func Accept(lfd int) (fd int, peerAddr string, peerPort int, err error) {
	fd, sa, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, "", 0, err
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		peerAddr = net.IP(a.Addr[:]).String()
		peerPort = a.Port
	case *unix.SockaddrInet6:
		peerAddr = net.IP(a.Addr[:]).String()
		peerPort = a.Port
	}
	return fd, peerAddr, peerPort, nil
}

// Apply applies tuning options to an accepted connection.
// Returns an error only if TCP_NODELAY fails; other options are best-effort.
func Apply(fd int, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if cfg.NoDelay {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			return fmt.Errorf("socket: TCP_NODELAY: %w", err)
		}
	}
	if cfg.RecvBuffer > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.RecvBuffer)
	}
	if cfg.SendBuffer > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, cfg.SendBuffer)
	}
	if cfg.KeepAlive {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
	}

	applyPlatformOptions(fd, cfg)
	return nil
}

// applyPlatformOptions applies Linux-specific connection options.
func applyPlatformOptions(fd int, cfg *Config) {
	// TCP_QUICKACK is not persistent; the kernel clears it after the next
	// ACK. Setting it once still speeds up the first response.
	if cfg.QuickAck {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_QUICKACK, 1)
	}

	if cfg.KeepAlive {
		// Start probing after 60 seconds of idle, probe every 10 seconds,
		// give up after 3 failed probes.
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, 60)
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, 10)
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, 3)
	}
}

// applyListenerOptions applies Linux-specific listener options.
func applyListenerOptions(fd int, cfg *Config) error {
	if cfg.DeferAccept {
		// Wake the server only when request data arrives (5s timeout).
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_DEFER_ACCEPT, 5); err != nil {
			return err
		}
	}
	return nil
}

// SetQuickAck re-arms TCP_QUICKACK on a connection after a read.
func SetQuickAck(fd int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_QUICKACK, 1)
}

// BoundPort returns the local port of a socket.
func BoundPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, err
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port, nil
	case *unix.SockaddrInet6:
		return a.Port, nil
	}
	return 0, fmt.Errorf("socket: unexpected address family %T", sa)
}
