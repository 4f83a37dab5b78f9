// Package socket creates non-blocking listening sockets, accepts client
// connections on them and applies per-socket TCP tuning.
//
// Everything here works on raw file descriptors so the descriptors can be
// registered directly with the event loop.
package socket

// Config represents socket tuning configuration.
// Zero values mean "use system defaults".
type Config struct {
	// TCP_NODELAY - Disable Nagle's algorithm for low latency
	NoDelay bool

	// SO_RCVBUF - Receive buffer size in bytes (0 = system default)
	RecvBuffer int

	// SO_SNDBUF - Send buffer size in bytes (0 = system default)
	SendBuffer int

	// TCP_QUICKACK - Send immediate ACKs
	QuickAck bool

	// TCP_DEFER_ACCEPT - Don't report a connection until data arrives.
	// Connections that never send anything are then invisible to the
	// idle-timeout sweep, so this is off by default.
	DeferAccept bool

	// SO_KEEPALIVE - Enable TCP keepalive
	KeepAlive bool
}

// DefaultConfig returns the configuration used for client connections.
func DefaultConfig() *Config {
	return &Config{
		NoDelay:   true,
		QuickAck:  true,
		KeepAlive: true,
	}
}

// DefaultBacklog is the listen(2) backlog used when none is configured.
const DefaultBacklog = 128
