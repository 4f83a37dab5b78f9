//go:build linux

package poller

import (
	"golang.org/x/sys/unix"
)

// Handle owns one registered file descriptor.
//
// Close deregisters the descriptor from the loop, runs the release hook
// (used by owners to drop their fd-indexed registry entry) and closes the
// descriptor, in that order. Close is idempotent.
type Handle struct {
	fd      int
	loop    *EventLoop
	release func(fd int)
	closed  bool
}

// Own registers fd with the loop and returns a handle that owns it.
// On failure the descriptor is left open and ownership stays with the caller.
func (l *EventLoop) Own(fd int, in Interest, release func(fd int)) (*Handle, error) {
	if err := l.Add(fd, in); err != nil {
		return nil, err
	}
	return &Handle{fd: fd, loop: l, release: release}, nil
}

// Fd returns the owned descriptor, or -1 once the handle is closed.
func (h *Handle) Fd() int {
	if h == nil || h.closed {
		return -1
	}
	return h.fd
}

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool {
	return h == nil || h.closed
}

// SetInterest updates the interest set. No-op on a closed handle.
func (h *Handle) SetInterest(in Interest) error {
	if h.Closed() {
		return nil
	}
	return h.loop.Modify(h.fd, in)
}

// Interest returns the current interest set.
func (h *Handle) Interest() Interest {
	if h.Closed() {
		return 0
	}
	in, _ := h.loop.Interest(h.fd)
	return in
}

// Close releases the descriptor. Safe to call on a nil or closed handle.
func (h *Handle) Close() error {
	if h.Closed() {
		return nil
	}
	h.closed = true

	rerr := h.loop.Remove(h.fd)
	if h.release != nil {
		h.release(h.fd)
	}
	if err := unix.Close(h.fd); err != nil {
		return err
	}
	return rerr
}
