// Package poller wraps the kernel readiness-notification API behind a small
// level-triggered event loop.
//
// The loop owns no connection state. It maps a registered file descriptor to
// an interest set and reports readiness for it. Ownership of a descriptor is
// expressed with a Handle: closing the handle removes the registration and
// closes the descriptor in one step, so a readiness event can never refer to
// a descriptor that was already released.
package poller

import (
	"errors"
	"time"
)

// Interest is the set of readiness conditions a descriptor is watched for.
type Interest uint32

const (
	// Readable watches for data (or EOF) to read.
	Readable Interest = 1 << iota

	// Writable watches for free space to write.
	Writable

	// PeerHangup watches for the peer shutting down its writing side,
	// even while the descriptor is not watched for reads.
	PeerHangup

	interestMask = Readable | Writable | PeerHangup
)

// String returns a compact representation, used in debug logs.
func (in Interest) String() string {
	if in == 0 {
		return "none"
	}
	if in&^interestMask != 0 {
		return "invalid"
	}
	var b []byte
	if in&Readable != 0 {
		b = append(b, 'r')
	}
	if in&Writable != 0 {
		b = append(b, 'w')
	}
	if in&PeerHangup != 0 {
		b = append(b, 'h')
	}
	return string(b)
}

// Event is one readiness notification returned by Wait.
type Event struct {
	Fd int

	Readable bool
	Writable bool

	// Hangup is set when the peer closed its side (or both sides).
	// Level-triggered: it keeps firing until the descriptor is removed.
	Hangup bool

	// Err is set when the descriptor is in an error state.
	Err bool

	token int32
}

var (
	// ErrClosed is returned by operations on a closed loop.
	ErrClosed = errors.New("poller: event loop closed")

	// ErrNotRegistered is returned by Modify for an unknown descriptor.
	ErrNotRegistered = errors.New("poller: descriptor not registered")

	// ErrAlreadyRegistered is returned by Add for a descriptor that is already watched.
	ErrAlreadyRegistered = errors.New("poller: descriptor already registered")
)

// timeoutMillis converts a Wait timeout to the millisecond argument of the
// kernel call. Negative durations block forever; positive durations shorter
// than a millisecond are rounded up so the loop does not spin.
func timeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := d / time.Millisecond
	if d > 0 && ms == 0 {
		return 1
	}
	return int(ms)
}
