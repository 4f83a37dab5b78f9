//go:build linux

package poller

import (
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// maxEvents bounds the number of notifications returned by a single Wait.
const maxEvents = 256

// registration is what the loop remembers about a watched descriptor.
// The token is echoed back by the kernel in every event for that
// descriptor, which lets Wait discard events that were queued for an
// earlier owner of the same fd number.
type registration struct {
	interest Interest
	token    int32
}

// EventLoop is a level-triggered epoll instance.
//
// EventLoop is not safe for concurrent use, with the single exception of
// Wake, which may be called from any goroutine.
type EventLoop struct {
	epfd   int
	wakeFd int

	regs      map[int]registration
	nextToken int32

	raw    []unix.EpollEvent
	events []Event
	closed bool
}

// New creates an epoll instance together with an eventfd used by Wake.
func New() (*EventLoop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("poller: epoll_create1: %w", err)
	}

	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("poller: eventfd: %w", err)
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		unix.Close(wakeFd)
		unix.Close(epfd)
		return nil, fmt.Errorf("poller: register wake fd: %w", err)
	}

	return &EventLoop{
		epfd:   epfd,
		wakeFd: wakeFd,
		regs:   make(map[int]registration),
		raw:    make([]unix.EpollEvent, maxEvents),
		events: make([]Event, 0, maxEvents),
	}, nil
}

func toEpoll(in Interest) uint32 {
	var ev uint32
	if in&Readable != 0 {
		ev |= unix.EPOLLIN
	}
	if in&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	if in&PeerHangup != 0 {
		ev |= unix.EPOLLRDHUP
	}
	return ev
}

// Add starts watching fd for the given interest.
func (l *EventLoop) Add(fd int, in Interest) error {
	if l.closed {
		return ErrClosed
	}
	if _, ok := l.regs[fd]; ok {
		return ErrAlreadyRegistered
	}

	l.nextToken++
	token := l.nextToken
	ev := unix.EpollEvent{Events: toEpoll(in), Fd: int32(fd), Pad: token}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("poller: add fd %d: %w", fd, err)
	}
	l.regs[fd] = registration{interest: in, token: token}
	return nil
}

// Modify replaces the interest set of a registered descriptor.
// It is a no-op when the interest is unchanged.
func (l *EventLoop) Modify(fd int, in Interest) error {
	if l.closed {
		return ErrClosed
	}
	reg, ok := l.regs[fd]
	if !ok {
		return ErrNotRegistered
	}
	if reg.interest == in {
		return nil
	}

	ev := unix.EpollEvent{Events: toEpoll(in), Fd: int32(fd), Pad: reg.token}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("poller: modify fd %d: %w", fd, err)
	}
	reg.interest = in
	l.regs[fd] = reg
	return nil
}

// Remove stops watching fd. Removing an unknown descriptor is not an error,
// so callers may remove unconditionally before closing.
func (l *EventLoop) Remove(fd int) error {
	if _, ok := l.regs[fd]; !ok {
		return nil
	}
	delete(l.regs, fd)
	if l.closed {
		return nil
	}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT && err != unix.EBADF {
		return fmt.Errorf("poller: remove fd %d: %w", fd, err)
	}
	return nil
}

// Interest reports the current interest set of fd and whether it is registered.
func (l *EventLoop) Interest(fd int) (Interest, bool) {
	reg, ok := l.regs[fd]
	return reg.interest, ok
}

// Valid reports whether ev still refers to the current registration of
// its descriptor. Handlers that close descriptors while walking a batch
// use it to skip events meant for a descriptor closed earlier in the
// same batch, possibly reused since.
func (l *EventLoop) Valid(ev Event) bool {
	reg, ok := l.regs[ev.Fd]
	return ok && reg.token == ev.token
}

// Registered returns the number of watched descriptors, excluding the
// internal wake descriptor.
func (l *EventLoop) Registered() int {
	return len(l.regs)
}

// Wait blocks until at least one descriptor is ready, Wake is called, or the
// timeout elapses. A negative timeout blocks indefinitely.
//
// The returned slice is reused by the next call to Wait.
// An interrupted system call yields an empty batch and no error.
func (l *EventLoop) Wait(timeout time.Duration) ([]Event, error) {
	if l.closed {
		return nil, ErrClosed
	}

	n, err := unix.EpollWait(l.epfd, l.raw, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return l.events[:0], nil
		}
		return nil, fmt.Errorf("poller: epoll_wait: %w", err)
	}

	out := l.events[:0]
	for i := 0; i < n; i++ {
		raw := &l.raw[i]
		fd := int(raw.Fd)

		if fd == l.wakeFd {
			l.drainWake()
			continue
		}

		// Stale: the descriptor was removed (and maybe reused) after the
		// kernel queued this event.
		reg, ok := l.regs[fd]
		if !ok || reg.token != raw.Pad {
			continue
		}

		out = append(out, Event{
			Fd:       fd,
			Readable: raw.Events&unix.EPOLLIN != 0,
			Writable: raw.Events&unix.EPOLLOUT != 0,
			Hangup:   raw.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0,
			Err:      raw.Events&unix.EPOLLERR != 0,
			token:    raw.Pad,
		})
	}
	l.events = out
	return out, nil
}

// Wake interrupts a blocked Wait. Safe to call from any goroutine.
func (l *EventLoop) Wake() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(l.wakeFd, buf[:])
	if err == unix.EAGAIN {
		// Counter saturated, a wake-up is already pending.
		return nil
	}
	return err
}

func (l *EventLoop) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(l.wakeFd, buf[:]); err != nil {
			return
		}
	}
}

// Close releases the epoll instance. Registered descriptors are not closed;
// they belong to their handles.
func (l *EventLoop) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	l.regs = make(map[int]registration)
	err := unix.Close(l.epfd)
	if cerr := unix.Close(l.wakeFd); err == nil {
		err = cerr
	}
	return err
}
