//go:build linux

package poller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newPipe(t *testing.T) (r, w int) {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	return p[0], p[1]
}

func newLoop(t *testing.T) *EventLoop {
	t.Helper()
	l, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestInterestString(t *testing.T) {
	tests := []struct {
		in   Interest
		want string
	}{
		{0, "none"},
		{Readable, "r"},
		{Writable, "w"},
		{Readable | Writable, "rw"},
		{PeerHangup, "h"},
		{Readable | Writable | PeerHangup, "rwh"},
		{Interest(8), "invalid"},
		{Readable | Interest(16), "invalid"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.String())
	}
}

func TestTimeoutMillis(t *testing.T) {
	assert.Equal(t, -1, timeoutMillis(-1))
	assert.Equal(t, 0, timeoutMillis(0))
	assert.Equal(t, 1, timeoutMillis(200*time.Microsecond))
	assert.Equal(t, 1500, timeoutMillis(1500*time.Millisecond))
}

func TestWaitReportsReadable(t *testing.T) {
	l := newLoop(t)
	r, w := newPipe(t)
	defer unix.Close(r)
	defer unix.Close(w)

	require.NoError(t, l.Add(r, Readable))

	events, err := l.Wait(0)
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = unix.Write(w, []byte("x"))
	require.NoError(t, err)

	events, err = l.Wait(time.Second)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, r, events[0].Fd)
	assert.True(t, events[0].Readable)

	// Level-triggered: not drained, reported again.
	events, err = l.Wait(time.Second)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestModifyAndRemove(t *testing.T) {
	l := newLoop(t)
	r, w := newPipe(t)
	defer unix.Close(r)
	defer unix.Close(w)

	assert.ErrorIs(t, l.Modify(w, Writable), ErrNotRegistered)

	require.NoError(t, l.Add(w, 0))
	assert.ErrorIs(t, l.Add(w, 0), ErrAlreadyRegistered)

	events, err := l.Wait(0)
	require.NoError(t, err)
	assert.Empty(t, events)

	require.NoError(t, l.Modify(w, Writable))
	in, ok := l.Interest(w)
	assert.True(t, ok)
	assert.Equal(t, Writable, in)

	events, err = l.Wait(time.Second)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Writable)

	require.NoError(t, l.Remove(w))
	require.NoError(t, l.Remove(w), "remove must be idempotent")
	assert.Equal(t, 0, l.Registered())
}

func TestHangupOnWriterClose(t *testing.T) {
	l := newLoop(t)
	r, w := newPipe(t)
	defer unix.Close(r)

	require.NoError(t, l.Add(r, Readable))
	require.NoError(t, unix.Close(w))

	events, err := l.Wait(time.Second)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Hangup)
}

func TestPeerHangupWithoutReadInterest(t *testing.T) {
	l := newLoop(t)
	sp, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	defer unix.Close(sp[0])
	defer unix.Close(sp[1])

	require.NoError(t, l.Add(sp[0], PeerHangup))

	// Buffered data alone does not wake a descriptor that is not read.
	_, err = unix.Write(sp[1], []byte("x"))
	require.NoError(t, err)
	events, err := l.Wait(20 * time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, events)

	require.NoError(t, unix.Shutdown(sp[1], unix.SHUT_WR))
	events, err = l.Wait(time.Second)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, sp[0], events[0].Fd)
	assert.True(t, events[0].Hangup)
	assert.False(t, events[0].Readable)
}

func TestStaleEventDroppedAfterReuse(t *testing.T) {
	l := newLoop(t)
	r, w := newPipe(t)
	defer unix.Close(w)

	require.NoError(t, l.Add(r, Readable))
	_, err := unix.Write(w, []byte("x"))
	require.NoError(t, err)

	// Re-register the same descriptor: the new token must not match
	// anything queued for the old registration.
	require.NoError(t, l.Remove(r))
	require.NoError(t, l.Add(r, Readable))
	defer unix.Close(r)

	events, err := l.Wait(time.Second)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, r, events[0].Fd)
}

func TestValidAfterCloseInBatch(t *testing.T) {
	l := newLoop(t)
	r, w := newPipe(t)
	defer unix.Close(w)

	h, err := l.Own(r, Readable, nil)
	require.NoError(t, err)
	_, err = unix.Write(w, []byte("x"))
	require.NoError(t, err)

	events, err := l.Wait(time.Second)
	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0]
	assert.True(t, l.Valid(ev))

	// Closed and replaced by a new registration on the same number.
	require.NoError(t, h.Close())
	r2, w2 := newPipe(t)
	defer unix.Close(w2)
	h2, err := l.Own(r2, Readable, nil)
	require.NoError(t, err)
	defer h2.Close()

	assert.False(t, l.Valid(ev))
}

func TestWakeInterruptsWait(t *testing.T) {
	l := newLoop(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = l.Wake()
	}()

	start := time.Now()
	events, err := l.Wait(5 * time.Second)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHandleCloseReleases(t *testing.T) {
	l := newLoop(t)
	r, w := newPipe(t)
	defer unix.Close(w)

	released := -1
	h, err := l.Own(r, Readable, func(fd int) { released = fd })
	require.NoError(t, err)
	assert.Equal(t, r, h.Fd())
	assert.Equal(t, Readable, h.Interest())

	require.NoError(t, h.SetInterest(0))
	assert.Equal(t, Interest(0), h.Interest())

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())

	assert.Equal(t, r, released)
	assert.Equal(t, -1, h.Fd())
	assert.True(t, h.Closed())
	assert.Equal(t, 0, l.Registered())

	// The descriptor is closed.
	_, err = unix.FcntlInt(uintptr(r), unix.F_GETFD, 0)
	assert.ErrorIs(t, err, unix.EBADF)

	var nilHandle *Handle
	assert.NoError(t, nilHandle.Close())
}

func TestClosedLoop(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	_, err = l.Wait(0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, l.Add(0, Readable), ErrClosed)
}
