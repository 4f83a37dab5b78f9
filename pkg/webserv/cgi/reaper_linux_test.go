//go:build linux

package cgi

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func startProcess(t *testing.T, script string) int {
	t.Helper()
	pid, err := syscall.ForkExec("/bin/sh", []string{"/bin/sh", "-c", script}, &syscall.ProcAttr{
		Env:   []string{"PATH=" + DefaultPath},
		Files: []uintptr{0, 1, 2},
	})
	require.NoError(t, err)
	return pid
}

func pollUntil(t *testing.T, r *Reaper, pid int) ExitStatus {
	t.Helper()
	var st ExitStatus
	require.Eventually(t, func() bool {
		r.Poll()
		var ok bool
		st, ok = r.Take(pid)
		return ok
	}, 5*time.Second, 5*time.Millisecond)
	return st
}

func TestReaperExitCode(t *testing.T) {
	r := NewReaper()
	pid := startProcess(t, "exit 3")
	r.Track(pid)
	assert.True(t, r.Alive(pid))

	st := pollUntil(t, r, pid)
	assert.Equal(t, 3, st.Code)
	assert.False(t, st.Success())
	assert.Equal(t, "exit 3", st.String())
	assert.Equal(t, 0, r.Running())
	assert.False(t, r.Alive(pid))

	_, ok := r.Take(pid)
	assert.False(t, ok, "status is handed out once")
}

func TestReaperSignal(t *testing.T) {
	r := NewReaper()
	pid := startProcess(t, "sleep 30")
	r.Track(pid)
	require.NoError(t, unix.Kill(pid, unix.SIGKILL))

	st := pollUntil(t, r, pid)
	assert.Equal(t, unix.SIGKILL, st.Signal)
	assert.False(t, st.Success())
	assert.Equal(t, "killed by SIGKILL", st.String())
}

func TestReaperAbandon(t *testing.T) {
	r := NewReaper()
	pid := startProcess(t, "exit 0")
	r.Track(pid)
	r.Abandon(pid)

	require.Eventually(t, func() bool {
		ready := r.Poll()
		assert.NotContains(t, ready, pid)
		return r.Running() == 0
	}, 5*time.Second, 5*time.Millisecond)

	_, ok := r.Take(pid)
	assert.False(t, ok)
}

func TestReaperWaitErrors(t *testing.T) {
	r := NewReaper()
	calls := 0
	r.waitFunc = func(pid int, status *unix.WaitStatus) (int, error) {
		calls++
		switch pid {
		case 1:
			return 0, nil
		case 2:
			return 0, unix.EINTR
		default:
			return 0, unix.ECHILD
		}
	}
	r.Track(1)
	r.Track(2)
	r.Track(3)

	ready := r.Poll()
	assert.Equal(t, []int{3}, ready)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, r.Running())

	st, ok := r.Take(3)
	require.True(t, ok)
	assert.Equal(t, -1, st.Code)
	assert.Equal(t, "unknown", st.String())
}

func TestExitStatusSuccess(t *testing.T) {
	assert.True(t, ExitStatus{}.Success())
	assert.Equal(t, "exit 0", ExitStatus{}.String())
	assert.False(t, ExitStatus{Code: 1}.Success())
}
