//go:build linux

package cgi

import (
	"errors"
	"strconv"

	"golang.org/x/sys/unix"
)

// ExitStatus is how a child process ended.
type ExitStatus struct {
	// Code is the exit code, or -1 when the child was killed by a signal
	// or its status could not be collected.
	Code int

	// Signal is the terminating signal, zero for a normal exit.
	Signal unix.Signal
}

// Success reports a normal exit with code 0.
func (s ExitStatus) Success() bool {
	return s.Code == 0 && s.Signal == 0
}

func (s ExitStatus) String() string {
	switch {
	case s.Signal != 0:
		return "killed by " + unix.SignalName(s.Signal)
	case s.Code < 0:
		return "unknown"
	default:
		return "exit " + strconv.Itoa(s.Code)
	}
}

// Reaper collects the exit status of spawned children without blocking.
//
// Children are tracked by pid. Poll reaps every tracked child that has
// exited and keeps its status until Take is called for it. A child whose
// job no longer cares (killed on timeout or disconnect) is Abandoned: it is
// still reaped, so no zombie is left, but its status is discarded.
//
// Reaper is owned by the event loop goroutine and is not safe for
// concurrent use.
type Reaper struct {
	running  map[int]bool // pid -> abandoned
	exited   map[int]ExitStatus
	waitFunc func(pid int, status *unix.WaitStatus) (int, error)
}

// NewReaper returns an empty Reaper.
func NewReaper() *Reaper {
	return &Reaper{
		running: make(map[int]bool),
		exited:  make(map[int]ExitStatus),
		waitFunc: func(pid int, status *unix.WaitStatus) (int, error) {
			return unix.Wait4(pid, status, unix.WNOHANG, nil)
		},
	}
}

// Track starts tracking pid.
func (r *Reaper) Track(pid int) {
	r.running[pid] = false
}

// Abandon discards the status of pid. A still-running child keeps being
// polled until it is reaped.
func (r *Reaper) Abandon(pid int) {
	if _, ok := r.running[pid]; ok {
		r.running[pid] = true
	}
	delete(r.exited, pid)
}

// Poll reaps every tracked child that has exited and returns the pids
// whose status is now available through Take.
func (r *Reaper) Poll() []int {
	var ready []int
	for pid, abandoned := range r.running {
		var ws unix.WaitStatus
		wpid, err := r.waitFunc(pid, &ws)
		if errors.Is(err, unix.EINTR) || (err == nil && wpid == 0) {
			continue
		}

		st := ExitStatus{Code: -1}
		if err == nil {
			switch {
			case ws.Exited():
				st.Code = ws.ExitStatus()
			case ws.Signaled():
				st.Signal = ws.Signal()
			default:
				// Stopped or continued: not terminal.
				continue
			}
		}
		// ECHILD and friends: the child is gone and its status is lost.

		delete(r.running, pid)
		if !abandoned {
			r.exited[pid] = st
			ready = append(ready, pid)
		}
	}
	return ready
}

// Take returns and forgets the exit status of pid.
func (r *Reaper) Take(pid int) (ExitStatus, bool) {
	st, ok := r.exited[pid]
	if ok {
		delete(r.exited, pid)
	}
	return st, ok
}

// Running returns the number of children not reaped yet, abandoned ones
// included.
func (r *Reaper) Running() int {
	return len(r.running)
}

// Alive reports whether pid is tracked and not reaped yet.
func (r *Reaper) Alive(pid int) bool {
	_, ok := r.running[pid]
	return ok
}
