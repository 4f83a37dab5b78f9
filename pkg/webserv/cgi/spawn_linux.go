//go:build linux

package cgi

import (
	"os/exec"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

// child is a freshly spawned script with the parent's pipe ends.
type child struct {
	pid    int
	stdin  int // write end, parent side
	stdout int // read end, parent side
}

// spawn starts the script with its stdin and stdout connected to pipes.
// Both parent ends are non-blocking and close-on-exec. The child runs in
// its own process group so a kill reaches anything it started.
//
// On error no descriptor is left open. If the child was already forked
// it has been killed and its pid is returned so the caller can reap it.
func spawn(spec *Spec) (child, error) {
	argv0 := spec.Path
	argv := []string{spec.Path}
	if spec.Interpreter != "" {
		interp := spec.Interpreter
		if !filepath.IsAbs(interp) {
			p, err := exec.LookPath(interp)
			if err != nil {
				return child{}, &SpawnError{Op: "lookup interpreter", Err: err}
			}
			interp = p
		}
		argv0 = interp
		argv = []string{interp, spec.Path}
	}

	var in, out [2]int
	if err := unix.Pipe2(in[:], unix.O_CLOEXEC); err != nil {
		return child{}, &SpawnError{Op: "pipe", Err: err}
	}
	if err := unix.Pipe2(out[:], unix.O_CLOEXEC); err != nil {
		unix.Close(in[0])
		unix.Close(in[1])
		return child{}, &SpawnError{Op: "pipe", Err: err}
	}

	attr := &syscall.ProcAttr{
		Dir:   spec.Dir,
		Env:   spec.Env,
		Files: []uintptr{uintptr(in[0]), uintptr(out[1]), 2},
		Sys:   &syscall.SysProcAttr{Setpgid: true},
	}
	pid, err := syscall.ForkExec(argv0, argv, attr)

	// The child's ends belong to the child now.
	unix.Close(in[0])
	unix.Close(out[1])

	if err != nil {
		unix.Close(in[1])
		unix.Close(out[0])
		return child{}, &SpawnError{Op: "fork/exec", Err: err}
	}

	for _, fd := range []int{in[1], out[0]} {
		if err := unix.SetNonblock(fd, true); err != nil {
			kill(pid)
			unix.Close(in[1])
			unix.Close(out[0])
			return child{pid: pid}, &SpawnError{Op: "set nonblock", Err: err}
		}
	}
	return child{pid: pid, stdin: in[1], stdout: out[0]}, nil
}

// kill sends SIGKILL to the child's process group and to the child itself.
func kill(pid int) {
	if pid <= 0 {
		return
	}
	_ = unix.Kill(-pid, unix.SIGKILL)
	_ = unix.Kill(pid, unix.SIGKILL)
}
