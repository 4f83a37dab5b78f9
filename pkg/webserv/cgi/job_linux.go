//go:build linux

package cgi

import (
	"errors"
	"fmt"
	"time"

	"github.com/dapr/kit/logger"
	"golang.org/x/sys/unix"

	"github.com/yourusername/webserv/pkg/webserv/http11"
	"github.com/yourusername/webserv/pkg/webserv/metrics"
	"github.com/yourusername/webserv/pkg/webserv/poller"
)

var log = logger.NewLogger("webserv.cgi")

// I/O sizes per readiness event.
const (
	writeChunk = 64 << 10
	readChunk  = 64 << 10
)

// ErrTimeout indicates the job exceeded its deadline and was killed.
var ErrTimeout = errors.New("cgi: script timed out")

// State is the lifecycle position of a Job.
type State int

const (
	// Running: output headers not complete yet.
	Running State = iota

	// HeadersReady: header block parsed, body still streaming.
	HeadersReady

	// Completed: EOF after valid headers and a clean exit.
	Completed

	// Failed: no valid headers, read error, bad exit, timeout or abort.
	Failed

	// Sent: the response was handed to the connection.
	Sent
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case HeadersReady:
		return "headers-ready"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Sent:
		return "sent"
	default:
		return "unknown"
	}
}

// Spec describes a script run.
type Spec struct {
	// Path is the script; Interpreter runs it when set.
	Path        string
	Interpreter string

	// Dir is the working directory.
	Dir string

	// Env is the complete environment, see Environ.
	Env []string

	// Body is streamed to the script's stdin.
	Body []byte

	// Timeout bounds the job from spawn to result. Zero means no limit.
	Timeout time.Duration
}

// RegisterFunc hands a pipe end to the event loop and returns the handle
// that owns it from then on.
type RegisterFunc func(fd int, in poller.Interest) (*poller.Handle, error)

// Result is the terminal outcome of a Job.
type Result struct {
	// Response is the script's response for a Completed job.
	Response *http11.Response

	// Status is the failure status (500, 502, 504) when Response is nil.
	Status int

	// Outcome is the metrics label for the job.
	Outcome string

	Err error
}

// Job is one running script.
//
// Stdin is fed from the request body and stdout is parsed as it arrives;
// the two directions progress independently. A job ends when its output
// reaches EOF and its exit status has been collected, when it fails, or
// when its deadline passes. Job is driven by the event loop goroutine only.
type Job struct {
	pid    int
	reaper *Reaper

	stdin  *poller.Handle
	stdout *poller.Handle

	body    []byte
	written int

	raw     []byte
	scanned int
	head    responseHead
	out     []byte
	readBuf []byte

	started  time.Time
	deadline time.Time

	state  State
	eof    bool
	exited bool
	result *Result
}

// Start spawns the script and registers its pipes. An empty body closes
// the script's stdin at once.
//
// On failure the returned error is a *SpawnError and nothing stays
// registered, open or running.
func Start(spec *Spec, register RegisterFunc, reaper *Reaper, now time.Time) (*Job, error) {
	c, err := spawn(spec)
	if c.pid > 0 {
		reaper.Track(c.pid)
	}
	if err != nil {
		if c.pid > 0 {
			reaper.Abandon(c.pid)
		}
		return nil, err
	}

	j := &Job{
		pid:     c.pid,
		reaper:  reaper,
		body:    spec.Body,
		started: now,
		readBuf: make([]byte, readChunk),
	}
	if spec.Timeout > 0 {
		j.deadline = now.Add(spec.Timeout)
	}

	rollback := func(op string, err error) (*Job, error) {
		kill(c.pid)
		reaper.Abandon(c.pid)
		return nil, &SpawnError{Op: op, Err: err}
	}

	j.stdout, err = register(c.stdout, poller.Readable)
	if err != nil {
		unix.Close(c.stdout)
		unix.Close(c.stdin)
		return rollback("register stdout", err)
	}

	if len(spec.Body) == 0 {
		unix.Close(c.stdin)
	} else {
		j.stdin, err = register(c.stdin, poller.Writable)
		if err != nil {
			unix.Close(c.stdin)
			j.stdout.Close()
			return rollback("register stdin", err)
		}
	}

	log.Debugf("Started %s (pid %d, %d body bytes)", spec.Path, c.pid, len(spec.Body))
	return j, nil
}

// Pid returns the child's process id.
func (j *Job) Pid() int { return j.pid }

// State returns the current state.
func (j *Job) State() State { return j.state }

// Started returns the spawn time.
func (j *Job) Started() time.Time { return j.started }

// Deadline returns the time the job times out, zero for none.
func (j *Job) Deadline() time.Time { return j.deadline }

// Done reports whether the job has a result.
func (j *Job) Done() bool { return j.result != nil }

// Result returns the terminal result, nil while the job runs.
func (j *Job) Result() *Result { return j.result }

// AwaitingExit reports whether all output was read and only the exit
// status is missing.
func (j *Job) AwaitingExit() bool { return j.result == nil && j.eof }

// Owns reports whether fd is one of the job's open pipe ends.
func (j *Job) Owns(fd int) bool {
	return fd >= 0 && (j.stdin.Fd() == fd || j.stdout.Fd() == fd)
}

// HandleEvent processes readiness of one of the job's pipes.
func (j *Job) HandleEvent(ev poller.Event, now time.Time) {
	if j.result != nil || j.CheckTimeout(now) {
		return
	}
	switch ev.Fd {
	case j.stdin.Fd():
		j.writeStdin()
	case j.stdout.Fd():
		j.readStdout()
	}
}

// Poll collects the exit status once output is complete and enforces the
// deadline. It reports whether the job is done.
func (j *Job) Poll(now time.Time) bool {
	if j.result != nil {
		return true
	}
	if j.tryFinish() {
		return true
	}
	return j.CheckTimeout(now)
}

// CheckTimeout kills the job if its deadline has passed. It reports
// whether the job timed out now.
func (j *Job) CheckTimeout(now time.Time) bool {
	if j.result != nil || j.deadline.IsZero() || now.Before(j.deadline) {
		return false
	}
	log.Warnf("Script pid %d timed out after %v", j.pid, j.deadline.Sub(j.started))
	j.fail(504, metrics.OutcomeTimeout, ErrTimeout)
	return true
}

// Abort terminates the job without a result being wanted, e.g. because
// the client went away.
func (j *Job) Abort() {
	if j.result != nil {
		j.Release()
		return
	}
	j.fail(0, metrics.OutcomeAborted, errors.New("cgi: aborted"))
}

// MarkSent records that the result was queued on the connection and
// releases the job's resources.
func (j *Job) MarkSent() {
	j.state = Sent
	j.Release()
}

// Release closes both pipe ends. Safe to call repeatedly.
func (j *Job) Release() {
	j.closeStdin()
	j.closeStdout()
	if !j.exited {
		// Already reaped or abandoned children are not touched.
		j.reaper.Abandon(j.pid)
	}
}

func (j *Job) closeStdin() {
	if j.stdin != nil {
		j.stdin.Close()
		j.stdin = nil
	}
}

func (j *Job) closeStdout() {
	if j.stdout != nil {
		j.stdout.Close()
		j.stdout = nil
	}
}

func (j *Job) writeStdin() {
	if j.stdin == nil {
		return
	}
	end := min(j.written+writeChunk, len(j.body))
	n, err := unix.Write(j.stdin.Fd(), j.body[j.written:end])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return
		}
		// The script may still answer without reading its input.
		log.Debugf("Script pid %d stdin: %v", j.pid, err)
		j.closeStdin()
		return
	}
	j.written += n
	if j.written >= len(j.body) {
		j.closeStdin()
	}
}

func (j *Job) readStdout() {
	if j.stdout == nil {
		return
	}
	n, err := unix.Read(j.stdout.Fd(), j.readBuf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return
		}
		j.fail(502, metrics.OutcomeFailed, fmt.Errorf("cgi: read output: %w", err))
		return
	}
	if n == 0 {
		j.closeStdout()
		if j.state == Running {
			j.fail(502, metrics.OutcomeFailed, ErrNoHeaders)
			return
		}
		j.eof = true
		j.tryFinish()
		return
	}

	if j.state != Running {
		j.out = append(j.out, j.readBuf[:n]...)
		return
	}

	j.raw = append(j.raw, j.readBuf[:n]...)
	headerEnd, bodyStart := findSeparator(j.raw, j.scanned-3)
	if headerEnd < 0 {
		j.scanned = len(j.raw)
		if len(j.raw) > MaxHeaderBytes {
			j.fail(502, metrics.OutcomeFailed, ErrHeadersTooLarge)
		}
		return
	}
	head, err := parseHead(j.raw[:headerEnd])
	if err != nil {
		j.fail(502, metrics.OutcomeFailed, err)
		return
	}
	j.head = head
	j.out = append([]byte(nil), j.raw[bodyStart:]...)
	j.raw = nil
	j.state = HeadersReady
}

// tryFinish completes a job whose output hit EOF once the exit status is
// known. A failed exit overrides the script's output.
func (j *Job) tryFinish() bool {
	if j.result != nil {
		return true
	}
	if !j.eof {
		return false
	}
	st, ok := j.reaper.Take(j.pid)
	if !ok {
		return false
	}
	j.exited = true
	j.closeStdin()

	if !st.Success() {
		log.Warnf("Script pid %d ended abnormally: %s", j.pid, st)
		j.fail(500, metrics.OutcomeCrashed, fmt.Errorf("cgi: script %s", st))
		return true
	}

	resp := http11.NewResponse(j.head.status)
	resp.Reason = j.head.reason
	resp.Header = j.head.header
	resp.Body = j.out
	j.state = Completed
	j.result = &Result{Response: resp, Status: j.head.status, Outcome: metrics.OutcomeCompleted}
	return true
}

// fail ends the job with an error status, killing the child if it may
// still be running.
func (j *Job) fail(status int, outcome string, err error) {
	j.closeStdin()
	j.closeStdout()
	if !j.exited {
		if j.reaper.Alive(j.pid) {
			kill(j.pid)
		}
		j.reaper.Abandon(j.pid)
	}
	j.raw, j.out = nil, nil
	j.state = Failed
	j.result = &Result{Status: status, Outcome: outcome, Err: err}
	if status != 0 {
		log.Debugf("Script pid %d failed with %d: %v", j.pid, status, err)
	}
}
