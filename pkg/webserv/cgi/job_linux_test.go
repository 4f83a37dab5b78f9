//go:build linux

package cgi

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/webserv/pkg/webserv/metrics"
	"github.com/yourusername/webserv/pkg/webserv/poller"
)

type harness struct {
	t      *testing.T
	loop   *poller.EventLoop
	reaper *Reaper
	dir    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	loop, err := poller.New()
	require.NoError(t, err)
	t.Cleanup(func() { loop.Close() })
	return &harness{t: t, loop: loop, reaper: NewReaper(), dir: t.TempDir()}
}

func (h *harness) register(fd int, in poller.Interest) (*poller.Handle, error) {
	return h.loop.Own(fd, in, nil)
}

func (h *harness) script(body string) string {
	h.t.Helper()
	p := filepath.Join(h.dir, "script.sh")
	require.NoError(h.t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func (h *harness) start(script string, body []byte, timeout time.Duration) *Job {
	h.t.Helper()
	job, err := Start(&Spec{
		Path:        h.script(script),
		Interpreter: "/bin/sh",
		Dir:         h.dir,
		Env:         []string{"PATH=" + DefaultPath},
		Body:        body,
		Timeout:     timeout,
	}, h.register, h.reaper, time.Now())
	require.NoError(h.t, err)
	return job
}

// run drives the job the way the server loop does until it has a result.
func (h *harness) run(job *Job) *Result {
	h.t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !job.Done() {
		require.True(h.t, time.Now().Before(deadline), "job did not finish")
		events, err := h.loop.Wait(10 * time.Millisecond)
		require.NoError(h.t, err)
		for _, ev := range events {
			if job.Owns(ev.Fd) {
				job.HandleEvent(ev, time.Now())
			}
		}
		h.reaper.Poll()
		job.Poll(time.Now())
	}
	return job.Result()
}

func TestJobRoundTrip(t *testing.T) {
	h := newHarness(t)
	job := h.start("printf 'Status: 201 Created\\r\\nX-Foo: bar\\r\\n\\r\\n'; cat", []byte("echo me"), 5*time.Second)
	assert.Equal(t, Running, job.State())

	res := h.run(job)
	require.NotNil(t, res.Response)
	assert.Equal(t, Completed, job.State())
	assert.Equal(t, metrics.OutcomeCompleted, res.Outcome)
	assert.Equal(t, 201, res.Response.Status)
	assert.Equal(t, "Created", res.Response.Reason)
	assert.Equal(t, "bar", res.Response.Header.Get("X-Foo"))
	assert.False(t, res.Response.Header.Has("Status"))
	assert.Equal(t, "echo me", string(res.Response.Body))

	job.MarkSent()
	assert.Equal(t, Sent, job.State())
	assert.Equal(t, 0, h.loop.Registered())
}

func TestJobLargeBodyStreamsBothWays(t *testing.T) {
	h := newHarness(t)
	body := []byte(strings.Repeat("0123456789abcdef", 64<<10)) // 1 MiB, larger than a pipe buffer
	job := h.start("printf 'Content-Type: text/plain\\n\\n'; cat", body, 10*time.Second)

	res := h.run(job)
	require.NotNil(t, res.Response)
	assert.Equal(t, 200, res.Response.Status)
	assert.Equal(t, len(body), len(res.Response.Body))
	assert.Equal(t, body, res.Response.Body)
}

func TestJobNonZeroExitOverridesOutput(t *testing.T) {
	h := newHarness(t)
	job := h.start("printf 'Content-Type: text/plain\\r\\n\\r\\nfine'; exit 2", nil, 5*time.Second)

	res := h.run(job)
	assert.Nil(t, res.Response)
	assert.Equal(t, 500, res.Status)
	assert.Equal(t, metrics.OutcomeCrashed, res.Outcome)
	assert.Equal(t, Failed, job.State())
}

func TestJobNoHeaders(t *testing.T) {
	h := newHarness(t)
	job := h.start("printf 'just text without a blank line'", nil, 5*time.Second)

	res := h.run(job)
	assert.Equal(t, 502, res.Status)
	assert.ErrorIs(t, res.Err, ErrNoHeaders)
	assert.Equal(t, 0, h.loop.Registered())
}

func TestJobMalformedHeaders(t *testing.T) {
	h := newHarness(t)
	job := h.start("printf 'not a header\\n\\nbody'", nil, 5*time.Second)

	res := h.run(job)
	assert.Equal(t, 502, res.Status)
	assert.ErrorIs(t, res.Err, ErrMalformedHeaders)
}

func TestJobTimeout(t *testing.T) {
	h := newHarness(t)
	start := time.Now()
	job := h.start("printf 'X-A: b\\n\\npartial'; sleep 30", nil, 300*time.Millisecond)

	res := h.run(job)
	elapsed := time.Since(start)
	assert.Equal(t, 504, res.Status)
	assert.ErrorIs(t, res.Err, ErrTimeout)
	assert.Equal(t, metrics.OutcomeTimeout, res.Outcome)
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, 3*time.Second)
	assert.Equal(t, 0, h.loop.Registered())

	// The killed child is still reaped.
	require.Eventually(t, func() bool {
		h.reaper.Poll()
		return h.reaper.Running() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestJobIgnoresUnreadStdin(t *testing.T) {
	h := newHarness(t)
	body := []byte(strings.Repeat("x", 1<<20))
	job := h.start("exec 0<&-; printf 'Status: 200 OK\\n\\nignored input'", body, 5*time.Second)

	res := h.run(job)
	require.NotNil(t, res.Response)
	assert.Equal(t, "ignored input", string(res.Response.Body))
}

func TestJobAbort(t *testing.T) {
	h := newHarness(t)
	job := h.start("sleep 30", []byte("data"), 0)
	assert.True(t, job.Deadline().IsZero())

	job.Abort()
	require.True(t, job.Done())
	assert.Equal(t, metrics.OutcomeAborted, job.Result().Outcome)
	assert.Equal(t, 0, h.loop.Registered())

	require.Eventually(t, func() bool {
		h.reaper.Poll()
		return h.reaper.Running() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestJobOwnsOnlyOpenPipes(t *testing.T) {
	h := newHarness(t)
	job := h.start("sleep 30", []byte("data"), 0)
	stdin, stdout := job.stdin.Fd(), job.stdout.Fd()
	require.GreaterOrEqual(t, stdin, 0)
	require.GreaterOrEqual(t, stdout, 0)

	assert.True(t, job.Owns(stdin))
	assert.True(t, job.Owns(stdout))
	assert.False(t, job.Owns(-1))
	assert.False(t, job.Owns(1<<20))

	job.Abort()
	assert.False(t, job.Owns(stdin))
	assert.False(t, job.Owns(stdout))
}

func TestStartSpawnError(t *testing.T) {
	h := newHarness(t)
	_, err := Start(&Spec{Path: filepath.Join(h.dir, "missing")}, h.register, h.reaper, time.Now())

	var se *SpawnError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "fork/exec", se.Op)
	assert.Equal(t, 0, h.loop.Registered())
	assert.Equal(t, 0, h.reaper.Running())
}

func TestStartRegisterError(t *testing.T) {
	h := newHarness(t)
	failing := func(fd int, in poller.Interest) (*poller.Handle, error) {
		return nil, poller.ErrClosed
	}
	_, err := Start(&Spec{
		Path:        h.script("sleep 30"),
		Interpreter: "sh",
		Env:         []string{"PATH=" + DefaultPath},
	}, failing, h.reaper, time.Now())

	var se *SpawnError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, poller.ErrClosed)

	require.Eventually(t, func() bool {
		h.reaper.Poll()
		return h.reaper.Running() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "headers-ready", HeadersReady.String())
	assert.Equal(t, "sent", Sent.String())
	assert.Equal(t, "unknown", State(42).String())
}
