//go:build linux

package server

import (
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/yourusername/webserv/pkg/webserv/cgi"
	"github.com/yourusername/webserv/pkg/webserv/http11"
	"github.com/yourusername/webserv/pkg/webserv/metrics"
	"github.com/yourusername/webserv/pkg/webserv/poller"
	"github.com/yourusername/webserv/pkg/webserv/route"
)

// ConnState is the protocol state of a connection.
type ConnState int

const (
	// Idle: nothing buffered and nothing to send.
	Idle ConnState = iota

	// ReadingHeader: part of a request line or header section is buffered.
	ReadingHeader

	// ReadingBody: headers are parsed, the body is incomplete.
	ReadingBody

	// WritingResponse: output is queued.
	WritingResponse

	// Closed: the socket is released.
	Closed
)

// String returns a human-readable state name
func (s ConnState) String() string {
	switch s {
	case Idle:
		return "idle"
	case ReadingHeader:
		return "reading-header"
	case ReadingBody:
		return "reading-body"
	case WritingResponse:
		return "writing-response"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// outBuf is one queued write.
type outBuf struct {
	data       []byte
	closeAfter bool
}

// Conn is one client connection.
//
// Responses are queued in request order and written one bounded chunk
// per writable event. While a CGI job runs, or while too much output is
// pending, the connection stops reading and no further pipelined request
// is dispatched.
type Conn struct {
	m      *Manager
	handle *poller.Handle

	port       int
	boundPort  int
	remoteAddr string
	remotePort int

	parser  *http11.Parser
	readBuf []byte

	queue   []outBuf
	pending int

	job    *cgi.Job
	jobReq *http11.Request

	// continueSent is set once 100 Continue is queued for the request
	// currently being read.
	continueSent bool

	// closing stops reading: a response with Connection: close is queued.
	closing bool

	// peerEOF is set when the client shut down its sending side.
	peerEOF bool

	state        ConnState
	lastActivity time.Time
}

func newConn(m *Manager, l *listener, addr string, port int, now time.Time) *Conn {
	c := &Conn{
		m:            m,
		port:         l.port,
		boundPort:    l.bound,
		remoteAddr:   addr,
		remotePort:   port,
		readBuf:      make([]byte, m.global.ReadChunk),
		lastActivity: now,
	}
	c.parser = http11.NewParser(http11.Limits{
		MaxHeaderBytes: m.global.MaxHeaderBytes,
		MaxBodySize:    int64(m.global.MaxBodySize),
		BodyLimit: func(req *http11.Request) int64 {
			return m.router.BodyLimit(req, c.port)
		},
	})
	return c
}

// State returns the protocol state.
func (c *Conn) State() ConnState { return c.state }

func (c *Conn) handleEvent(ev poller.Event, now time.Time) {
	if ev.Err || (ev.Hangup && !ev.Readable) {
		c.close("hangup")
		return
	}
	if ev.Hangup && c.job != nil {
		// No reads happen while the job runs, so the FIN is only seen here.
		c.close("peer closed during cgi")
		return
	}
	if ev.Readable {
		c.OnReadable(now)
	}
	if ev.Writable && c.state != Closed {
		c.OnWritable(now)
	}
}

// OnReadable reads one chunk from the socket and processes every request
// it completes.
func (c *Conn) OnReadable(now time.Time) {
	if !c.readingAllowed() {
		return
	}
	n, err := unix.Read(c.handle.Fd(), c.readBuf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return
		}
		c.close("read: " + err.Error())
		return
	}
	if n == 0 {
		c.peerEOF = true
		if len(c.queue) == 0 && c.job == nil {
			c.close("peer closed")
			return
		}
		c.updateInterest()
		return
	}

	c.lastActivity = now
	c.m.metrics.BytesRead(n)
	c.parser.Feed(c.readBuf[:n])
	c.process(now)
}

// OnWritable writes one chunk of the head of the output queue.
func (c *Conn) OnWritable(now time.Time) {
	if len(c.queue) == 0 {
		c.updateInterest()
		return
	}

	head := &c.queue[0]
	chunk := head.data
	if len(chunk) > c.m.global.WriteChunk {
		chunk = chunk[:c.m.global.WriteChunk]
	}
	n, err := unix.SendmsgN(c.handle.Fd(), chunk, nil, nil, unix.MSG_NOSIGNAL)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return
		}
		c.close("write: " + err.Error())
		return
	}

	c.lastActivity = now
	c.m.metrics.BytesWritten(n)
	head.data = head.data[n:]
	c.pending -= n

	if len(head.data) == 0 {
		closeAfter := head.closeAfter
		c.queue[0] = outBuf{}
		c.queue = c.queue[1:]
		if closeAfter {
			c.close("response sent")
			return
		}
	}

	if len(c.queue) == 0 {
		c.queue = nil
		if c.peerEOF && c.job == nil {
			c.close("peer closed")
			return
		}
		c.state = c.readState()
	}

	// Output drained below the bound: resume pipelined requests.
	c.process(now)
}

// OnCgiPipeEvent forwards readiness of one of the job's pipes.
func (c *Conn) OnCgiPipeEvent(ev poller.Event, now time.Time) {
	if c.job == nil || !c.job.Owns(ev.Fd) {
		return
	}
	c.job.HandleEvent(ev, now)
	c.finishJob(now)
}

// CheckCgiTimeout collects the job's exit status and enforces its
// deadline, queueing the response once the job is done.
func (c *Conn) CheckCgiTimeout(now time.Time) {
	if c.job == nil {
		return
	}
	c.job.Poll(now)
	c.finishJob(now)
}

// CheckIdleTimeout closes the connection, without a response, when
// nothing was read or written for the idle timeout. A connection waiting
// for a CGI job is not idle. It reports whether the connection was closed.
func (c *Conn) CheckIdleTimeout(now time.Time) bool {
	if c.state == Closed || c.job != nil {
		return false
	}
	if now.Sub(c.lastActivity) < c.m.global.IdleTimeout {
		return false
	}
	c.close("idle timeout")
	return true
}

// process dispatches buffered requests until one is incomplete, a CGI job
// starts, the connection is closing or output is over the bound.
func (c *Conn) process(now time.Time) {
	for c.state != Closed && c.job == nil && !c.closing && c.pending <= c.m.global.MaxPendingOutput {
		switch c.parser.State() {
		case http11.StateComplete:
			req := c.parser.Request()
			c.continueSent = false
			c.dispatch(req, now)
			if c.job == nil {
				c.nextRequest()
			}
			continue

		case http11.StateError:
			c.failParse()

		case http11.StateBody:
			if c.parser.Request().ExpectContinue && !c.continueSent {
				c.continueSent = true
				c.enqueue(http11.ContinueResponse(), false)
			}
			if len(c.queue) == 0 {
				c.state = ReadingBody
			}

		default:
			if len(c.queue) == 0 {
				c.state = c.readState()
			}
		}
		break
	}
	c.updateInterest()
}

// readState is the state of a connection with nothing queued.
func (c *Conn) readState() ConnState {
	switch {
	case c.parser.State() == http11.StateBody:
		return ReadingBody
	case c.parser.Buffered() > 0 || c.parser.State() == http11.StateHeaders:
		return ReadingHeader
	default:
		return Idle
	}
}

func (c *Conn) failParse() {
	req := c.parser.Request()
	perr := c.parser.Err()
	status := 400
	if perr != nil {
		status = perr.Status
		log.Debugf("Bad request from %s:%d: %v", c.remoteAddr, c.remotePort, perr)
	}
	resp := c.m.router.ErrorResponse(req, status, c.port)
	resp.Close = true
	c.respond(req, resp)
}

func (c *Conn) dispatch(req *http11.Request, now time.Time) {
	d := c.m.router.Resolve(req, c.port)
	switch d.Kind {
	case route.Serve:
		c.respond(req, d.Response)
	case route.Redirect:
		c.respond(req, route.RedirectResponse(d.Status, d.Location))
	case route.Error:
		resp := c.m.router.ErrorResponse(req, d.Status, c.port)
		if len(d.Allow) > 0 {
			resp.Header.Set(http11.HeaderAllow, strings.Join(d.Allow, ", "))
		}
		c.respond(req, resp)
	case route.ExecuteCGI:
		c.startCGI(req, d.CGI, now)
	default:
		c.respond(req, c.m.router.ErrorResponse(req, 500, c.port))
	}
}

// respond finalizes resp for req and queues it.
func (c *Conn) respond(req *http11.Request, resp *http11.Response) {
	resp.Header.Set(http11.HeaderServer, http11.ServerSoftware)
	c.m.sessions.Apply(req, resp)
	resp.ForRequest(req)
	c.m.metrics.Response(resp.Status)

	c.enqueue(resp.Serialize(), resp.Close)
	if resp.Close {
		c.closing = true
	}
}

func (c *Conn) enqueue(data []byte, closeAfter bool) {
	c.queue = append(c.queue, outBuf{data: data, closeAfter: closeAfter})
	c.pending += len(data)
	c.state = WritingResponse
}

func (c *Conn) startCGI(req *http11.Request, target *route.CGITarget, now time.Time) {
	spec := &cgi.Spec{
		Path:        target.ScriptPath,
		Interpreter: target.Interpreter,
		Dir:         target.Dir,
		Env: cgi.Environ(req, cgi.Meta{
			ServerName:     target.ServerName,
			ServerPort:     c.boundPort,
			RemoteAddr:     c.remoteAddr,
			RemotePort:     c.remotePort,
			ScriptName:     target.ScriptName,
			ScriptFilename: target.ScriptPath,
			PathInfo:       target.PathInfo,
		}),
		Body:    req.Body,
		Timeout: target.Timeout,
	}

	register := func(fd int, in poller.Interest) (*poller.Handle, error) {
		return c.m.registerPipe(c, fd, in)
	}
	job, err := cgi.Start(spec, register, c.m.reaper, now)
	if err != nil {
		log.Errorf("Starting %s: %v", target.ScriptPath, err)
		c.m.metrics.CGIJob(metrics.OutcomeSpawnError, 0)
		resp := c.m.router.ErrorResponse(req, 500, c.port)
		resp.Close = true
		c.respond(req, resp)
		return
	}

	c.job = job
	c.jobReq = req
	c.m.jobStarted(c)
	log.Debugf("CGI %s for %s:%d (pid %d)", target.ScriptName, c.remoteAddr, c.remotePort, job.Pid())
}

// finishJob queues the job's response once it is done and resumes
// processing pipelined requests.
func (c *Conn) finishJob(now time.Time) {
	if c.job == nil || !c.job.Done() {
		return
	}
	job, req := c.job, c.jobReq
	res := job.Result()
	c.m.metrics.CGIJob(res.Outcome, now.Sub(job.Started()))

	resp := res.Response
	if resp == nil {
		resp = c.m.router.ErrorResponse(req, res.Status, c.port)
		resp.Close = true
	}
	c.respond(req, resp)
	job.MarkSent()

	c.job, c.jobReq = nil, nil
	c.m.jobEnded(c)
	c.lastActivity = now
	c.nextRequest()
	c.process(now)
}

// nextRequest starts parsing whatever the client pipelined after the
// request just answered. Not called while a CGI job owns the connection.
func (c *Conn) nextRequest() {
	c.parser.Reset()
	c.parser.Feed(nil)
}

func (c *Conn) readingAllowed() bool {
	return c.state != Closed && c.job == nil && !c.closing && !c.peerEOF &&
		c.pending <= c.m.global.MaxPendingOutput
}

// updateInterest watches for write readiness only while output is queued
// and for read readiness only while reading is allowed.
func (c *Conn) updateInterest() {
	if c.state == Closed {
		return
	}
	var in poller.Interest
	if len(c.queue) > 0 {
		in |= poller.Writable
	}
	if c.readingAllowed() {
		in |= poller.Readable
	}
	if c.job != nil {
		in |= poller.PeerHangup
	}
	if err := c.handle.SetInterest(in); err != nil {
		log.Errorf("Updating interest for %s:%d: %v", c.remoteAddr, c.remotePort, err)
		c.close("poller error")
		return
	}
	if in == 0 {
		// Nothing can make progress any more.
		c.close("stalled")
	}
}

// close releases the socket and terminates an outstanding CGI job.
func (c *Conn) close(reason string) {
	if c.state == Closed {
		return
	}
	c.state = Closed

	if c.job != nil {
		c.job.Abort()
		c.m.metrics.CGIJob(metrics.OutcomeAborted, time.Since(c.job.Started()))
		c.job, c.jobReq = nil, nil
		c.m.jobEnded(c)
	}
	c.queue = nil
	c.pending = 0

	log.Debugf("Closing %s:%d: %s", c.remoteAddr, c.remotePort, reason)
	if err := c.handle.Close(); err != nil {
		log.Debugf("Close %s:%d: %v", c.remoteAddr, c.remotePort, err)
	}
}
