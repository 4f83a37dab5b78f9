//go:build linux

// Package server runs the event loop: it owns the listening sockets, the
// client connections and the CGI pipe registrations, and dispatches every
// readiness event to its owner.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dapr/kit/logger"
	"golang.org/x/sys/unix"

	"github.com/yourusername/webserv/pkg/webserv/cgi"
	"github.com/yourusername/webserv/pkg/webserv/config"
	"github.com/yourusername/webserv/pkg/webserv/metrics"
	"github.com/yourusername/webserv/pkg/webserv/poller"
	"github.com/yourusername/webserv/pkg/webserv/route"
	"github.com/yourusername/webserv/pkg/webserv/session"
	"github.com/yourusername/webserv/pkg/webserv/socket"
)

var log = logger.NewLogger("webserv.server")

const (
	// maxAcceptsPerEvent bounds the accept loop of one listener event.
	maxAcceptsPerEvent = 64

	// exitPollInterval is how often the loop wakes up while a job has
	// finished its output but its exit status is not known yet.
	exitPollInterval = 5 * time.Millisecond

	// shutdownReapTimeout bounds the wait for killed children on shutdown.
	shutdownReapTimeout = time.Second
)

// Options configures a Manager.
type Options struct {
	// Config must have defaults applied and be valid.
	Config *config.Config

	// Router resolves requests. Nil builds a route.Table from Config.
	Router route.Router

	// Sessions issues session cookies. Nil disables sessions.
	Sessions *session.Store

	// Metrics records collectors. Nil disables metrics.
	Metrics *metrics.Recorder

	// Socket tunes accepted connections and listeners. Nil uses
	// socket.DefaultConfig.
	Socket *socket.Config
}

// Stats is a snapshot of the manager's registries.
type Stats struct {
	Accepted    uint64
	Connections int64
	CGIPipes    int64
	Jobs        int64
}

type listener struct {
	handle *poller.Handle
	host   string

	// port is the configured port, used for routing; bound is the port
	// actually bound, reported to scripts.
	port  int
	bound int
}

// Manager is the single-threaded connection manager.
//
// All registries are owned by the goroutine running Run. Only Stats and
// the context passed to Run may be used from other goroutines.
type Manager struct {
	global   config.Global
	router   route.Router
	sessions *session.Store
	metrics  *metrics.Recorder
	sockCfg  *socket.Config

	loop   *poller.EventLoop
	reaper *cgi.Reaper

	listeners map[int]*listener
	order     []*listener
	clients   map[int]*Conn
	cgiPipes  map[int]*Conn // back-references; the job owns the pipe
	jobs      map[*Conn]struct{}

	accepted    atomic.Uint64
	connections atomic.Int64
	pipes       atomic.Int64
	running     atomic.Int64

	closeOnce sync.Once
}

// New creates the event loop and binds every configured listener, so the
// bound ports are known before Run.
func New(opts Options) (*Manager, error) {
	if opts.Config == nil {
		return nil, errors.New("server: nil config")
	}
	router := opts.Router
	if router == nil {
		router = route.NewTable(opts.Config)
	}
	sockCfg := opts.Socket
	if sockCfg == nil {
		sockCfg = socket.DefaultConfig()
	}

	loop, err := poller.New()
	if err != nil {
		return nil, err
	}

	m := &Manager{
		global:    opts.Config.Global,
		router:    router,
		sessions:  opts.Sessions,
		metrics:   opts.Metrics,
		sockCfg:   sockCfg,
		loop:      loop,
		reaper:    cgi.NewReaper(),
		listeners: make(map[int]*listener),
		clients:   make(map[int]*Conn),
		cgiPipes:  make(map[int]*Conn),
		jobs:      make(map[*Conn]struct{}),
	}

	seen := make(map[string]bool)
	for _, s := range opts.Config.Servers {
		key := s.Host + ":" + strconv.Itoa(s.Port)
		if seen[key] {
			continue
		}
		seen[key] = true
		if err := m.listen(s.Host, s.Port); err != nil {
			m.Close()
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) listen(host string, port int) error {
	fd, bound, err := socket.Listen(host, port, m.global.Backlog, m.sockCfg)
	if err != nil {
		return fmt.Errorf("server: listen %s:%d: %w", host, port, err)
	}
	h, err := m.loop.Own(fd, poller.Readable, func(fd int) { delete(m.listeners, fd) })
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("server: register listener %s:%d: %w", host, port, err)
	}
	l := &listener{handle: h, host: host, port: port, bound: bound}
	m.listeners[fd] = l
	m.order = append(m.order, l)
	log.Infof("Listening on %s:%d", host, bound)
	return nil
}

// Ports returns the bound listener ports in configuration order.
func (m *Manager) Ports() []int {
	ports := make([]int, 0, len(m.order))
	for _, l := range m.order {
		ports = append(ports, l.bound)
	}
	return ports
}

// Stats returns a snapshot of the registries. Safe for concurrent use.
func (m *Manager) Stats() Stats {
	return Stats{
		Accepted:    m.accepted.Load(),
		Connections: m.connections.Load(),
		CGIPipes:    m.pipes.Load(),
		Jobs:        m.running.Load(),
	}
}

// Run serves until ctx is cancelled, then shuts down: listeners are
// closed, connections are closed with their CGI children killed, and the
// event loop is released. It returns nil after a cancellation and an
// error only if the event loop itself fails.
func (m *Manager) Run(ctx context.Context) error {
	stop := make(chan struct{})
	var wg sync.WaitGroup

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGCHLD)

	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-sigCh:
				_ = m.loop.Wake()
			case <-stop:
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			_ = m.loop.Wake()
		case <-stop:
		}
	}()

	defer func() {
		signal.Stop(sigCh)
		close(stop)
		wg.Wait()
		m.Close()
	}()

	now := time.Now()
	lastSweep := now
	for ctx.Err() == nil {
		events, err := m.loop.Wait(m.waitTimeout(now, lastSweep))
		if err != nil {
			return fmt.Errorf("server: event loop: %w", err)
		}
		now = time.Now()

		for _, ev := range events {
			if !m.loop.Valid(ev) {
				continue
			}
			m.dispatch(ev, now)
		}

		m.reaper.Poll()
		m.checkJobs(now)

		if now.Sub(lastSweep) >= m.global.SweepInterval {
			m.sweepIdle(now)
			lastSweep = now
		}
	}
	log.Info("Shutting down")
	return nil
}

// waitTimeout returns how long Wait may block: until the next idle sweep,
// the nearest CGI deadline or the next exit-status poll.
func (m *Manager) waitTimeout(now, lastSweep time.Time) time.Duration {
	d := m.global.SweepInterval - now.Sub(lastSweep)
	for c := range m.jobs {
		if c.job.AwaitingExit() {
			d = min(d, exitPollInterval)
		}
		if dl := c.job.Deadline(); !dl.IsZero() {
			d = min(d, dl.Sub(now))
		}
	}
	return max(d, 0)
}

func (m *Manager) dispatch(ev poller.Event, now time.Time) {
	if l, ok := m.listeners[ev.Fd]; ok {
		m.accept(l, now)
		return
	}
	if c, ok := m.clients[ev.Fd]; ok {
		c.handleEvent(ev, now)
		return
	}
	if c, ok := m.cgiPipes[ev.Fd]; ok {
		c.OnCgiPipeEvent(ev, now)
	}
}

func (m *Manager) accept(l *listener, now time.Time) {
	for i := 0; i < maxAcceptsPerEvent; i++ {
		fd, addr, port, err := socket.Accept(l.handle.Fd())
		if err != nil {
			switch err {
			case unix.EAGAIN:
			case unix.EINTR, unix.ECONNABORTED:
				continue
			case unix.EMFILE, unix.ENFILE:
				log.Warnf("Accept on port %d: %v", l.bound, err)
			default:
				log.Errorf("Accept on port %d: %v", l.bound, err)
			}
			return
		}

		if err := socket.Apply(fd, m.sockCfg); err != nil {
			log.Debugf("Tuning fd %d: %v", fd, err)
		}

		c := newConn(m, l, addr, port, now)
		h, err := m.loop.Own(fd, poller.Readable, m.releaseClient)
		if err != nil {
			log.Errorf("Register client %s:%d: %v", addr, port, err)
			unix.Close(fd)
			continue
		}
		c.handle = h
		m.clients[fd] = c

		m.accepted.Add(1)
		m.connections.Add(1)
		m.metrics.ConnectionOpened()
		log.Debugf("Accepted %s:%d on port %d (fd %d)", addr, port, l.bound, fd)
	}
}

func (m *Manager) releaseClient(fd int) {
	delete(m.clients, fd)
	m.connections.Add(-1)
	m.metrics.ConnectionClosed()
}

// registerPipe registers a CGI pipe end on behalf of c.
func (m *Manager) registerPipe(c *Conn, fd int, in poller.Interest) (*poller.Handle, error) {
	h, err := m.loop.Own(fd, in, m.releasePipe)
	if err != nil {
		return nil, err
	}
	m.cgiPipes[fd] = c
	m.pipes.Add(1)
	return h, nil
}

func (m *Manager) releasePipe(fd int) {
	delete(m.cgiPipes, fd)
	m.pipes.Add(-1)
}

func (m *Manager) jobStarted(c *Conn) {
	m.jobs[c] = struct{}{}
	m.running.Add(1)
}

func (m *Manager) jobEnded(c *Conn) {
	if _, ok := m.jobs[c]; ok {
		delete(m.jobs, c)
		m.running.Add(-1)
	}
}

// checkJobs reconciles exit statuses and deadlines of every running job.
func (m *Manager) checkJobs(now time.Time) {
	for c := range m.jobs {
		c.CheckCgiTimeout(now)
	}
}

func (m *Manager) sweepIdle(now time.Time) {
	for _, c := range m.clients {
		c.CheckIdleTimeout(now)
	}
}

// Close releases everything the manager owns. Run calls it on return; it
// is only needed directly when Run is never called. Safe to call twice.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		for _, l := range m.order {
			l.handle.Close()
		}
		for _, c := range m.clients {
			c.close("shutdown")
		}

		// Killed children are reaped so none is left as a zombie.
		deadline := time.Now().Add(shutdownReapTimeout)
		for m.reaper.Running() > 0 && time.Now().Before(deadline) {
			m.reaper.Poll()
			if m.reaper.Running() > 0 {
				time.Sleep(exitPollInterval)
			}
		}
		if n := m.reaper.Running(); n > 0 {
			log.Warnf("%d CGI children not reaped at shutdown", n)
		}

		m.loop.Close()
	})
}
