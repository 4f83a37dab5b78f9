// Package metrics exposes the server's Prometheus collectors.
//
// A Recorder is created against an injected registry so tests can use a
// private registry. All Recorder methods are safe on a nil receiver, which
// disables metrics entirely.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "webserv"

// CGI job outcomes, used as the "outcome" label.
const (
	OutcomeCompleted  = "completed"
	OutcomeFailed     = "failed"
	OutcomeTimeout    = "timeout"
	OutcomeCrashed    = "crashed"
	OutcomeSpawnError = "spawn_error"
	OutcomeAborted    = "aborted"
)

// Recorder holds the server collectors.
type Recorder struct {
	gatherer prometheus.Gatherer

	connectionsAccepted prometheus.Counter
	connectionsActive   prometheus.Gauge
	requests            *prometheus.CounterVec
	cgiJobs             *prometheus.CounterVec
	cgiDuration         prometheus.Histogram
	bytesRead           prometheus.Counter
	bytesWritten        prometheus.Counter
}

// New registers the collectors on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Recorder{
		gatherer: reg,

		connectionsAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "accepted_total",
			Help:      "Total number of accepted client connections",
		}),
		connectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "active",
			Help:      "Number of open client connections",
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of responses queued, by status code",
		}, []string{"code"}),
		cgiJobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cgi",
			Name:      "jobs_total",
			Help:      "Total number of CGI jobs, by outcome",
		}, []string{"outcome"}),
		cgiDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cgi",
			Name:      "duration_seconds",
			Help:      "Wall time from CGI spawn to final response",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		bytesRead: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_read_total",
			Help:      "Total bytes read from client sockets",
		}),
		bytesWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Total bytes written to client sockets",
		}),
	}
}

// ConnectionOpened records an accepted connection.
func (r *Recorder) ConnectionOpened() {
	if r == nil {
		return
	}
	r.connectionsAccepted.Inc()
	r.connectionsActive.Inc()
}

// ConnectionClosed records a closed connection.
func (r *Recorder) ConnectionClosed() {
	if r == nil {
		return
	}
	r.connectionsActive.Dec()
}

// Response records a response queued with the given status code.
func (r *Recorder) Response(code int) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(strconv.Itoa(code)).Inc()
}

// CGIJob records a finished CGI job.
func (r *Recorder) CGIJob(outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.cgiJobs.WithLabelValues(outcome).Inc()
	if outcome != OutcomeSpawnError {
		r.cgiDuration.Observe(elapsed.Seconds())
	}
}

// BytesRead adds n bytes read from clients.
func (r *Recorder) BytesRead(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.bytesRead.Add(float64(n))
}

// BytesWritten adds n bytes written to clients.
func (r *Recorder) BytesWritten(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.bytesWritten.Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
