// Command webserv is a single-threaded HTTP/1.1 server for static files
// and CGI scripts.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/dapr/kit/logger"
	"github.com/dapr/kit/signals"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/webserv/pkg/webserv/config"
	"github.com/yourusername/webserv/pkg/webserv/metrics"
	"github.com/yourusername/webserv/pkg/webserv/route"
	"github.com/yourusername/webserv/pkg/webserv/server"
	"github.com/yourusername/webserv/pkg/webserv/session"
)

var log = logger.NewLogger("webserv")

const metricsShutdownTimeout = 5 * time.Second

func main() {
	opts := newOptions(os.Args[1:])

	if err := logger.ApplyOptionsToLoggers(&opts.Logger); err != nil {
		log.Fatal(err)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		log.Errorf("Invalid configuration: %v", err)
		os.Exit(1)
	}
	if opts.MetricsAddr != "" {
		cfg.Global.MetricsAddr = opts.MetricsAddr
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.New(reg)

	mgr, err := server.New(server.Options{
		Config:   cfg,
		Router:   route.NewTable(cfg),
		Sessions: session.NewStore(cfg.Global.SessionCapacity, cfg.Global.SessionTTL),
		Metrics:  rec,
	})
	if err != nil {
		log.Errorf("Startup failed: %v", err)
		os.Exit(1)
	}
	log.Infof("Starting %d listener(s), log level %s", len(mgr.Ports()), opts.Logger.OutputLevel)

	g, ctx := errgroup.WithContext(signals.Context())
	g.Go(func() error {
		return mgr.Run(ctx)
	})

	if addr := cfg.Global.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", rec.Handler())
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Infof("Metrics on http://%s/metrics", addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Info("webserv shut down gracefully")
}
