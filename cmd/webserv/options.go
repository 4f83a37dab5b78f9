package main

import (
	"github.com/dapr/kit/logger"
	"github.com/spf13/pflag"
)

// options are the command line flags.
type options struct {
	ConfigPath  string
	MetricsAddr string
	Logger      logger.Options
}

func newOptions(args []string) *options {
	var opts options

	fs := pflag.NewFlagSet("webserv", pflag.ExitOnError)
	fs.SortFlags = true

	fs.StringVarP(&opts.ConfigPath, "config", "c", "", "Path to the YAML configuration file; empty serves ./www on port 8080")
	fs.StringVar(&opts.MetricsAddr, "metrics-addr", "", "Address of the Prometheus endpoint, e.g. 127.0.0.1:9090; overrides global.metrics_addr")

	opts.Logger = logger.DefaultOptions()
	opts.Logger.AttachCmdFlags(fs.StringVar, fs.BoolVar)

	// Ignore errors; flagset is set for ExitOnError
	_ = fs.Parse(args)

	return &opts
}
