// Command proxy runs a caching HTTP/1.0 forwarding proxy on the given
// port.
//
// Usage:
//
//	proxy <port> [-v] [--metrics-addr host:port]
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/zyedidia/webproxy/proxy"
)

func main() {
	var (
		verbose     bool
		metricsAddr string
	)
	flag.BoolVarP(&verbose, "verbose", "v", false, "log per-request errors to stderr")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s <port> [-v]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	port := flag.Arg(0)

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	if verbose {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	reg := prometheus.NewRegistry()
	p := proxy.New(proxy.Config{
		Logger:     logger,
		Registerer: reg,
	})

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				level.Error(logger).Log("msg", "metrics listener failed", "err", err)
			}
		}()
	}

	level.Info(logger).Log("msg", "proxy listening", "port", port)
	if err := p.ListenAndServe(":" + port); err != nil {
		level.Error(logger).Log("msg", "proxy exited", "err", err)
		os.Exit(1)
	}
}
