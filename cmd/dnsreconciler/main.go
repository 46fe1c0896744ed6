/*
Copyright 2017 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/netgrove/dns-reconciler/internal/config"
	"github.com/netgrove/dns-reconciler/internal/engine"
)

const banner = `
 ____  _   _ ____    ____                            _ _
|  _ \| \ | / ___|  |  _ \ ___  ___ ___  _ __   ___(_) | ___ _ __
| | | |  \| \___ \  | |_) / _ \/ __/ _ \| '_ \ / __| | |/ _ \ '__|
| |_| | |\  |___) | |  _ <  __/ (_| (_) | | | | (__| | |  __/ |
|____/|_| \_|____/  |_| \_\___|\___\___/|_| |_|\___|_|_|\___|_|
`

const metricsAddress = ":7979"

func main() {
	cfg, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("flag parsing error: %v", err)
	}

	configureLogger(cfg)
	log.Info(banner)
	log.Infof("starting on %s against provider %q", config.Hostname(), cfg.DNSProvider)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSigterm(cancel)

	reg := prometheus.NewRegistry()
	go serveMetrics(reg)

	eng, err := engine.New(ctx, cfg, trackerPath(), reg)
	if err != nil {
		log.Fatalf("engine construction failed: %v", err)
	}

	eng.Run(ctx)
	eng.Shutdown()
	log.Info("shut down cleanly")
}

func configureLogger(cfg *config.Config) {
	ll, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to parse log level: %v", err)
	}
	log.SetLevel(ll)
}

// trackerPath resolves the SQLite tracker database location, honoring
// DNS_TRACKER_PATH for operators who want it outside the working
// directory (e.g. a mounted volume in a container).
func trackerPath() string {
	if p := os.Getenv("DNS_TRACKER_PATH"); p != "" {
		return p
	}
	return "dns-reconciler.db"
}

// handleSigterm listens for SIGTERM/SIGINT and triggers the provided
// cancel function to gracefully terminate the engine.
func handleSigterm(cancel func()) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	<-signals
	log.Info("received shutdown signal, terminating...")
	cancel()
}

// serveMetrics starts an HTTP server exposing /healthz and /metrics.
func serveMetrics(reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	log.Debugf("serving healthz and metrics on %s", metricsAddress)
	if err := http.ListenAndServe(metricsAddress, mux); err != nil {
		log.WithError(err).Error("metrics server exited")
	}
}
