/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package watch

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	applog "scriptgraph/internal/log"
)

// Metrics holds the driver's collectors on a private registry so several
// drivers (and tests) never collide on the global one.
type Metrics struct {
	reg *prometheus.Registry

	Builds   *prometheus.CounterVec
	Duration prometheus.Histogram
	Files    prometheus.Gauge
	Passes   prometheus.Counter
	Removed  prometheus.Counter
}

// Build results used as the "result" label.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
	ResultCached = "cached"
)

// NewMetrics creates and registers the driver collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scriptgraph_builds_total",
			Help: "Per-file builds by result",
		}, []string{"result"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scriptgraph_build_duration_seconds",
			Help:    "Time to parse and build one file",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		Files: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scriptgraph_files_tracked",
			Help: "Script files currently tracked by the driver",
		}),
		Passes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scriptgraph_scan_passes_total",
			Help: "Completed directory scans",
		}),
		Removed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scriptgraph_files_removed_total",
			Help: "Script files dropped from the master graph after deletion",
		}),
	}
	m.reg.MustRegister(m.Builds, m.Duration, m.Files, m.Passes, m.Removed)
	return m
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ServeMetrics serves /metrics on addr until ctx is done.
func ServeMetrics(ctx context.Context, addr string, m *Metrics) error {
	l := applog.WithOperation(applog.WithComponent("watch"), "metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	l.Info("metrics listening", slog.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
