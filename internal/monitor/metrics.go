// Package monitor exposes the bridge's own operational counters over a
// Prometheus endpoint. Device telemetry does not pass through here; these
// count the machinery around it.
package monitor

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Collections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "station_bridge",
		Name:      "collections_total",
		Help:      "Collection attempts per adapter.",
	}, []string{"adapter"})

	CollectErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "station_bridge",
		Name:      "collect_errors_total",
		Help:      "Failed collection cycles per adapter.",
	}, []string{"adapter"})

	Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "station_bridge",
		Name:      "reconnect_attempts_total",
		Help:      "Reconnection attempts per adapter.",
	}, []string{"adapter"})

	MetricsForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "station_bridge",
		Name:      "metrics_forwarded_total",
		Help:      "Metrics forwarded to the output stream.",
	})

	MetricsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "station_bridge",
		Name:      "metrics_dropped_total",
		Help:      "Metrics evicted or dropped under output backpressure.",
	})

	CommandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "station_bridge",
		Name:      "commands_executed_total",
		Help:      "Cloud commands executed, by outcome.",
	}, []string{"result"})
)

// Serve runs the /metrics endpoint until ctx is canceled. Intended to be
// launched as a goroutine by the bridge binary; listen errors are logged,
// not fatal.
func Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("monitor: metrics endpoint: %v", err)
	}
}
