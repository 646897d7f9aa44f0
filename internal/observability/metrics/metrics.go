// Package metrics exposes Prometheus collectors for the transfer pipeline,
// the inbound queue and the operator HTTP API.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "safeguard"

var registry = prometheus.NewRegistry()

var (
	httpRequests = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of operator API requests processed.",
		},
		[]string{"handler", "method", "code"},
	)
	httpDuration = promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Operator API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"handler", "method"},
	)
	guardDecisions = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_decisions_total",
			Help:      "Guard verdicts by decision; unavailable marks fail-closed denials.",
		},
		[]string{"decision"},
	)
	transferOutcomes = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_outcomes_total",
			Help:      "Transfer requests by terminal state.",
		},
		[]string{"state"},
	)
	stageDuration = promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Latency of each pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage", "result"},
	)
	queueUpdates = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_updates_total",
			Help:      "Chat updates passed through the inbound queue.",
		},
		[]string{"event"},
	)
	walletThreshold = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "wallet_threshold",
		Help:      "Approval threshold of the configured Safe.",
	})
	walletOwners = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "wallet_owners",
		Help:      "Number of owners of the configured Safe.",
	})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveGuardDecision counts a guard verdict.
func ObserveGuardDecision(decision string) {
	guardDecisions.WithLabelValues(decision).Inc()
}

// ObserveTransferOutcome counts a transfer reaching a terminal state.
func ObserveTransferOutcome(state string) {
	transferOutcomes.WithLabelValues(state).Inc()
}

// ObserveStage records the latency of one pipeline stage.
func ObserveStage(stage string, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	stageDuration.WithLabelValues(stage, result).Observe(duration.Seconds())
}

// ObserveQueueEvent counts published, handled and dropped updates.
func ObserveQueueEvent(event string) {
	queueUpdates.WithLabelValues(event).Inc()
}

// SetWallet publishes the current Safe metadata.
func SetWallet(owners int, threshold uint64) {
	walletOwners.Set(float64(owners))
	walletThreshold.Set(float64(threshold))
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
