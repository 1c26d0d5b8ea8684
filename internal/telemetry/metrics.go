package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ObjectsEmittedTotal counts objects a module has put onto its send queue.
	ObjectsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recursid_objects_emitted_total",
			Help: "Total number of objects emitted by a module",
		},
		[]string{"module", "kind"},
	)
	// ObjectsHandledTotal counts objects a dispatcher iteration routed to a module.
	ObjectsHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recursid_objects_handled_total",
			Help: "Total number of objects routed to a module by the dispatcher",
		},
		[]string{"module", "kind"},
	)
	// DeathLogsTotal counts DeathLog objects produced, by reason.
	DeathLogsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recursid_death_logs_total",
			Help: "Total number of DeathLog objects produced",
		},
		[]string{"reason"},
	)
	// QueueDepth is a gauge of a module queue's current length.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "recursid_queue_depth",
			Help: "Current number of objects queued for a module",
		},
		[]string{"module", "direction"},
	)
	// DispatchIterationsTotal counts dispatcher iterations, labeled by whether work was found.
	DispatchIterationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recursid_dispatch_iterations_total",
			Help: "Total number of dispatcher iterations",
		},
		[]string{"handled"},
	)
	// CircuitBreakerStatus tracks circuit breaker state (0=closed,1=open,2=half-open).
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "recursid_circuit_breaker_status",
			Help: "Circuit breaker status by service and operation",
		},
		[]string{"service", "operation"},
	)
)

// InitMetrics registers all Prometheus collectors with the default registry.
func InitMetrics() {
	prometheus.MustRegister(
		ObjectsEmittedTotal,
		ObjectsHandledTotal,
		DeathLogsTotal,
		QueueDepth,
		DispatchIterationsTotal,
		CircuitBreakerStatus,
	)
}

// RecordCircuitBreakerStatus records circuit breaker state for a service/operation pair.
func RecordCircuitBreakerStatus(service, operation string, status int) {
	CircuitBreakerStatus.WithLabelValues(service, operation).Set(float64(status))
}

// Handler returns the /metrics HTTP handler. The CLI serves this on a plain
// mux — there is no other inbound HTTP surface in this process, so a router
// dependency buys nothing here.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve runs the metrics HTTP server until ctx is cancelled, then shuts it
// down gracefully.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
