// Package metrics exposes Prometheus metrics on a dedicated listener and
// defines the counters the engine's operations increment.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/soulkeep/encryption-engine/common"
)

// MetricsServer serves /metrics on its own address so the scrape surface
// stays off the API listener.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server on the given listen address. All counters
// live under the common.PackageName namespace.
func New(addr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving metrics until Shutdown.
func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics listener.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

var (
	// OperationsTotal counts engine operations by kind and outcome.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: common.PackageName,
		Name:      "operations_total",
		Help:      "Engine operations by kind and outcome.",
	}, []string{"operation", "outcome"})

	// UnlockFailuresTotal counts rejected unlock attempts.
	UnlockFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: common.PackageName,
		Name:      "unlock_failures_total",
		Help:      "Unlock attempts rejected due to a wrong passphrase.",
	})

	// MigrationEntriesTotal counts migration results by status.
	MigrationEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: common.PackageName,
		Name:      "migration_entries_total",
		Help:      "Entries processed by migration batches, by status.",
	}, []string{"status"})
)

// RecordOperation increments the operation counter with a success/error
// outcome label.
func RecordOperation(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	OperationsTotal.WithLabelValues(operation, outcome).Inc()
}
