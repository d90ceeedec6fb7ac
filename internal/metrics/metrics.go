// Package metrics exposes process-local Prometheus counters for the query
// manager and an optional loopback /metrics listener.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's counters. Each engine instance owns its own
// set registered against the registry it was built with.
type Metrics struct {
	ConnectionsAssigned prometheus.Counter
	ConnectionsRejected prometheus.Counter
	ConnectionsClosed   prometheus.Counter
	IdleEvictions       prometheus.Counter
	Queries             *prometheus.CounterVec
	QueryFailures       prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsAssigned: factory.NewCounter(prometheus.CounterOpts{
			Name: "querymanager_connections_assigned_total",
			Help: "Connections accepted and assigned to a slot.",
		}),
		ConnectionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "querymanager_connections_rejected_total",
			Help: "Connections rejected for lack of a free slot or a non-loopback source.",
		}),
		ConnectionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "querymanager_connections_closed_total",
			Help: "Connections closed for any reason.",
		}),
		IdleEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "querymanager_idle_evictions_total",
			Help: "Connections closed for exceeding the idle limit.",
		}),
		Queries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "querymanager_queries_total",
			Help: "Queries dispatched, by query code.",
		}, []string{"query"}),
		QueryFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "querymanager_query_failures_total",
			Help: "Queries answered with the failed status.",
		}),
	}
}

// Serve runs a loopback HTTP listener for /metrics until ctx is done.
func Serve(ctx context.Context, port int, reg *prometheus.Registry, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:    net.JoinHostPort("127.0.0.1", fmt.Sprint(port)),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics listener running", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics listener: %w", err)
	}
}
