package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker reports whether the ext_proc server is ready to accept
// streams. A nil checker is treated as always-healthy.
type HealthChecker func() error

// NewAdminHandler serves the two endpoints the admin listener exposes:
// /healthz for liveness/readiness probes and /metrics for Prometheus
// scraping. Everything else 404s.
func NewAdminHandler(registry *prometheus.Registry, check HealthChecker) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	return mux
}
