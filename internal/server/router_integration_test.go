package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gavv/httpexpect/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// TestAdminHandlerHTTPExpect drives the admin mux through an in-process
// httptest.Server, exercising /healthz and /metrics the way a real client
// would rather than by calling the handler directly.
func TestAdminHandlerHTTPExpect(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "admin_probe_total"})
	counter.Inc()
	reg.MustRegister(counter)

	ready := true
	handler := NewAdminHandler(reg, func() error {
		if ready {
			return nil
		}
		return errors.New("not ready")
	})

	srv := httptest.NewServer(handler)
	defer srv.Close()

	e := httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  srv.URL,
		Client:   srv.Client(),
		Reporter: httpexpect.NewRequireReporter(t),
	})

	e.GET("/healthz").Expect().Status(http.StatusOK)

	e.GET("/metrics").Expect().
		Status(http.StatusOK).
		Body().Contains("admin_probe_total")

	ready = false
	e.GET("/healthz").Expect().Status(http.StatusServiceUnavailable)

	e.GET("/unsupported").Expect().Status(http.StatusNotFound)
}
