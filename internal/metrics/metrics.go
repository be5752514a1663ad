package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder publishes the Prometheus counters documented for the pipeline:
// configs (successful configure), hits/misses (hostname lookup outcome),
// allowed/denied (terminal pipeline decision), errors (task failure).
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	configs *prometheus.CounterVec
	hits    *prometheus.CounterVec
	misses  *prometheus.CounterVec
	allowed *prometheus.CounterVec
	denied  *prometheus.CounterVec
	errors  *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder under the given
// namespace. When reg is nil a dedicated registry is created so multiple
// recorders can coexist without conflicting with the global registerer.
func NewRecorder(reg *prometheus.Registry, namespace string) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if namespace == "" {
		namespace = "kuadrant"
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}

	r := &Recorder{
		configs: counter("configs", "Successful configuration loads."),
		hits:    counter("hits", "Hostname lookups that matched an action set.", "hostname"),
		misses:  counter("misses", "Hostname lookups with no matching action set.", "hostname"),
		allowed: counter("allowed", "Pipelines that reached a terminal allow.", "action_set"),
		denied:  counter("denied", "Pipelines that reached a terminal deny.", "action_set"),
		errors:  counter("errors", "Task failures.", "task"),
	}

	reg.MustRegister(r.configs, r.hits, r.misses, r.allowed, r.denied, r.errors)
	r.gatherer = reg
	r.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return r
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ConfigSucceeded records a successful configure call.
func (r *Recorder) ConfigSucceeded() {
	if r == nil {
		return
	}
	r.configs.WithLabelValues().Inc()
}

// HostnameLookup records whether a hostname lookup against the action-set
// index matched.
func (r *Recorder) HostnameLookup(hostname string, matched bool) {
	if r == nil {
		return
	}
	if matched {
		r.hits.WithLabelValues(hostname).Inc()
		return
	}
	r.misses.WithLabelValues(hostname).Inc()
}

// TerminalDecision records the final allow/deny outcome of a pipeline run.
func (r *Recorder) TerminalDecision(actionSet string, allowed bool) {
	if r == nil {
		return
	}
	if allowed {
		r.allowed.WithLabelValues(actionSet).Inc()
		return
	}
	r.denied.WithLabelValues(actionSet).Inc()
}

// TaskFailed records a task failure, labeled by the failing task's ID.
func (r *Recorder) TaskFailed(task string) {
	if r == nil {
		return
	}
	r.errors.WithLabelValues(task).Inc()
}
