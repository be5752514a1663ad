package metrics

import (
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestRecorderConfigSucceeded(t *testing.T) {
	rec := NewRecorder(nil, "kuadrant")
	rec.ConfigSucceeded()
	rec.ConfigSucceeded()

	families := gather(t, rec, "kuadrant_configs")
	metric := families["kuadrant_configs"][0]
	if got := metric.GetCounter().GetValue(); got != 2 {
		t.Fatalf("expected counter value 2, got %v", got)
	}
}

func TestRecorderHostnameLookup(t *testing.T) {
	rec := NewRecorder(nil, "kuadrant")
	rec.HostnameLookup("example.com", true)
	rec.HostnameLookup("other.com", false)

	families := gather(t, rec, "kuadrant_hits", "kuadrant_misses")

	hit := findMetric(t, families["kuadrant_hits"], map[string]string{"hostname": "example.com"})
	if hit.GetCounter().GetValue() != 1 {
		t.Fatalf("expected hit counter 1")
	}
	miss := findMetric(t, families["kuadrant_misses"], map[string]string{"hostname": "other.com"})
	if miss.GetCounter().GetValue() != 1 {
		t.Fatalf("expected miss counter 1")
	}
}

func TestRecorderTerminalDecision(t *testing.T) {
	rec := NewRecorder(nil, "kuadrant")
	rec.TerminalDecision("default", true)
	rec.TerminalDecision("default", false)
	rec.TerminalDecision("default", false)

	families := gather(t, rec, "kuadrant_allowed", "kuadrant_denied")

	allowed := findMetric(t, families["kuadrant_allowed"], map[string]string{"action_set": "default"})
	if allowed.GetCounter().GetValue() != 1 {
		t.Fatalf("expected allowed counter 1")
	}
	denied := findMetric(t, families["kuadrant_denied"], map[string]string{"action_set": "default"})
	if denied.GetCounter().GetValue() != 2 {
		t.Fatalf("expected denied counter 2")
	}
}

func TestRecorderTaskFailed(t *testing.T) {
	rec := NewRecorder(nil, "kuadrant")
	rec.TaskFailed("auth")

	families := gather(t, rec, "kuadrant_errors")
	errMetric := findMetric(t, families["kuadrant_errors"], map[string]string{"task": "auth"})
	if errMetric.GetCounter().GetValue() != 1 {
		t.Fatalf("expected error counter 1")
	}
}

func TestRecorderHandler(t *testing.T) {
	rec := NewRecorder(nil, "kuadrant")
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)

	rec.Handler().ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200 response, got %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Fatalf("expected response body")
	}
}

func gather(t *testing.T, rec *Recorder, names ...string) map[string][]*dto.Metric {
	t.Helper()
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	families, err := rec.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	collected := make(map[string][]*dto.Metric, len(names))
	for _, mf := range families {
		if !wanted[mf.GetName()] {
			continue
		}
		collected[mf.GetName()] = append(collected[mf.GetName()], mf.GetMetric()...)
	}
	for _, name := range names {
		if len(collected[name]) == 0 {
			t.Fatalf("metric %q not collected", name)
		}
	}
	return collected
}

func findMetric(t *testing.T, metrics []*dto.Metric, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, metric := range metrics {
		if matchLabels(metric, labels) {
			return metric
		}
	}
	t.Fatalf("metric with labels %v not found", labels)
	return nil
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) < len(labels) {
		return false
	}
	for key, expected := range labels {
		found := false
		for _, label := range metric.GetLabel() {
			if label.GetName() == key && label.GetValue() == expected {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
