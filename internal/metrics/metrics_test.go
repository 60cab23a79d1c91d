package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Delivery("messenger", "accepted")
	m.Event("applied")
	m.Conflict()
	m.Send("messenger", "ok")
	m.Order("created")
	m.AckTimeout()
	m.QueueAdd(1)
	m.JanitorRun("prune_events", "ok")
}

func TestCounters(t *testing.T) {
	m := New()
	m.Delivery("messenger", "accepted")
	m.Delivery("messenger", "accepted")
	m.Conflict()

	if got := testutil.ToFloat64(m.Deliveries.WithLabelValues("messenger", "accepted")); got != 2 {
		t.Errorf("deliveries = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Conflicts); got != 1 {
		t.Errorf("conflicts = %v, want 1", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.Send("slack", "ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{`orderbot_outbound_sends_total{provider="slack",result="ok"} 1`, "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
