package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Counters(t *testing.T) {
	c := New()

	c.IncCommandIssued("provision")
	c.IncCommandIssued("provision")
	c.ObserveCommandResult("provision", "matched", 1200*time.Millisecond)
	c.IncResponseDropped("unmatched")
	c.IncReadingIngested("ok")

	if got := testutil.ToFloat64(c.commandsIssued.WithLabelValues("provision")); got != 2 {
		t.Errorf("commands issued = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.commandResults.WithLabelValues("provision", "matched")); got != 1 {
		t.Errorf("command results = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.responsesDropped.WithLabelValues("unmatched")); got != 1 {
		t.Errorf("responses dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.readingsIngested.WithLabelValues("ok")); got != 1 {
		t.Errorf("readings ingested = %v, want 1", got)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.IncCommandIssued("ping")
	c.ObserveCommandResult("ping", "timed_out", time.Second)
	c.IncResponseDropped("malformed")
	c.IncReadingIngested("ok")
	c.RegisterOutstanding(func() int { return 1 })

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("nil Handler() status = %d, want 404", rec.Code)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	outstanding := 3
	c.RegisterOutstanding(func() int { return outstanding })
	c.IncCommandIssued("scan")

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`silowatch_gateway_commands_issued_total{action="scan"} 1`,
		`silowatch_gateway_commands_outstanding 3`,
		`go_goroutines`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
