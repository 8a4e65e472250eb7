package metric

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r.registry == nil {
		t.Fatal("registry field is nil")
	}
	if r.HandleEvents == nil || r.HandlesActive == nil || r.PersistFailures == nil {
		t.Error("handle metrics not initialized")
	}
	if r.RelayConnections == nil || r.RelayFrames == nil {
		t.Error("relay metrics not initialized")
	}
}

func TestGlobal(t *testing.T) {
	if Global() != Global() {
		t.Error("Global() should return the same instance")
	}
}

func TestHandler(t *testing.T) {
	body := scrape(t, Handler())

	if !strings.Contains(body, "go_goroutines") {
		t.Error("expected go_goroutines metric")
	}
	if !strings.Contains(body, "process_") {
		t.Error("expected process metrics")
	}
}

func TestHandleMetrics(t *testing.T) {
	r := NewRegistry()

	r.HandleOpened("user")
	r.HandleOpened("user")
	r.HandleClosed("user")
	r.HandleEvent("user", "update_sent")
	r.HandleEvent("user", "update_sent")
	r.HandleEvent("user", "sync_received")
	r.PersistFailed("user")

	if got := testutil.ToFloat64(r.HandlesActive.WithLabelValues("user")); got != 1 {
		t.Errorf("handles_active{key=user} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.HandleEvents.WithLabelValues("user", "update_sent")); got != 2 {
		t.Errorf("handle_events_total{update_sent} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.PersistFailures.WithLabelValues("user")); got != 1 {
		t.Errorf("handle_persist_failures_total = %v, want 1", got)
	}

	body := scrape(t, r.Handler())
	if !strings.Contains(body, `sharemesh_handle_events_total{event="sync_received",key="user"} 1`) {
		t.Error("expected sharemesh_handle_events_total for sync_received")
	}
}

func TestRelayMetrics(t *testing.T) {
	r := NewRegistry()

	r.RelayConnOpened()
	r.RelayConnOpened()
	r.RelayConnClosed()
	r.RecordRelayFrame("pub")
	r.RecordRelayFrame("pub")
	r.RecordRelayFrame("sub")
	r.SetRelayTopics(3)

	body := scrape(t, r.Handler())

	for _, want := range []string{
		"sharemesh_relay_connections 1",
		`sharemesh_relay_frames_total{op="pub"} 2`,
		`sharemesh_relay_frames_total{op="sub"} 1`,
		"sharemesh_relay_topics 3",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %s", want)
		}
	}
}

func TestRequestMetrics(t *testing.T) {
	r := NewRegistry()

	r.RecordRequest("GET", "/healthz", "200")
	r.ObserveRequestDuration("GET", "/healthz", 0.005)
	r.ObserveRequestDuration("GET", "/healthz", 0.010)

	body := scrape(t, r.Handler())

	if !strings.Contains(body, `sharemesh_requests_total{method="GET",path="/healthz",status="200"} 1`) {
		t.Error("expected sharemesh_requests_total for GET /healthz")
	}
	if !strings.Contains(body, `sharemesh_request_duration_seconds_count{method="GET",path="/healthz"} 2`) {
		t.Error("expected sharemesh_request_duration_seconds_count 2")
	}
}

func TestConcurrentMetricUpdates(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.HandleOpened("k")
				r.HandleEvent("k", "update_received")
				r.RecordRelayFrame("msg")
				r.HandleClosed("k")
			}
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(r.HandleEvents.WithLabelValues("k", "update_received")); got != 1000 {
		t.Errorf("events = %v, want 1000", got)
	}
	if got := testutil.ToFloat64(r.HandlesActive.WithLabelValues("k")); got != 0 {
		t.Errorf("active = %v, want 0", got)
	}
}
