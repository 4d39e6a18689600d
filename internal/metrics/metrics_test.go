package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordPage(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	m.RecordPage("explorer", nil, 0.1)
	m.RecordPage("explorer", nil, 0.2)
	m.RecordPage("explorer", errors.New("boom"), 0.3)
	m.IncRetry("explorer")

	if got := testutil.ToFloat64(m.pages.WithLabelValues("explorer", StatusSuccess)); got != 2 {
		t.Fatalf("success pages = %v", got)
	}
	if got := testutil.ToFloat64(m.pages.WithLabelValues("explorer", StatusError)); got != 1 {
		t.Fatalf("error pages = %v", got)
	}
	if got := testutil.ToFloat64(m.retries.WithLabelValues("explorer")); got != 1 {
		t.Fatalf("retries = %v", got)
	}
}

func TestCompleteChunk(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	m.CompleteChunk(100, 7)
	m.CompleteChunk(200, 3)
	m.IncFailure()

	if got := testutil.ToFloat64(m.chunksCompleted); got != 2 {
		t.Fatalf("chunks = %v", got)
	}
	if got := testutil.ToFloat64(m.entries); got != 10 {
		t.Fatalf("entries = %v", got)
	}
	if got := testutil.ToFloat64(m.lastBlock); got != 200 {
		t.Fatalf("last block = %v", got)
	}
	if got := testutil.ToFloat64(m.failures); got != 1 {
		t.Fatalf("failures = %v", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RecordPage("rpc", nil, 1)
	m.IncRetry("rpc")
	m.CompleteChunk(1, 1)
	m.IncFailure()
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := New(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestHandlerEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.CompleteChunk(42, 1)

	srv := httptest.NewServer(NewHandler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("health response: %d %q", resp.StatusCode, body)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "tally_last_completed_block 42") {
		t.Fatalf("metrics body missing gauge:\n%s", body)
	}
}
