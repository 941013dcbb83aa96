package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	logx "github.com/rdjerrouf/Chicago-Event-Monitor/pkg/logx"
)

func TestRecorderSeries(t *testing.T) {
	t.Parallel()
	r := NewRecorder()
	r.Run("full", 2*time.Second, time.Unix(1700000000, 0))
	r.Fetch("venueA", OutcomeOK)
	r.Fetch("ohare", OutcomeFailed)
	r.NewRecords("venueA", 3)
	r.NewRecords("venueA", 0)
	r.Severity("ohare", 2)
	r.Digest("monitor", DigestSuppressed)
	r.StorageFailure()

	if got := testutil.ToFloat64(r.runs.WithLabelValues("full")); got != 1 {
		t.Fatalf("runs_total = %v", got)
	}
	if got := testutil.ToFloat64(r.newRecords.WithLabelValues("venueA")); got != 3 {
		t.Fatalf("new_records_total = %v", got)
	}
	if got := testutil.ToFloat64(r.severity.WithLabelValues("ohare")); got != 2 {
		t.Fatalf("severity_level = %v", got)
	}
	if got := testutil.ToFloat64(r.lastRun.WithLabelValues("full")); got != 1700000000 {
		t.Fatalf("last_run = %v", got)
	}
	if got := testutil.ToFloat64(r.fetches.WithLabelValues("ohare", OutcomeFailed)); got != 1 {
		t.Fatalf("fetch failed = %v", got)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	t.Parallel()
	var r *Recorder
	r.Run("full", time.Second, time.Now())
	r.Fetch("x", OutcomeOK)
	r.Digest("full", DigestSent)
	if r.Registry() != nil {
		t.Fatal("nil recorder has a registry")
	}
}

func TestServerHandler(t *testing.T) {
	t.Parallel()
	r := NewRecorder()
	r.Digest("full", DigestSent)

	var down atomic.Bool
	health := func() error {
		if down.Load() {
			return errors.New("scheduler down")
		}
		return nil
	}
	s := NewServer(ServerConfig{Path: "/metrics"}, r, health, logx.Nop())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	body := get(t, srv.URL+"/metrics", http.StatusOK)
	if !strings.Contains(body, `monitor_digests_total{mode="full",result="sent"} 1`) {
		t.Fatalf("metrics body missing digest series:\n%s", body)
	}
	get(t, srv.URL+"/healthz", http.StatusOK)

	down.Store(true)
	if b := get(t, srv.URL+"/healthz", http.StatusServiceUnavailable); !strings.Contains(b, "scheduler down") {
		t.Fatalf("healthz body = %q", b)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:9464": true,
		"localhost:1":    true,
		"[::1]:9464":     true,
		":9464":          false,
		"0.0.0.0:9464":   false,
		"garbage":        false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v", addr, got)
		}
	}
}

func get(t *testing.T, url string, wantStatus int) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s status = %d, want %d", url, resp.StatusCode, wantStatus)
	}
	return string(b)
}
