package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/keithlinneman/linnemanlabs-docs/internal/version"
)

func family(t *testing.T, m *RewriteMetrics, name string) *dto.MetricFamily {
	t.Helper()
	fams, err := m.reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range fams {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

// value reads a single gauge or counter
func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var pb dto.Metric
	if err := m.Write(&pb); err != nil {
		t.Fatalf("Write: %v", err)
	}
	switch {
	case pb.Gauge != nil:
		return pb.GetGauge().GetValue()
	case pb.Counter != nil:
		return pb.GetCounter().GetValue()
	}
	t.Fatalf("metric is neither gauge nor counter: %v", &pb)
	return 0
}

func TestNew_HandlerServesRegistry(t *testing.T) {
	m := New()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{
		"docs_rewrite_files_discovered",
		"docs_rewrite_copies_inflight",
		"docs_rewrite_last_run_failed_copies",
		"go_goroutines",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metric %q missing from /metrics", name)
		}
	}
}

func TestSetBuildInfoFromVersion(t *testing.T) {
	m := New()
	m.SetBuildInfoFromVersion("rewrite", version.Info{AppName: "docs-rewrite", Version: "1.0.0", Commit: "abc"})

	f := family(t, m, "build_info")
	if f == nil || len(f.GetMetric()) != 1 {
		t.Fatalf("build_info = %v", f)
	}
	labels := map[string]string{}
	for _, lp := range f.GetMetric()[0].GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	if labels["app"] != "docs-rewrite" || labels["version"] != "1.0.0" || labels["vcs_dirty"] != "unknown" {
		t.Fatalf("labels = %v", labels)
	}
}

func TestCopyLifecycle(t *testing.T) {
	m := New()

	m.CopyStarted()
	m.CopyStarted()
	if got := value(t, m.copiesInflight); got != 2 {
		t.Fatalf("inflight = %v, want 2", got)
	}

	m.CopyFinished(false, "android", 50*time.Millisecond)
	m.CopyFinished(true, "", time.Second)
	if got := value(t, m.copiesInflight); got != 0 {
		t.Fatalf("inflight = %v, want 0", got)
	}
	if got := value(t, m.copiesTotal.WithLabelValues(ResultSuccess, "android")); got != 1 {
		t.Fatalf("success{android} = %v", got)
	}
	if got := value(t, m.copiesTotal.WithLabelValues(ResultError, "none")); got != 1 {
		t.Fatalf("error{none} = %v", got)
	}
	if f := family(t, m, "docs_rewrite_copy_duration_seconds"); f == nil || len(f.GetMetric()) != 2 {
		t.Fatalf("duration series = %v, want 2", f)
	}
}

func TestCopyNotStarted_LeavesInflight(t *testing.T) {
	m := New()
	m.CopyNotStarted("ios")
	if got := value(t, m.copiesInflight); got != 0 {
		t.Fatalf("inflight = %v, want 0", got)
	}
	if got := value(t, m.copiesTotal.WithLabelValues(ResultError, "ios")); got != 1 {
		t.Fatalf("error{ios} = %v", got)
	}
}

func TestSetPlannedAndSidebar(t *testing.T) {
	m := New()
	m.SetPlanned(12, 4)
	m.SetSidebarMissing(3)
	if value(t, m.filesDiscovered) != 12 || value(t, m.filesSkipped) != 4 {
		t.Fatal("planned gauges not set")
	}
	if value(t, m.sidebarMissing) != 3 {
		t.Fatal("sidebar gauge not set")
	}
}

func TestSetRunFinished(t *testing.T) {
	m := New()
	at := time.Unix(1_700_000_000, 0)

	m.SetRunFinished(at, 2*time.Second, 0, nil)
	if got := value(t, m.lastSuccessTs); got != float64(at.Unix()) {
		t.Fatalf("last success = %v", got)
	}
	if got := value(t, m.lastRunAborted); got != 0 {
		t.Fatalf("last run aborted = %v, want 0", got)
	}

	m.SetRunFinished(at.Add(time.Hour), time.Second, 2, nil)
	if got := value(t, m.lastSuccessTs); got != float64(at.Unix()) {
		t.Fatal("failed run must not move last success timestamp")
	}
	if got := value(t, m.lastRunFailed); got != 2 {
		t.Fatalf("last run failed = %v", got)
	}
}

func TestSetRunFinished_AbortedRunIsNotSuccess(t *testing.T) {
	m := New()
	m.SetRunFinished(time.Unix(1_700_000_000, 0), 0, 0, errors.New("enumerate /build: no such file or directory"))

	if got := value(t, m.lastSuccessTs); got != 0 {
		t.Fatalf("aborted run set last success = %v", got)
	}
	if got := value(t, m.lastRunAborted); got != 1 {
		t.Fatalf("last run aborted = %v, want 1", got)
	}

	m.SetRunFinished(time.Unix(1_700_000_100, 0), time.Second, 0, nil)
	if got := value(t, m.lastRunAborted); got != 0 {
		t.Fatalf("clean run should reset aborted, got %v", got)
	}
	if got := value(t, m.lastSuccessTs); got != 1_700_000_100 {
		t.Fatalf("last success = %v", got)
	}
}

func TestSetProfilingActive(t *testing.T) {
	m := New()
	m.SetProfilingActive(true)
	if value(t, m.profilingActive) != 1 {
		t.Fatal("want 1")
	}
	m.SetProfilingActive(false)
	if value(t, m.profilingActive) != 0 {
		t.Fatal("want 0")
	}
}

func TestPush(t *testing.T) {
	var mu sync.Mutex
	var method, path, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New()
	m.SetPlanned(5, 1)
	if err := m.Push(context.Background(), srv.URL, "docs_rewrite", map[string]string{"target": "docs"}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPost {
		t.Errorf("method = %s, want POST", method)
	}
	if path != "/metrics/job/docs_rewrite/target/docs" {
		t.Errorf("path = %s", path)
	}
	if body == "" {
		t.Error("empty push body")
	}
}

// pushedNames decodes a push body into its family names
func pushedNames(t *testing.T, r *http.Request) map[string]float64 {
	t.Helper()
	out := map[string]float64{}
	dec := expfmt.NewDecoder(r.Body, expfmt.ResponseFormat(r.Header))
	for {
		var mf dto.MetricFamily
		if err := dec.Decode(&mf); err != nil {
			if errors.Is(err, io.EOF) {
				return out
			}
			t.Errorf("decode push: %v", err)
			return out
		}
		var v float64
		if ms := mf.GetMetric(); len(ms) == 1 && ms[0].Gauge != nil {
			v = ms[0].GetGauge().GetValue()
		}
		out[mf.GetName()] = v
	}
}

func TestPush_LastSuccessOnlyAfterSuccess(t *testing.T) {
	var mu sync.Mutex
	var pushes []map[string]float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := pushedNames(t, r)
		mu.Lock()
		pushes = append(pushes, got)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New()
	at := time.Unix(1_700_000_000, 0)
	runs := []struct {
		failed int
		abort  error
	}{
		{0, nil},
		{1, nil},
		{0, errors.New("enumerate /build: no such file or directory")},
	}
	for _, r := range runs {
		m.SetRunFinished(at, time.Second, r.failed, r.abort)
		if err := m.Push(context.Background(), srv.URL, "docs_rewrite", nil); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(pushes) != 3 {
		t.Fatalf("got %d pushes, want 3", len(pushes))
	}
	if got, ok := pushes[0][lastSuccessName]; !ok || got != float64(at.Unix()) {
		t.Errorf("clean run pushed last success = %v (present %v)", got, ok)
	}
	for i, p := range pushes[1:] {
		if _, ok := p[lastSuccessName]; ok {
			t.Errorf("push %d: unsuccessful run pushed %s", i+1, lastSuccessName)
		}
		if _, ok := p["docs_rewrite_last_run_failed_copies"]; !ok {
			t.Errorf("push %d: missing last_run_failed_copies", i+1)
		}
	}
	if pushes[2]["docs_rewrite_last_run_aborted"] != 1 {
		t.Errorf("aborted run pushed aborted = %v", pushes[2]["docs_rewrite_last_run_aborted"])
	}
}

func TestPush_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if err := New().Push(context.Background(), srv.URL, "docs_rewrite", nil); err == nil {
		t.Fatal("expected error")
	}
}
