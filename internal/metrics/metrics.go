// Package metrics holds the Prometheus registry for a rewrite run. The
// registry is served on the ops listener while the job runs and can be
// pushed to a Pushgateway when it finishes.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	dto "github.com/prometheus/client_model/go"

	"github.com/keithlinneman/linnemanlabs-docs/internal/version"
	"github.com/keithlinneman/linnemanlabs-docs/internal/xerrors"
)

// copy results
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

type RewriteMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	buildInfo       *prometheus.GaugeVec
	filesDiscovered prometheus.Gauge
	filesSkipped    prometheus.Gauge
	copiesTotal     *prometheus.CounterVec
	copyDuration    *prometheus.HistogramVec
	copiesInflight  prometheus.Gauge
	sidebarMissing  prometheus.Gauge
	runDuration     prometheus.Gauge
	lastRunFailed   prometheus.Gauge
	lastRunAborted  prometheus.Gauge
	lastSuccessTs   prometheus.Gauge
	profilingActive prometheus.Gauge

	// succeeded is set when the finished run may move lastSuccessTs
	succeeded bool
}

const lastSuccessName = "docs_rewrite_last_success_timestamp_seconds"

// New returns a fresh registry with the Go and process collectors and the
// rewrite metrics. Labels stay low-cardinality: result and sdk only, never keys.
func New() *RewriteMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &RewriteMetrics{
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		filesDiscovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docs_rewrite_files_discovered",
			Help: "Files found under the build root after exclusions",
		}),
		filesSkipped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docs_rewrite_files_skipped",
			Help: "Discovered files that need no clean key (non-HTML, root index)",
		}),
		copiesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docs_rewrite_copies_total",
			Help: "CopyObject requests by result and SDK section",
		}, []string{"result", "sdk"}),
		copyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docs_rewrite_copy_duration_seconds",
			Help:    "CopyObject latency by result",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"result"}),
		copiesInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docs_rewrite_copies_inflight",
			Help: "CopyObject requests currently in flight",
		}),
		sidebarMissing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docs_rewrite_sidebar_missing_docs",
			Help: "Sidebar doc ids with no generated page",
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docs_rewrite_run_duration_seconds",
			Help: "Wall time of the last completed dispatch",
		}),
		lastRunFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docs_rewrite_last_run_failed_copies",
			Help: "Failed copies in the last completed run",
		}),
		lastRunAborted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docs_rewrite_last_run_aborted",
			Help: "1 when the last run stopped before dispatching (scan, preflight or interrupt), else 0",
		}),
		lastSuccessTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: lastSuccessName,
			Help: "Unix timestamp of the last run that dispatched every copy without failure",
		}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
	}
	reg.MustRegister(
		m.buildInfo,
		m.filesDiscovered,
		m.filesSkipped,
		m.copiesTotal,
		m.copyDuration,
		m.copiesInflight,
		m.sidebarMissing,
		m.runDuration,
		m.lastRunFailed,
		m.lastRunAborted,
		m.lastSuccessTs,
		m.profilingActive,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	m.reg = reg
	return m
}

func (m *RewriteMetrics) Handler() http.Handler { return m.handler }

// set once at startup
func (m *RewriteMetrics) SetBuildInfoFromVersion(component string, vi version.Info) {
	m.buildInfo.With(prometheus.Labels{
		"app":         vi.AppName,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   vi.Dirty(),
	}).Set(1)
}

func (m *RewriteMetrics) SetPlanned(discovered, skipped int) {
	m.filesDiscovered.Set(float64(discovered))
	m.filesSkipped.Set(float64(skipped))
}

func (m *RewriteMetrics) CopyStarted() { m.copiesInflight.Inc() }

// CopyFinished records one settled copy. An empty sdk is labelled "none".
func (m *RewriteMetrics) CopyFinished(failed bool, sdk string, d time.Duration) {
	m.copiesInflight.Dec()
	result := ResultSuccess
	if failed {
		result = ResultError
	}
	if sdk == "" {
		sdk = "none"
	}
	m.copiesTotal.WithLabelValues(result, sdk).Inc()
	m.copyDuration.WithLabelValues(result).Observe(d.Seconds())
}

// CopyNotStarted records a request that settled without ever being sent,
// so the in-flight gauge is left alone.
func (m *RewriteMetrics) CopyNotStarted(sdk string) {
	if sdk == "" {
		sdk = "none"
	}
	m.copiesTotal.WithLabelValues(ResultError, sdk).Inc()
}

func (m *RewriteMetrics) SetSidebarMissing(n int) { m.sidebarMissing.Set(float64(n)) }

// SetRunFinished records the end of a run. abort is the error that stopped
// the run before dispatch, nil when the copies were sent. Only a run with no
// abort and no failed copy moves the success timestamp.
func (m *RewriteMetrics) SetRunFinished(at time.Time, d time.Duration, failed int, abort error) {
	m.runDuration.Set(d.Seconds())
	m.lastRunFailed.Set(float64(failed))
	m.succeeded = false
	if abort != nil {
		m.lastRunAborted.Set(1)
		return
	}
	m.lastRunAborted.Set(0)
	if failed == 0 {
		m.succeeded = true
		m.lastSuccessTs.Set(float64(at.Unix()))
	}
}

func (m *RewriteMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

// Push sends the registry to a Pushgateway under job. Families with the
// same name in the grouping are replaced and the rest are kept, so a run
// that did not succeed leaves the gateway's last success timestamp alone.
func (m *RewriteMetrics) Push(ctx context.Context, url, job string, grouping map[string]string) error {
	var g prometheus.Gatherer = m.reg
	if !m.succeeded {
		g = without(m.reg, lastSuccessName)
	}
	p := push.New(url, job).Gatherer(g)
	for k, v := range grouping {
		p = p.Grouping(k, v)
	}
	if err := p.AddContext(ctx); err != nil {
		return xerrors.Wrapf(err, "push metrics to %s", url)
	}
	return nil
}

func without(g prometheus.Gatherer, name string) prometheus.Gatherer {
	return prometheus.GathererFunc(func() ([]*dto.MetricFamily, error) {
		fams, err := g.Gather()
		out := fams[:0]
		for _, f := range fams {
			if f.GetName() != name {
				out = append(out, f)
			}
		}
		return out, err
	})
}
