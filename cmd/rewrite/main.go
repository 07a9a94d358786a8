package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/keithlinneman/linnemanlabs-docs/internal/awsx"
	"github.com/keithlinneman/linnemanlabs-docs/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-docs/internal/health"
	"github.com/keithlinneman/linnemanlabs-docs/internal/log"
	"github.com/keithlinneman/linnemanlabs-docs/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-docs/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-docs/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-docs/internal/prof"
	"github.com/keithlinneman/linnemanlabs-docs/internal/rewrite"
	"github.com/keithlinneman/linnemanlabs-docs/internal/sidebar"
	v "github.com/keithlinneman/linnemanlabs-docs/internal/version"
	"github.com/keithlinneman/linnemanlabs-docs/internal/xerrors"
)

const pushJob = "docs_rewrite"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run is the whole job. It returns the process exit code: 0 only when every
// copy was sent, 1 for config errors, aborted runs and failed copies.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	vi := v.Get()

	fs := flag.NewFlagSet(v.AppName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var conf cfg.App
	var showVersion bool

	cfg.Register(fs, &conf)
	fs.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if showVersion {
		fmt.Fprintf(stdout,
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%s)\n",
			vi.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion, vi.Dirty(),
		)
		return 0
	}

	// env: DOCS_REWRITE_* first, then the legacy unprefixed names
	logf := func(format string, args ...any) { fmt.Fprintf(stderr, format+"\n", args...) }
	cfg.FillFromEnv(fs, cfg.EnvPrefix, logf)
	cfg.FillFromAliases(fs, cfg.LegacyAliases, logf)

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(stderr, "config error:", err)
		return 1
	}

	// Validate already checked both levels
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		BuildId:           vi.BuildId,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
		Writer:            stderr,
	})
	if err != nil {
		fmt.Fprintln(stderr, "logger init error:", err)
		return 1
	}
	defer lg.Sync()
	L := lg.With("component", "rewrite")
	ctx = log.WithContext(ctx, L)

	runID := fmt.Sprintf("%x", time.Now().UnixNano())
	L.Info(ctx, "initializing docs rewrite",
		"run_id", runID,
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"build_path", conf.BuildPath,
		"target", conf.Target,
		"target_ssm_param", conf.TargetSSMParam,
		"region", conf.Region,
		"default_root", conf.DefaultRoot,
		"root_routing", conf.RootRouting,
		"excludes", conf.Excludes,
		"max_in_flight", conf.MaxInFlight,
		"max_rps", conf.MaxRPS,
		"dry_run", conf.DryRun,
		"admin_port", conf.AdminPort,
		"enable_tracing", conf.EnableTracing,
		"enable_pyroscope", conf.EnablePyroscope,
		"pushgateway_url", conf.PushgatewayURL,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion("rewrite", vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags:          map[string]string{"version": vi.Version},
		OnActive:      m.SetProfilingActive,
	})
	if err != nil {
		// profiling is best effort, the run continues without it
		L.Warn(ctx, "pyroscope not started", "err", err)
	}
	defer stopProf()

	shutdownTracing, err := otelx.Init(ctx, otelx.Options{
		Enabled:  conf.EnableTracing,
		Endpoint: conf.OTLPEndpoint,
		Insecure: true,
		Sample:   conf.TraceSample,
		Service:  v.AppName,
		Version:  vi.Version,
		RunID:    runID,
	})
	if err != nil {
		L.Error(ctx, err, "tracing init failed")
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			L.Warn(sctx, "tracing shutdown", "err", err)
		}
	}()

	ready := health.NewLatch("scanning build directory")
	if conf.AdminPort > 0 {
		stopOps, err := opshttp.Start(ctx, L, &opshttp.Options{
			Port:        conf.AdminPort,
			Metrics:     m.Handler(),
			EnablePprof: conf.EnablePprof,
			Health:      health.Fixed(true, ""),
			Readiness:   ready.Probe(),
		})
		if err != nil {
			L.Error(ctx, err, "ops http server failed to start")
			return 1
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = stopOps(sctx)
		}()
	}

	ctx, span := otel.Tracer("github.com/keithlinneman/linnemanlabs-docs/cmd/rewrite").Start(ctx, "docs.rewrite")
	defer span.End()

	summary, err := execute(ctx, L, conf, m, ready)
	m.SetRunFinished(time.Now(), summary.Duration, summary.Failed, err)
	ready.Close("run finished")

	if conf.PushgatewayURL != "" {
		group := conf.Target
		if group == "" {
			group = conf.TargetSSMParam
		}
		// ctx may already be cancelled by a signal, the push still has to go out
		pctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		perr := m.Push(pctx, conf.PushgatewayURL, pushJob, map[string]string{"target": group})
		cancel()
		if perr != nil {
			L.Error(ctx, perr, "pushgateway push failed", "url", conf.PushgatewayURL)
		}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run failed")
		L.Error(ctx, err, "docs rewrite failed")
		return 1
	}
	span.SetAttributes(
		attribute.Int("rewrite.dispatched", summary.Dispatched),
		attribute.Int("rewrite.failed", summary.Failed),
	)
	if serr := summary.Err(); serr != nil {
		span.SetStatus(codes.Error, "copies failed")
		L.Error(ctx, serr, "docs rewrite finished with failures", "failed", summary.Failed, "dispatched", summary.Dispatched)
		return 1
	}
	L.Info(ctx, "docs rewrite finished", "dispatched", summary.Dispatched, "duration", summary.Duration.String())
	return 0
}

// execute resolves the target, runs the preflight checks and performs the
// rewrite. A non-nil error means nothing was dispatched.
func execute(ctx context.Context, L log.Logger, conf cfg.App, m *metrics.RewriteMetrics, ready *health.Latch) (rewrite.Summary, error) {
	awsOpts := awsx.Options{
		Region:          conf.Region,
		AccessKeyID:     conf.AccessKeyID,
		SecretAccessKey: conf.SecretAccessKey,
		// one attempt per copy, failures are reported instead of retried
		MaxAttempts: 1,
		Endpoint:    conf.Endpoint,
	}
	awsCfg, err := awsx.LoadConfig(ctx, awsOpts)
	if err != nil {
		return rewrite.Summary{}, err
	}

	rawTarget := conf.Target
	if rawTarget == "" {
		rawTarget, err = awsx.ResolveTarget(ctx, ssm.NewFromConfig(awsCfg), conf.TargetSSMParam)
		if err != nil {
			return rewrite.Summary{}, err
		}
		L.Info(ctx, "resolved target from ssm", "param", conf.TargetSSMParam, "target", rawTarget)
	}
	target, err := rewrite.ParseTarget(rawTarget)
	if err != nil {
		return rewrite.Summary{}, err
	}

	if conf.SSEKMSKeyID != "" && !conf.DryRun {
		if err := awsx.CheckKMSKey(ctx, kms.NewFromConfig(awsCfg), conf.SSEKMSKeyID); err != nil {
			return rewrite.Summary{}, err
		}
	}

	var sidebars []sidebar.Sidebar
	for _, s := range cfg.SplitList(conf.Sidebars) {
		src, err := sidebar.ParseSource(s)
		if err != nil {
			return rewrite.Summary{}, err
		}
		sbs, err := sidebar.LoadSource(src)
		if err != nil {
			return rewrite.Summary{}, err
		}
		sidebars = append(sidebars, sbs...)
	}

	d, err := rewrite.NewDispatcher(rewrite.DispatcherOptions{
		Logger:        L,
		Client:        awsx.NewS3(awsCfg, awsOpts),
		MaxInFlight:   conf.MaxInFlight,
		RatePerSecond: conf.MaxRPS,
		CopyTimeout:   conf.CopyTimeout,
		ContentType:   conf.ContentType,
		CacheControl:  conf.CacheControl,
		SSEKMSKeyID:   conf.SSEKMSKeyID,
		DryRun:        conf.DryRun,
		OnStart:       func(rewrite.Request) { m.CopyStarted() },
		OnOutcome: func(o rewrite.Outcome) {
			if !o.Started {
				m.CopyNotStarted(o.SDK)
				return
			}
			m.CopyFinished(o.Err != nil, o.SDK, o.Duration)
		},
	})
	if err != nil {
		return rewrite.Summary{}, err
	}

	route, err := rewrite.RouterFor(conf.RootRouting, target, conf.DefaultRoot)
	if err != nil {
		return rewrite.Summary{}, err
	}
	rw, err := rewrite.New(rewrite.Options{
		Logger:      L,
		Root:        conf.BuildPath,
		Excludes:    cfg.SplitList(conf.Excludes),
		DefaultRoot: conf.DefaultRoot,
		Source:      target,
		Route:       route,
		Dispatcher:  d,
	})
	if err != nil {
		return rewrite.Summary{}, err
	}

	plan, err := rw.Plan(ctx)
	if err != nil {
		return rewrite.Summary{}, err
	}
	m.SetPlanned(len(plan.Entries), plan.Skipped)
	ready.Open()

	if len(sidebars) > 0 {
		missing := sidebar.FindMissing(sidebars, plan.HasPage)
		m.SetSidebarMissing(len(missing))
		for _, ms := range missing {
			L.Warn(ctx, "sidebar references a doc with no page", "sidebar", ms.Sidebar, "id", ms.ID, "page", ms.Page)
		}
		if len(missing) > 0 && conf.StrictSidebars {
			return rewrite.Summary{}, xerrors.Newf("%d sidebar doc ids have no generated page", len(missing))
		}
	}

	if err := ctx.Err(); err != nil {
		return rewrite.Summary{}, errors.Join(xerrors.New("interrupted before dispatch"), err)
	}
	return rw.Execute(ctx, plan), nil
}
