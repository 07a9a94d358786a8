package rewrite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keithlinneman/linnemanlabs-docs/internal/log"
	"github.com/keithlinneman/linnemanlabs-docs/internal/sdkscope"
	"github.com/keithlinneman/linnemanlabs-docs/internal/xerrors"
)

// Options configures a Rewriter. It is built once at startup and holds
// everything the run needs, nothing is read from the environment here.
type Options struct {
	Logger log.Logger

	// Root is the generator's build directory
	Root string

	// Excludes are matched against every path element, DefaultExcludes if nil
	Excludes []string

	// DefaultRoot substitutes an empty clean key, DefaultRoot if empty
	DefaultRoot string

	// Source is where the build directory was uploaded
	Source Target

	// Route picks each destination, SameTarget(Source) if nil
	Route Router

	Dispatcher *Dispatcher
}

// Rewriter plans and runs one clean-key rewrite of a build directory.
type Rewriter struct {
	opts   Options
	logger log.Logger
}

// New returns a Rewriter for opts.
func New(opts Options) (*Rewriter, error) {
	if opts.Root == "" {
		return nil, xerrors.New("rewrite: Root is required")
	}
	if opts.Source.Bucket == "" {
		return nil, xerrors.New("rewrite: Source.Bucket is required")
	}
	if opts.Dispatcher == nil {
		return nil, xerrors.New("rewrite: Dispatcher is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Excludes == nil {
		opts.Excludes = DefaultExcludes
	}
	if err := ValidatePatterns(opts.Excludes); err != nil {
		return nil, err
	}
	if opts.DefaultRoot == "" {
		opts.DefaultRoot = DefaultRoot
	}
	if opts.Route == nil {
		opts.Route = SameTarget(opts.Source)
	}
	return &Rewriter{opts: opts, logger: opts.Logger}, nil
}

// Plan is the scanned build directory and the copies derived from it.
type Plan struct {
	Entries  []FileEntry
	Requests []Request
	// Skipped counts discovered files that produce no copy (non-HTML, root index.html)
	Skipped int

	pages map[string]struct{}
}

// HasPage reports whether a doc id was generated, either as id.html or
// id/index.html.
func (p *Plan) HasPage(id string) bool {
	if _, ok := p.pages[id+htmlExt]; ok {
		return true
	}
	_, ok := p.pages[id+"/"+rootIndex]
	return ok
}

// Plan scans the build directory and computes every copy request without
// sending any. The only error it returns is an *EnumerationError.
func (rw *Rewriter) Plan(ctx context.Context) (*Plan, error) {
	entries, err := Scan(ctx, rw.opts.Root, rw.opts.Excludes)
	if err != nil {
		return nil, err
	}

	p := &Plan{
		Entries: entries,
		pages:   make(map[string]struct{}, len(entries)),
	}
	for _, e := range entries {
		p.pages[e.Rel] = struct{}{}

		key, ok := CleanKey(e.Rel, rw.opts.DefaultRoot)
		if !ok {
			p.Skipped++
			rw.logger.Debug(ctx, "skipping file", "path", e.Rel)
			continue
		}
		dest := rw.opts.Route(key)
		p.Requests = append(p.Requests, Request{
			Entry:        e,
			SourceBucket: rw.opts.Source.Bucket,
			SourceKey:    rw.opts.Source.Key(e.Rel),
			CleanKey:     key,
			Dest:         dest,
			SDK:          sdkscope.Name("/" + dest.Key),
		})
	}

	rw.logger.Info(ctx, "planned clean key rewrite",
		"root", rw.opts.Root,
		"source", rw.opts.Source.String(),
		"discovered", len(entries),
		"requests", len(p.Requests),
		"skipped", p.Skipped,
	)
	return p, nil
}

// Summary aggregates the outcomes of one run.
type Summary struct {
	Discovered int
	Skipped    int
	Dispatched int
	Succeeded  int
	Failed     int
	Failures   []Outcome
	Duration   time.Duration
}

// Err joins every copy failure, nil when all copies succeeded.
func (s Summary) Err() error {
	if s.Failed == 0 {
		return nil
	}
	errs := make([]error, 0, len(s.Failures)+1)
	errs = append(errs, fmt.Errorf("%d of %d copies failed", s.Failed, s.Dispatched))
	for _, f := range s.Failures {
		errs = append(errs, f.Err)
	}
	return errors.Join(errs...)
}

// Execute dispatches every request in p and waits for all of them.
func (rw *Rewriter) Execute(ctx context.Context, p *Plan) Summary {
	start := time.Now()
	outcomes := rw.opts.Dispatcher.Dispatch(ctx, p.Requests)

	s := Summary{
		Discovered: len(p.Entries),
		Skipped:    p.Skipped,
		Dispatched: len(outcomes),
	}
	for _, o := range outcomes {
		if o.Err != nil {
			s.Failed++
			s.Failures = append(s.Failures, o)
			continue
		}
		s.Succeeded++
	}
	s.Duration = time.Since(start)

	rw.logger.Info(ctx, "clean key rewrite complete",
		"discovered", s.Discovered,
		"skipped", s.Skipped,
		"dispatched", s.Dispatched,
		"succeeded", s.Succeeded,
		"failed", s.Failed,
		"duration", s.Duration.String(),
	)
	return s
}

// Run plans and executes in one step.
func (rw *Rewriter) Run(ctx context.Context) (Summary, error) {
	p, err := rw.Plan(ctx)
	if err != nil {
		return Summary{}, err
	}
	return rw.Execute(ctx, p), nil
}
