package rewrite

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-docs/internal/log"
	"github.com/keithlinneman/linnemanlabs-docs/internal/xerrors"
)

const (
	// DefaultMaxInFlight caps concurrent CopyObject calls
	DefaultMaxInFlight = 16

	// DefaultContentType is set on every clean-key object
	DefaultContentType = "text/html"
)

// Copier is the slice of the S3 API the dispatcher needs. *s3.Client satisfies it.
type Copier interface {
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// Request is a single planned copy.
type Request struct {
	Entry        FileEntry
	SourceBucket string
	SourceKey    string
	CleanKey     string
	Dest         Destination
	// SDK is the SDK section the page belongs to, empty when none
	SDK string
}

// Outcome is the settled result of one Request. Err is a *CopyError or nil.
type Outcome struct {
	Request
	Err      error
	Duration time.Duration
	// Started is false when the request settled before OnStart ran
	// (context ended while waiting for a slot or the rate limiter)
	Started bool
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Logger log.Logger
	Client Copier

	// MaxInFlight bounds concurrent requests, DefaultMaxInFlight if <= 0
	MaxInFlight int

	// RatePerSecond caps request starts per second, 0 disables the ceiling
	RatePerSecond float64

	// CopyTimeout bounds each CopyObject call, 0 means no per-call deadline
	CopyTimeout time.Duration

	ContentType  string
	CacheControl string

	// SSEKMSKeyID encrypts the copies with the given KMS key when set
	SSEKMSKeyID string

	// DryRun logs each request instead of sending it
	DryRun bool

	// OnStart and OnOutcome are optional hooks, used for metrics
	OnStart   func(Request)
	OnOutcome func(Outcome)
}

// Dispatcher issues independent CopyObject requests with bounded concurrency.
type Dispatcher struct {
	opts    DispatcherOptions
	client  Copier
	logger  log.Logger
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	tracer  trace.Tracer
}

// NewDispatcher validates opts and returns a ready Dispatcher.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Client == nil && !opts.DryRun {
		return nil, xerrors.New("rewrite: Client is required unless DryRun is set")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = DefaultMaxInFlight
	}
	if opts.ContentType == "" {
		opts.ContentType = DefaultContentType
	}
	if opts.RatePerSecond < 0 {
		return nil, xerrors.Newf("rewrite: RatePerSecond must be >= 0 (got %v)", opts.RatePerSecond)
	}

	d := &Dispatcher{
		opts:   opts,
		client: opts.Client,
		logger: opts.Logger,
		sem:    semaphore.NewWeighted(int64(opts.MaxInFlight)),
		tracer: otel.Tracer("github.com/keithlinneman/linnemanlabs-docs/internal/rewrite"),
	}
	if opts.RatePerSecond > 0 {
		burst := int(opts.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	return d, nil
}

// Dispatch sends every request and blocks until all of them have settled.
// Outcomes are returned in completion order. A failed copy never stops the
// others; requests that could not start because ctx ended are reported as
// failed outcomes too, so len(result) == len(reqs).
func (d *Dispatcher) Dispatch(ctx context.Context, reqs []Request) []Outcome {
	results := make(chan Outcome, len(reqs))
	var wg sync.WaitGroup

	for _, r := range reqs {
		// acquire before spawning so the goroutine count stays bounded too
		if err := d.sem.Acquire(ctx, 1); err != nil {
			results <- d.settle(ctx, r, time.Now(), false, xerrors.Wrap(err, "not dispatched"))
			continue
		}
		wg.Add(1)
		go func(r Request) {
			defer wg.Done()
			defer d.sem.Release(1)
			results <- d.copyOne(ctx, r)
		}(r)
	}

	wg.Wait()
	close(results)

	out := make([]Outcome, 0, len(reqs))
	for o := range results {
		out = append(out, o)
	}
	return out
}

func (d *Dispatcher) copyOne(ctx context.Context, r Request) Outcome {
	start := time.Now()

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return d.settle(ctx, r, start, false, xerrors.Wrap(err, "rate limiter"))
		}
	}

	ctx, span := d.tracer.Start(ctx, "s3.CopyObject", trace.WithAttributes(
		attribute.String("s3.bucket", r.Dest.Bucket),
		attribute.String("s3.key", r.Dest.Key),
		attribute.String("s3.copy_source", r.SourceBucket+"/"+r.SourceKey),
	))
	defer span.End()

	if d.opts.OnStart != nil {
		d.opts.OnStart(r)
	}

	if d.opts.DryRun {
		d.logger.Info(ctx, "dry run, skipping copy",
			"source", r.SourceKey,
			"bucket", r.Dest.Bucket,
			"key", r.Dest.Key,
		)
		return d.settle(ctx, r, start, true, nil)
	}

	callCtx := ctx
	if d.opts.CopyTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.opts.CopyTimeout)
		defer cancel()
	}

	_, err := d.client.CopyObject(callCtx, d.input(r))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "copy failed")
	}
	return d.settle(ctx, r, start, true, err)
}

// settle logs the outcome of one request and runs the OnOutcome hook.
func (d *Dispatcher) settle(ctx context.Context, r Request, start time.Time, started bool, err error) Outcome {
	o := Outcome{Request: r, Duration: time.Since(start), Started: started}
	if err != nil {
		o.Err = &CopyError{
			Bucket: r.Dest.Bucket,
			Source: r.SourceBucket + "/" + r.SourceKey,
			Key:    r.Dest.Key,
			Err:    err,
		}
		d.logger.Error(ctx, o.Err, "copy object failed",
			"key", r.Dest.Key,
			"bucket", r.Dest.Bucket,
			"source", r.SourceKey,
			"sdk", r.SDK,
		)
	} else {
		d.logger.Info(ctx, "copied object",
			"key", r.Dest.Key,
			"bucket", r.Dest.Bucket,
			"sdk", r.SDK,
			"duration", o.Duration.String(),
		)
	}
	if d.opts.OnOutcome != nil {
		d.opts.OnOutcome(o)
	}
	return o
}

func (d *Dispatcher) input(r Request) *s3.CopyObjectInput {
	in := &s3.CopyObjectInput{
		Bucket:      aws.String(r.Dest.Bucket),
		Key:         aws.String(r.Dest.Key),
		CopySource:  aws.String(CopySource(r.SourceBucket, r.SourceKey)),
		ContentType: aws.String(d.opts.ContentType),
		// without REPLACE S3 keeps the source metadata and ignores ContentType
		MetadataDirective: types.MetadataDirectiveReplace,
	}
	if d.opts.CacheControl != "" {
		in.CacheControl = aws.String(d.opts.CacheControl)
	}
	if d.opts.SSEKMSKeyID != "" {
		in.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		in.SSEKMSKeyId = aws.String(d.opts.SSEKMSKeyID)
	}
	return in
}

// CopySource renders the x-amz-copy-source value: bucket/key with each key
// segment URL-encoded.
func CopySource(bucket, key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segs, "/")
}
