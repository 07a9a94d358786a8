package rewrite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func req(rel, key string) Request {
	return Request{
		Entry:        FileEntry{Rel: rel},
		SourceBucket: "docs-bucket",
		SourceKey:    "sdk/" + rel,
		CleanKey:     key,
		Dest:         Destination{Bucket: "docs-bucket", Key: "sdk/" + key},
	}
}

func newTestDispatcher(t *testing.T, opts DispatcherOptions) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(opts)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return d
}

// NewDispatcher

func TestNewDispatcher_RequiresClient(t *testing.T) {
	if _, err := NewDispatcher(DispatcherOptions{}); err == nil {
		t.Fatal("expected error for missing Client")
	}
}

func TestNewDispatcher_DryRunNeedsNoClient(t *testing.T) {
	if _, err := NewDispatcher(DispatcherOptions{DryRun: true}); err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
}

func TestNewDispatcher_Defaults(t *testing.T) {
	d := newTestDispatcher(t, DispatcherOptions{Client: &fakeCopier{}})
	if d.opts.MaxInFlight != DefaultMaxInFlight {
		t.Fatalf("MaxInFlight = %d, want %d", d.opts.MaxInFlight, DefaultMaxInFlight)
	}
	if d.opts.ContentType != DefaultContentType {
		t.Fatalf("ContentType = %q, want %q", d.opts.ContentType, DefaultContentType)
	}
	if d.limiter != nil {
		t.Fatal("limiter should be nil when RatePerSecond is 0")
	}
}

func TestNewDispatcher_NegativeRate(t *testing.T) {
	_, err := NewDispatcher(DispatcherOptions{Client: &fakeCopier{}, RatePerSecond: -1})
	if err == nil {
		t.Fatal("expected error for negative rate")
	}
}

// Dispatch

func TestDispatch_BuildsCopyInput(t *testing.T) {
	fc := &fakeCopier{}
	d := newTestDispatcher(t, DispatcherOptions{
		Client:       fc,
		CacheControl: "max-age=300",
		SSEKMSKeyID:  "arn:aws:kms:us-east-2:111122223333:key/abc",
	})

	out := d.Dispatch(context.Background(), []Request{req("docs/guide.html", "docs/guide/")})
	if len(out) != 1 || out[0].Err != nil {
		t.Fatalf("outcomes = %+v", out)
	}

	in := fc.keys()["sdk/docs/guide/"]
	if in == nil {
		t.Fatal("no copy issued for sdk/docs/guide/")
	}
	if got := aws.ToString(in.Bucket); got != "docs-bucket" {
		t.Errorf("Bucket = %q", got)
	}
	if got := aws.ToString(in.CopySource); got != "docs-bucket/sdk/docs/guide.html" {
		t.Errorf("CopySource = %q", got)
	}
	if got := aws.ToString(in.ContentType); got != "text/html" {
		t.Errorf("ContentType = %q", got)
	}
	if in.MetadataDirective != types.MetadataDirectiveReplace {
		t.Errorf("MetadataDirective = %q, want REPLACE", in.MetadataDirective)
	}
	if got := aws.ToString(in.CacheControl); got != "max-age=300" {
		t.Errorf("CacheControl = %q", got)
	}
	if in.ServerSideEncryption != types.ServerSideEncryptionAwsKms {
		t.Errorf("ServerSideEncryption = %q", in.ServerSideEncryption)
	}
	if aws.ToString(in.SSEKMSKeyId) == "" {
		t.Error("SSEKMSKeyId not set")
	}
}

func TestDispatch_OptionalHeadersOmitted(t *testing.T) {
	fc := &fakeCopier{}
	d := newTestDispatcher(t, DispatcherOptions{Client: fc})
	d.Dispatch(context.Background(), []Request{req("a.html", "a/")})

	in := fc.keys()["sdk/a/"]
	if in.CacheControl != nil {
		t.Errorf("CacheControl = %q, want nil", aws.ToString(in.CacheControl))
	}
	if in.ServerSideEncryption != "" || in.SSEKMSKeyId != nil {
		t.Error("SSE fields should be empty without a KMS key")
	}
}

func TestDispatch_FailureDoesNotBlockSiblings(t *testing.T) {
	fc := &fakeCopier{failKeys: map[string]bool{"sdk/a/": true}}
	d := newTestDispatcher(t, DispatcherOptions{Client: fc, MaxInFlight: 1})

	out := d.Dispatch(context.Background(), []Request{
		req("a.html", "a/"),
		req("b.html", "b/"),
		req("c.html", "c/"),
	})
	if len(out) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(out))
	}

	calls := fc.keys()
	for _, k := range []string{"sdk/a/", "sdk/b/", "sdk/c/"} {
		if calls[k] == nil {
			t.Errorf("no copy dispatched for %s", k)
		}
	}

	var failed int
	for _, o := range out {
		if o.Err == nil {
			continue
		}
		failed++
		var ce *CopyError
		if !errors.As(o.Err, &ce) {
			t.Fatalf("err = %T, want *CopyError", o.Err)
		}
		if ce.Key != "sdk/a/" || ce.Bucket != "docs-bucket" {
			t.Errorf("CopyError = %+v", ce)
		}
		if !errors.Is(o.Err, errAccessDenied) {
			t.Errorf("CopyError should wrap the client error: %v", o.Err)
		}
	}
	if failed != 1 {
		t.Fatalf("failed = %d, want 1", failed)
	}
}

func TestDispatch_BoundedInFlight(t *testing.T) {
	fc := &fakeCopier{delay: 5 * time.Millisecond}
	d := newTestDispatcher(t, DispatcherOptions{Client: fc, MaxInFlight: 3})

	reqs := make([]Request, 0, 30)
	for i := range 30 {
		reqs = append(reqs, req(fmt.Sprintf("p%d.html", i), fmt.Sprintf("p%d/", i)))
	}
	out := d.Dispatch(context.Background(), reqs)

	if len(out) != len(reqs) {
		t.Fatalf("got %d outcomes, want %d", len(out), len(reqs))
	}
	if fc.maxInflight > 3 {
		t.Fatalf("max in flight = %d, want <= 3", fc.maxInflight)
	}
	if fc.maxInflight < 1 {
		t.Fatal("no copies observed in flight")
	}
}

func TestDispatch_DryRunSendsNothing(t *testing.T) {
	fc := &fakeCopier{}
	d := newTestDispatcher(t, DispatcherOptions{Client: fc, DryRun: true})

	out := d.Dispatch(context.Background(), []Request{req("a.html", "a/"), req("b.html", "b/")})
	if len(out) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(out))
	}
	for _, o := range out {
		if o.Err != nil {
			t.Fatalf("dry run outcome error: %v", o.Err)
		}
	}
	if len(fc.calls) != 0 {
		t.Fatalf("dry run issued %d copies", len(fc.calls))
	}
}

func TestDispatch_Hooks(t *testing.T) {
	fc := &fakeCopier{failKeys: map[string]bool{"sdk/b/": true}}

	var mu sync.Mutex
	var started, ok, failed int
	d := newTestDispatcher(t, DispatcherOptions{
		Client:  fc,
		OnStart: func(Request) { mu.Lock(); started++; mu.Unlock() },
		OnOutcome: func(o Outcome) {
			mu.Lock()
			defer mu.Unlock()
			if o.Err != nil {
				failed++
			} else {
				ok++
			}
		},
	})
	d.Dispatch(context.Background(), []Request{req("a.html", "a/"), req("b.html", "b/")})

	if started != 2 || ok != 1 || failed != 1 {
		t.Fatalf("started=%d ok=%d failed=%d, want 2/1/1", started, ok, failed)
	}
}

func TestDispatch_CanceledContextFailsRemaining(t *testing.T) {
	fc := &fakeCopier{}
	d := newTestDispatcher(t, DispatcherOptions{Client: fc, MaxInFlight: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reqs := []Request{req("a.html", "a/"), req("b.html", "b/"), req("c.html", "c/")}
	out := d.Dispatch(ctx, reqs)
	if len(out) != len(reqs) {
		t.Fatalf("got %d outcomes, want %d", len(out), len(reqs))
	}
	for _, o := range out {
		if o.Err == nil || o.Started {
			t.Errorf("outcome for %s: err=%v started=%v, want not-started failure", o.Dest.Key, o.Err, o.Started)
		}
		if !errors.Is(o.Err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled in chain", o.Err)
		}
	}
	if len(fc.calls) != 0 {
		t.Fatalf("canceled run issued %d copies", len(fc.calls))
	}
}

func TestDispatch_CopyTimeout(t *testing.T) {
	fc := &fakeCopier{delay: time.Second}
	d := newTestDispatcher(t, DispatcherOptions{Client: fc, CopyTimeout: 10 * time.Millisecond})

	out := d.Dispatch(context.Background(), []Request{req("a.html", "a/")})
	if len(out) != 1 || !errors.Is(out[0].Err, context.DeadlineExceeded) {
		t.Fatalf("outcome = %+v, want deadline exceeded", out)
	}
}

func TestDispatch_RateLimited(t *testing.T) {
	fc := &fakeCopier{}
	d := newTestDispatcher(t, DispatcherOptions{Client: fc, RatePerSecond: 1000})

	reqs := []Request{req("a.html", "a/"), req("b.html", "b/")}
	out := d.Dispatch(context.Background(), reqs)
	for _, o := range out {
		if o.Err != nil {
			t.Fatalf("unexpected error: %v", o.Err)
		}
	}
}

func TestDispatch_Empty(t *testing.T) {
	d := newTestDispatcher(t, DispatcherOptions{Client: &fakeCopier{}})
	if out := d.Dispatch(context.Background(), nil); len(out) != 0 {
		t.Fatalf("got %d outcomes, want 0", len(out))
	}
}

// CopySource

func TestCopySource(t *testing.T) {
	tests := []struct {
		bucket, key, want string
	}{
		{"b", "sdk/docs/guide.html", "b/sdk/docs/guide.html"},
		{"b", "docs/my page.html", "b/docs/my%20page.html"},
		{"b", "docs/a+b.html", "b/docs/a+b.html"},
		{"b", "docs/q?.html", "b/docs/q%3F.html"},
	}
	for _, tt := range tests {
		if got := CopySource(tt.bucket, tt.key); got != tt.want {
			t.Errorf("CopySource(%q, %q) = %q, want %q", tt.bucket, tt.key, got, tt.want)
		}
	}
}
