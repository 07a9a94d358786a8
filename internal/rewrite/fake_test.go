package rewrite

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// fakeCopier records every CopyObject call and fails the configured keys.
type fakeCopier struct {
	mu       sync.Mutex
	calls    []*s3.CopyObjectInput
	failKeys map[string]bool
	delay    time.Duration

	inflight    int
	maxInflight int
}

var errAccessDenied = errors.New("AccessDenied: access denied")

func (f *fakeCopier) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	f.calls = append(f.calls, in)
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	fail := f.failKeys[aws.ToString(in.Key)]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errAccessDenied
	}
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeCopier) keys() map[string]*s3.CopyObjectInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]*s3.CopyObjectInput, len(f.calls))
	for _, c := range f.calls {
		out[aws.ToString(c.Key)] = c
	}
	return out
}
