package health

import (
	"context"
	"sync/atomic"

	"github.com/keithlinneman/linnemanlabs-docs/internal/xerrors"
)

// Probe is evaluated at request time: nil = OK, non-nil = FAIL with reason.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed returns a probe that always passes or always fails with reason.
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// All passes only if every non-nil probe passes and returns the first error.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Latch fails with its pending reason until Open is called.
type Latch struct {
	open   atomic.Bool
	reason atomic.Value
}

// NewLatch returns a closed latch reporting reason while closed.
func NewLatch(reason string) *Latch {
	l := &Latch{}
	l.reason.Store(reason)
	return l
}

func (l *Latch) Open() { l.open.Store(true) }

// Close fails the probe again with reason, e.g. once the run has finished.
func (l *Latch) Close(reason string) {
	l.reason.Store(reason)
	l.open.Store(false)
}

func (l *Latch) Probe() CheckFunc {
	return func(context.Context) error {
		if l.open.Load() {
			return nil
		}
		r, _ := l.reason.Load().(string)
		if r == "" {
			r = "not ready"
		}
		return xerrors.New(r)
	}
}
