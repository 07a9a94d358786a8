// Package prof pushes continuous profiles to Pyroscope for the lifetime of
// one run.
package prof

import (
	"context"
	"net/url"
	"runtime"
	"time"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/linnemanlabs-docs/internal/log"
	"github.com/keithlinneman/linnemanlabs-docs/internal/xerrors"
)

// DefaultUploadRate is shorter than the pyroscope default, runs last seconds
const DefaultUploadRate = 5 * time.Second

type Options struct {
	Enabled       bool
	AppName       string
	ServerAddress string
	TenantID      string
	Tags          map[string]string
	UploadRate    time.Duration

	// ProfileMutexFraction and BlockProfileRate enable the runtime mutex
	// and block profiles when > 0
	ProfileMutexFraction int
	BlockProfileRate     int

	// OnActive is called with true once the profiler runs and false after stop
	OnActive func(bool)
}

// Start launches the profiler. The returned stop func is never nil and is
// safe to call more than once.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx)
	noop := func() {}

	if !opts.Enabled {
		L.Debug(ctx, "pyroscope disabled")
		return noop, nil
	}
	if u, err := url.Parse(opts.ServerAddress); err != nil || u.Scheme == "" || u.Host == "" {
		err := xerrors.Newf("invalid server address (%q)", opts.ServerAddress)
		L.Error(ctx, err, "pyroscope options")
		return noop, err
	}
	if opts.UploadRate <= 0 {
		opts.UploadRate = DefaultUploadRate
	}

	types := []pyroscope.ProfileType{
		pyroscope.ProfileCPU,
		pyroscope.ProfileAllocObjects,
		pyroscope.ProfileAllocSpace,
		pyroscope.ProfileInuseSpace,
		pyroscope.ProfileGoroutines,
	}
	if opts.ProfileMutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.ProfileMutexFraction)
		types = append(types, pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration)
	}
	if opts.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockProfileRate)
		types = append(types, pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration)
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: opts.AppName,
		ServerAddress:   opts.ServerAddress,
		TenantID:        opts.TenantID,
		Tags:            opts.Tags,
		UploadRate:      opts.UploadRate,
		ProfileTypes:    types,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed",
			"server_address", opts.ServerAddress,
			"app_name", opts.AppName,
		)
		return noop, err
	}
	if opts.OnActive != nil {
		opts.OnActive(true)
	}
	L.Info(ctx, "pyroscope started",
		"server_address", opts.ServerAddress,
		"app_name", opts.AppName,
	)

	stopped := false
	return func() {
		if stopped {
			return
		}
		stopped = true
		// Stop uploads the last partial window before returning
		profiler.Stop()
		if opts.OnActive != nil {
			opts.OnActive(false)
		}
		L.Info(context.Background(), "pyroscope stopped", "app_name", opts.AppName)
	}, nil
}
