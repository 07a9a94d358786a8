// Package opshttp serves the job's operational endpoints while it runs:
// health, readiness, Prometheus metrics and optionally pprof.
package opshttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-docs/internal/log"
	"github.com/keithlinneman/linnemanlabs-docs/internal/xerrors"
)

// NewHandler builds the ops router.
func NewHandler(opts *Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/-/healthy", probeHandler(opts.Health, "ok"))
	r.Get("/-/ready", probeHandler(opts.Readiness, "ready"))

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	// pprof stays off the router entirely unless asked for, so /debug is a 404
	if opts.EnablePprof {
		r.Mount("/debug", middleware.Profiler())
	}

	return otelhttp.NewHandler(r, "ops.http",
		otelhttp.WithFilter(func(req *http.Request) bool { return traced(req.URL.Path) }),
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + req.URL.Path
		}),
	)
}

// traced skips probe and scrape traffic, which would otherwise dominate
// the traces of a short run.
func traced(p string) bool {
	switch p {
	case "/-/healthy", "/-/ready", "/metrics":
		return false
	}
	return true
}

// Start serves NewHandler(opts) on opts.Port and returns stop(ctx) for
// graceful shutdown. stop is safe to call more than once.
func Start(ctx context.Context, L log.Logger, opts *Options) (func(context.Context) error, error) {
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := fmt.Sprintf(":%d", port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// pprof profile captures default to 30s
		WriteTimeout:   40 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "could not listen for admin port on addr=%v", addr)
	}

	go func() {
		L.Info(ctx, "ops http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			L.Error(ctx, err, "ops http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			L.Info(sctx, "ops http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
